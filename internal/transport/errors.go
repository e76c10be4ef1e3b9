package transport

import (
	"errors"
	"fmt"
	"strings"
)

// ErrContextExceeded marks a completion failure caused by the request not
// fitting the model's context window. Recovery policies key off this error.
var ErrContextExceeded = errors.New("context length exceeded")

// contextMarkers are the known provider phrasings for a context overflow.
// llama.cpp, OpenAI-compatible servers and remote vendors each word it
// differently; matching is substring-based on the lowercased message.
var contextMarkers = []string{
	"context length exceeded",
	"context_length_exceeded",
	"exceeds the available context size",
	"maximum context length",
	"request too large",
}

// wrapCompletionError classifies a transport failure, tagging context
// overflows with ErrContextExceeded so callers can errors.Is on it.
func wrapCompletionError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range contextMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrContextExceeded, err)
		}
	}
	return err
}

// IsContextExceeded reports whether err is a context-overflow failure.
func IsContextExceeded(err error) bool {
	return errors.Is(err, ErrContextExceeded)
}
