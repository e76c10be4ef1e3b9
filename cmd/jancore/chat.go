package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/janhq/jan-core/internal/approval"
	"github.com/janhq/jan-core/internal/completion"
)

// lineReader owns stdin. All interactive reads (the main loop, approval
// prompts, recovery prompts) consume from the same channel, so a prompt
// abandoned by cancellation never swallows the next typed line.
type lineReader struct {
	lines chan string
	err   error
}

func newLineReader(r io.Reader) *lineReader {
	lr := &lineReader{lines: make(chan string)}
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lr.lines <- scanner.Text()
		}
		lr.err = scanner.Err()
		close(lr.lines)
	}()
	return lr
}

// read returns the next line, or ok=false on EOF or context cancellation.
func (lr *lineReader) read(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-lr.lines:
		return line, ok
	}
}

// runChat starts the interactive chat loop on the terminal.
func runChat(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	providerName := providerFlag
	if providerName == "" {
		providerName = a.Config.Completion.DefaultProvider
	}
	modelID := modelFlag
	if modelID == "" {
		modelID = a.Config.Completion.DefaultModel
	}

	assistant := pickAssistant(a.Config.Assistants, assistantID)
	input := newLineReader(os.Stdin)

	a.Approval.SetPromptHandler(func(ctx context.Context, req *approval.Request) (approval.Decision, error) {
		fmt.Printf("\nallow tool %q? [y]es / [a]lways for this thread / [n]o / ne[v]er for this thread: ", req.ToolName)
		line, ok := input.read(ctx)
		if !ok {
			if ctx.Err() != nil {
				return approval.DecisionDeny, ctx.Err()
			}
			return approval.DecisionDeny, nil
		}
		return parseApproval(line), nil
	})

	a.Controller.SetRecoveryPrompter(func(ctx context.Context, cause error) (completion.RecoveryChoice, error) {
		fmt.Printf("\nthe conversation no longer fits the model's context window.\n")
		fmt.Print("[1] increase context length and retry / [2] enable context shifting and retry / [enter] give up: ")
		line, ok := input.read(ctx)
		if !ok {
			if ctx.Err() != nil {
				return completion.RecoveryDecline, ctx.Err()
			}
			return completion.RecoveryDecline, nil
		}
		return parseRecovery(line), nil
	})

	// Stream deltas as they arrive; snapshots carry the full accumulated
	// text, so only the new suffix is printed.
	printed := 0
	a.Controller.SetOnContent(func(sc completion.StreamingContent) {
		if len(sc.Text) < printed {
			printed = 0
			return
		}
		fmt.Print(sc.Text[printed:])
		printed = len(sc.Text)
	})
	a.Controller.SetOnModelLoading(func(loading bool) {
		if loading {
			fmt.Println("loading model...")
		}
	})

	fmt.Printf("jancore %s - type a message, /quit to exit\n", version)

	threadID := ""
	for {
		fmt.Print("> ")
		line, ok := input.read(ctx)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			return input.err
		}
		line = strings.TrimSpace(line)
		if line == "/quit" || line == "/exit" {
			return nil
		}

		printed = 0
		msg, err := a.Controller.SendMessage(ctx, completion.SendOptions{
			ThreadID:     threadID,
			ProviderName: providerName,
			ModelID:      modelID,
			Assistant:    assistant,
			Text:         line,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if msg == nil {
			continue
		}
		threadID = msg.ThreadID
		fmt.Println()
		if msg.TokenSpeed != nil && msg.TokenSpeed.TokenCount > 0 {
			fmt.Printf("(%d tokens, %.1f tok/s)\n", msg.TokenSpeed.TokenCount, msg.TokenSpeed.TokensPerSecond)
		}
	}
}

func pickAssistant(assistants []completion.Assistant, id string) *completion.Assistant {
	if id == "" {
		return nil
	}
	for i := range assistants {
		if assistants[i].ID == id {
			return &assistants[i]
		}
	}
	fmt.Fprintf(os.Stderr, "warning: assistant %q not found\n", id)
	return nil
}

func parseApproval(line string) approval.Decision {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return approval.DecisionAllow
	case "a", "always":
		return approval.DecisionAllowThread
	case "v", "never":
		return approval.DecisionDenyThread
	default:
		return approval.DecisionDeny
	}
}

func parseRecovery(line string) completion.RecoveryChoice {
	switch strings.TrimSpace(line) {
	case "1":
		return completion.RecoveryIncreaseContext
	case "2":
		return completion.RecoveryContextShift
	default:
		return completion.RecoveryDecline
	}
}
