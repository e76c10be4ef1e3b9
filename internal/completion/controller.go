package completion

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"

	"github.com/janhq/jan-core/internal/events"
	"github.com/janhq/jan-core/internal/lifecycle"
	"github.com/janhq/jan-core/internal/logging"
	"github.com/janhq/jan-core/internal/mcp"
	"github.com/janhq/jan-core/internal/provider"
	"github.com/janhq/jan-core/internal/threads"
	"github.com/janhq/jan-core/internal/transport"
)

// ThreadStore is the persistence surface the controller drives.
type ThreadStore interface {
	CreateThread(t *threads.Thread) error
	GetThread(id string) (*threads.Thread, error)
	UpdateThreadTimestamp(id string, at time.Time) error
	AddMessage(m *threads.Message) error
	GetMessages(threadID string) ([]*threads.Message, error)
}

// ToolCatalog exposes the aggregated MCP tool catalog.
type ToolCatalog interface {
	Tools() []mcp.Tool
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Approver gates tool execution. Check may block on user input.
type Approver interface {
	Check(ctx context.Context, threadID, toolName string, params map[string]any) (bool, error)
}

// AvailabilityStore lists tools disabled for a thread.
type AvailabilityStore interface {
	DisabledForThread(threadID string) []string
}

// Config carries the controller's behavior toggles.
type Config struct {
	// ExperimentalFeatures must be on for any tools to be offered.
	ExperimentalFeatures bool

	// FollowUpToolCalls keeps the loop going after a round-trip with tool
	// calls. When off, the catalog is cleared and the turn ends after one
	// round.
	FollowUpToolCalls bool
}

// SendOptions describes one user-submitted prompt.
type SendOptions struct {
	// ThreadID selects an existing thread. Empty creates a new one bound to
	// ProviderName/ModelID.
	ThreadID     string
	ProviderName string
	ModelID      string
	Assistant    *Assistant
	Text         string
}

// Controller drives one user prompt through to a stable assistant response,
// including tool-call round-trips, context-overflow recovery, and
// cancellation.
type Controller struct {
	cfg          Config
	transport    transport.Transport
	lifecycle    lifecycle.Lifecycle
	providers    *provider.Store
	store        ThreadStore
	catalog      ToolCatalog
	approver     Approver
	availability AvailabilityStore
	recovery     *Recovery
	bus          *events.Bus
	aborts       *abortRegistry

	prompter       RecoveryPrompter
	onContent      func(StreamingContent)
	onModelLoading func(bool)
	onTokenSpeed   func(threads.TokenSpeed)
}

// NewController wires the completion loop with its collaborators. catalog,
// approver, availability, and bus may be nil; the corresponding features
// degrade to no tools / deny / nothing disabled / no events.
func NewController(
	cfg Config,
	tp transport.Transport,
	lc lifecycle.Lifecycle,
	providers *provider.Store,
	store ThreadStore,
	catalog ToolCatalog,
	approver Approver,
	availability AvailabilityStore,
	recovery *Recovery,
	bus *events.Bus,
) *Controller {
	return &Controller{
		cfg:          cfg,
		transport:    tp,
		lifecycle:    lc,
		providers:    providers,
		store:        store,
		catalog:      catalog,
		approver:     approver,
		availability: availability,
		recovery:     recovery,
		bus:          bus,
		aborts:       newAbortRegistry(),
	}
}

// SetRecoveryPrompter sets the callback that asks the user which recovery
// to apply on context overflow. Without one, overflows are not recovered.
func (c *Controller) SetRecoveryPrompter(p RecoveryPrompter) {
	c.prompter = p
}

// SetOnContent sets the live streaming-content callback.
func (c *Controller) SetOnContent(fn func(StreamingContent)) {
	c.onContent = fn
}

// SetOnModelLoading sets the model-loading indicator callback.
func (c *Controller) SetOnModelLoading(fn func(bool)) {
	c.onModelLoading = fn
}

// SetOnTokenSpeed sets the throughput telemetry callback.
func (c *Controller) SetOnTokenSpeed(fn func(threads.TokenSpeed)) {
	c.onTokenSpeed = fn
}

// Cancel aborts the active turn for a thread, if any. The cancelled turn
// exits quietly without persisting partial output.
func (c *Controller) Cancel(threadID string) {
	c.aborts.cancel(threadID)
}

// SendMessage runs one turn. It returns the final persisted assistant
// message, or (nil, nil) for the silent no-op and cancellation cases.
func (c *Controller) SendMessage(ctx context.Context, opts SendOptions) (*threads.Message, error) {
	if strings.TrimSpace(opts.Text) == "" {
		return nil, nil
	}

	thread, err := c.resolveThread(opts)
	if err != nil {
		return nil, err
	}

	// One outstanding request per thread: registering supersedes any turn
	// still running for it.
	ctx, release := c.aborts.register(ctx, thread.ID)
	defer release()

	defer func() {
		c.setModelLoading(false)
		c.publishContent(StreamingContent{ThreadID: thread.ID})
	}()

	prov, ok := c.providers.Get(thread.ProviderName)
	if !ok {
		return nil, newError(CodeUnknownProvider, "provider "+thread.ProviderName+" is not configured", nil)
	}
	model, ok := prov.Model(thread.ModelID)
	if !ok {
		return nil, newError(CodeNoModelSelected, "model "+thread.ModelID+" is not available", nil)
	}

	c.setModelLoading(true)
	if err := c.lifecycle.StartModel(ctx, prov, thread.ModelID); err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, newError(CodeModelStartFailed, "failed to load model "+thread.ModelID, err)
	}
	c.setModelLoading(false)

	// History is read before the new user message is persisted; the builder
	// receives the new text exactly once, on the first attempt.
	history, err := c.store.GetMessages(thread.ID)
	if err != nil {
		return nil, newError(CodeCompletionFailed, "failed to read thread history", err)
	}
	builder := NewMessageBuilder(history, instructionsOf(opts.Assistant))
	builder.AddUserMessage(opts.Text)

	userMsg := &threads.Message{ThreadID: thread.ID, Role: threads.RoleUser, Text: opts.Text}
	if err := c.store.AddMessage(userMsg); err != nil {
		return nil, newError(CodeCompletionFailed, "failed to persist message", err)
	}
	c.touch(thread.ID)

	settings := effectiveSettings(model, opts.Assistant)
	streaming := resolveStreaming(model, opts.Assistant)
	tools := c.toolParamsFor(thread.ID, model)

	return c.runLoop(ctx, thread, prov, builder, settings, tools, streaming)
}

// runLoop issues completion round-trips until a round returns no tool calls,
// the follow-up toggle short-circuits, the turn is cancelled, or an
// unrecoverable error surfaces.
func (c *Controller) runLoop(
	ctx context.Context,
	thread *threads.Thread,
	prov *provider.Provider,
	builder *MessageBuilder,
	settings map[string]any,
	tools []openai.ChatCompletionToolUnionParam,
	streaming bool,
) (*threads.Message, error) {
	var lastMsg *threads.Message
	recovered := false

	for {
		if ctx.Err() != nil {
			return nil, nil
		}

		req := &transport.Request{
			Provider: prov,
			ModelID:  thread.ModelID,
			Messages: builder.Messages(),
			Tools:    tools,
			Settings: settings,
		}

		tracker := newTokenSpeedTracker()
		result, err := c.complete(ctx, thread.ID, req, streaming, tracker)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			if transport.IsContextExceeded(err) && !recovered {
				refreshed, rerr := c.promptAndRecover(ctx, thread, err)
				if rerr != nil {
					// Cancelled while the prompt or the restart was pending:
					// exit quietly like every other cancellation point.
					if ctx.Err() != nil {
						return nil, nil
					}
					return nil, rerr
				}
				if refreshed != nil {
					prov = refreshed
					recovered = true
					// Retry with the unchanged message list.
					continue
				}
				// Declined: the original error stands.
				return nil, err
			}
			return nil, newError(CodeCompletionFailed, "completion request failed", err)
		}

		speed := tracker.snapshot(result.CompletionTokens)
		c.publishTokenSpeed(speed)

		calls := append([]threads.ToolCall(nil), result.ToolCalls...)
		c.publishContent(StreamingContent{
			ThreadID:  thread.ID,
			Text:      result.Text,
			ToolCalls: append([]threads.ToolCall(nil), calls...),
		})

		builder.AddAssistantMessage(result.Text, result.Refusal, calls)

		if len(calls) > 0 {
			if err := c.dispatchTools(ctx, thread.ID, builder, calls); err != nil {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, nil
			}
		}

		// The assistant message lands in the thread whatever the tool
		// outcomes were.
		msg := &threads.Message{
			ThreadID:   thread.ID,
			Role:       threads.RoleAssistant,
			Text:       result.Text,
			ToolCalls:  calls,
			TokenSpeed: &speed,
		}
		if err := c.store.AddMessage(msg); err != nil {
			return nil, newError(CodeCompletionFailed, "failed to persist message", err)
		}
		c.touch(thread.ID)
		lastMsg = msg

		if len(calls) == 0 {
			return lastMsg, nil
		}
		if !c.cfg.FollowUpToolCalls {
			// Follow-up disabled: stop after one round.
			return lastMsg, nil
		}
	}
}

// complete runs a single round-trip in the requested mode, publishing live
// snapshots and telemetry while streaming.
func (c *Controller) complete(
	ctx context.Context,
	threadID string,
	req *transport.Request,
	streaming bool,
	tracker *tokenSpeedTracker,
) (*transport.Result, error) {
	if !streaming {
		return c.transport.Complete(ctx, req)
	}

	var accumulated strings.Builder
	return c.transport.StreamCompletion(ctx, req, func(d transport.Delta) {
		if ctx.Err() != nil {
			// Cancelled: stop publishing, the loop exits on return.
			return
		}
		accumulated.WriteString(d.Text)
		tracker.observe()
		c.publishContent(StreamingContent{
			ThreadID:  threadID,
			Text:      accumulated.String(),
			ToolCalls: append([]threads.ToolCall(nil), d.ToolCalls...),
		})
		c.publishTokenSpeed(tracker.snapshot(0))
	})
}

// promptAndRecover asks the user to pick a recovery and applies it. It
// returns (nil, nil) when the user declines both options.
func (c *Controller) promptAndRecover(ctx context.Context, thread *threads.Thread, cause error) (*provider.Provider, error) {
	if c.prompter == nil || c.recovery == nil {
		return nil, nil
	}

	choice, err := c.prompter(ctx, cause)
	if err != nil {
		return nil, newError(CodeRecoveryFailed, "recovery prompt failed", err)
	}

	switch choice {
	case RecoveryIncreaseContext:
		refreshed, err := c.recovery.IncreaseContextLength(ctx, thread.ProviderName, thread.ModelID)
		if err != nil {
			return nil, newError(CodeRecoveryFailed, "failed to increase context length", err)
		}
		return refreshed, nil
	case RecoveryContextShift:
		refreshed, err := c.recovery.EnableContextShift(ctx, thread.ProviderName, thread.ModelID)
		if err != nil {
			return nil, newError(CodeRecoveryFailed, "failed to enable context shifting", err)
		}
		return refreshed, nil
	default:
		return nil, nil
	}
}

// dispatchTools resolves approval for each call in declaration order,
// executes the approved ones, and appends every outcome to the builder.
func (c *Controller) dispatchTools(ctx context.Context, threadID string, builder *MessageBuilder, calls []threads.ToolCall) error {
	for i := range calls {
		call := &calls[i]

		var args map[string]any
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				logging.Warn("tool call has malformed arguments", "tool", call.Name, "error", err)
				args = nil
			}
		}

		approved := false
		if c.approver != nil {
			var err error
			approved, err = c.approver.Check(ctx, threadID, call.Name, args)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logging.Warn("tool approval failed", "tool", call.Name, "error", err)
			}
		}

		if !approved {
			call.State = threads.ToolCallDenied
			call.Result = "The user denied this tool call."
			builder.AddToolResult(call.ID, call.Result)
			continue
		}

		call.State = threads.ToolCallApproved
		out, err := c.catalog.CallTool(ctx, call.Name, args)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			out = "error: " + err.Error()
		}
		call.State = threads.ToolCallExecuted
		call.Result = out
		builder.AddToolResult(call.ID, out)
	}
	return nil
}

func (c *Controller) resolveThread(opts SendOptions) (*threads.Thread, error) {
	if opts.ThreadID != "" {
		thread, err := c.store.GetThread(opts.ThreadID)
		if err != nil {
			return nil, newError(CodeCompletionFailed, "thread "+opts.ThreadID+" not found", err)
		}
		return thread, nil
	}

	if opts.ModelID == "" || opts.ProviderName == "" {
		return nil, newError(CodeNoModelSelected, "no model selected and no thread active", nil)
	}

	thread := &threads.Thread{
		Title:        titleFrom(opts.Text),
		ModelID:      opts.ModelID,
		ProviderName: opts.ProviderName,
	}
	if opts.Assistant != nil {
		thread.AssistantID = opts.Assistant.ID
	}
	if err := c.store.CreateThread(thread); err != nil {
		return nil, newError(CodeCompletionFailed, "failed to create thread", err)
	}
	logging.Info("thread created", "thread", thread.ID, "model", thread.ModelID, "provider", thread.ProviderName)
	return thread, nil
}

// toolParamsFor builds the offered catalog: experimental flag on, model
// advertises tool calling, and the thread's disabled tools filtered out.
func (c *Controller) toolParamsFor(threadID string, model *provider.Model) []openai.ChatCompletionToolUnionParam {
	if !c.cfg.ExperimentalFeatures || c.catalog == nil || !model.HasCapability(provider.CapTools) {
		return nil
	}

	disabled := make(map[string]bool)
	if c.availability != nil {
		for _, name := range c.availability.DisabledForThread(threadID) {
			disabled[name] = true
		}
	}

	var out []openai.ChatCompletionToolUnionParam
	for _, tool := range c.catalog.Tools() {
		if disabled[tool.Name] {
			continue
		}
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  openai.FunctionParameters(tool.InputSchema),
		}))
	}
	return out
}

func (c *Controller) touch(threadID string) {
	if err := c.store.UpdateThreadTimestamp(threadID, time.Now()); err != nil {
		logging.Warn("failed to touch thread", "thread", threadID, "error", err)
	}
}

func (c *Controller) publishContent(snapshot StreamingContent) {
	if c.onContent != nil {
		c.onContent(snapshot)
	}
}

func (c *Controller) publishTokenSpeed(speed threads.TokenSpeed) {
	if c.onTokenSpeed != nil {
		c.onTokenSpeed(speed)
	}
}

func (c *Controller) setModelLoading(loading bool) {
	if c.onModelLoading != nil {
		c.onModelLoading(loading)
	}
	if c.bus != nil {
		c.bus.Publish(events.TopicModelLoading, loading)
	}
}

// effectiveSettings merges model settings (minus the load-time keys handled
// by the lifecycle service) under assistant parameters; assistant wins.
func effectiveSettings(model *provider.Model, assistant *Assistant) map[string]any {
	out := make(map[string]any)
	for _, s := range model.Settings {
		if s.Key == provider.KeyContextLength || s.Key == provider.KeyGPULayers {
			continue
		}
		out[s.Key] = s.Value()
	}
	if assistant != nil {
		for k, v := range assistant.Parameters {
			out[k] = v
		}
	}
	return out
}

// resolveStreaming picks the response mode: assistant parameter first, then
// model setting, defaulting to streaming.
func resolveStreaming(model *provider.Model, assistant *Assistant) bool {
	def := true
	if s, ok := model.Setting(provider.KeyStream); ok && s.Kind == provider.KindBool {
		def = s.Bool
	}
	return assistant.BoolParameter(provider.KeyStream, def)
}

func instructionsOf(assistant *Assistant) string {
	if assistant == nil {
		return ""
	}
	return assistant.Instructions
}

func titleFrom(text string) string {
	title := strings.TrimSpace(text)
	if runes := []rune(title); len(runes) > 40 {
		title = string(runes[:40])
	}
	return title
}
