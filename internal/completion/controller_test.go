package completion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janhq/jan-core/internal/approval"
	"github.com/janhq/jan-core/internal/mcp"
	"github.com/janhq/jan-core/internal/provider"
	"github.com/janhq/jan-core/internal/threads"
	"github.com/janhq/jan-core/internal/transport"
)

type memStore struct {
	mu       sync.Mutex
	seq      int
	threads  map[string]*threads.Thread
	messages map[string][]*threads.Message
}

func newMemStore() *memStore {
	return &memStore{
		threads:  make(map[string]*threads.Thread),
		messages: make(map[string][]*threads.Message),
	}
}

func (s *memStore) CreateThread(t *threads.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		s.seq++
		t.ID = fmt.Sprintf("thread-%d", s.seq)
	}
	s.threads[t.ID] = t
	return nil
}

func (s *memStore) GetThread(id string) (*threads.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, errors.New("no such thread")
	}
	return t, nil
}

func (s *memStore) UpdateThreadTimestamp(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[id]; ok {
		t.UpdatedAt = at
	}
	return nil
}

func (s *memStore) AddMessage(m *threads.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		s.seq++
		m.ID = fmt.Sprintf("msg-%d", s.seq)
	}
	s.messages[m.ThreadID] = append(s.messages[m.ThreadID], m)
	return nil
}

func (s *memStore) GetMessages(threadID string) ([]*threads.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*threads.Message(nil), s.messages[threadID]...), nil
}

type roundTrip struct {
	res *transport.Result
	err error
}

type fakeTransport struct {
	mu       sync.Mutex
	requests []*transport.Request
	script   []roundTrip

	// streamHook, when set, drives delta emission for streaming rounds.
	streamHook func(ctx context.Context, onDelta func(transport.Delta))
}

func (f *fakeTransport) next(req *transport.Request) (*transport.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.script) == 0 {
		return &transport.Result{Text: "ok"}, nil
	}
	step := f.script[0]
	f.script = f.script[1:]
	return step.res, step.err
}

func (f *fakeTransport) Complete(_ context.Context, req *transport.Request) (*transport.Result, error) {
	return f.next(req)
}

func (f *fakeTransport) StreamCompletion(ctx context.Context, req *transport.Request, onDelta func(transport.Delta)) (*transport.Result, error) {
	res, err := f.next(req)
	if err != nil {
		return nil, err
	}
	if f.streamHook != nil {
		f.streamHook(ctx, onDelta)
	} else {
		onDelta(transport.Delta{Text: res.Text})
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return res, nil
}

func (f *fakeTransport) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeTransport) request(i int) *transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

type fakeLifecycle struct {
	mu      sync.Mutex
	started []string
	stopAll int
}

func (f *fakeLifecycle) StartModel(_ context.Context, _ *provider.Provider, modelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, modelID)
	return nil
}

func (f *fakeLifecycle) StopModel(context.Context, *provider.Provider, string) error { return nil }

func (f *fakeLifecycle) StopAllModels(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopAll++
	return nil
}

func (f *fakeLifecycle) Running(context.Context) ([]string, error) { return nil, nil }

type fakeCatalog struct {
	mu     sync.Mutex
	tools  []mcp.Tool
	calls  []string
	output map[string]string
	err    error
}

func (f *fakeCatalog) Tools() []mcp.Tool { return f.tools }

func (f *fakeCatalog) CallTool(_ context.Context, name string, _ map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.err != nil {
		return "", f.err
	}
	return f.output[name], nil
}

func testProviderStore(t *testing.T, models ...provider.Model) *provider.Store {
	t.Helper()
	if len(models) == 0 {
		models = []provider.Model{{
			ID:           "qwen3",
			Capabilities: []provider.Capability{provider.CapCompletion, provider.CapTools},
			Settings: []provider.Setting{
				provider.NumberSetting(provider.KeyContextLength, 8192),
				provider.BoolSetting(provider.KeyStream, false),
				provider.NumberSetting(provider.KeyTemperature, 0.7),
			},
		}}
	}
	store := provider.NewStore(filepath.Join(t.TempDir(), "providers.yaml"))
	store.Put(&provider.Provider{Name: "llamacpp", Active: true, Models: models})
	return store
}

type fixture struct {
	controller *Controller
	transport  *fakeTransport
	lifecycle  *fakeLifecycle
	store      *memStore
	providers  *provider.Store
	catalog    *fakeCatalog
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		transport: &fakeTransport{},
		lifecycle: &fakeLifecycle{},
		store:     newMemStore(),
		providers: testProviderStore(t),
		catalog:   &fakeCatalog{output: map[string]string{}},
	}
	recovery := NewRecovery(f.providers, f.lifecycle, time.Millisecond)
	f.controller = NewController(
		cfg,
		f.transport,
		f.lifecycle,
		f.providers,
		f.store,
		f.catalog,
		approval.NewManager(true),
		nil,
		recovery,
		nil,
	)
	return f
}

func TestSendMessageEmptyTextIsNoOp(t *testing.T) {
	f := newFixture(t, Config{})

	msg, err := f.controller.SendMessage(context.Background(), SendOptions{Text: "   "})

	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Zero(t, f.transport.requestCount())
}

func TestSendMessageWithoutModelOrThreadFails(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.controller.SendMessage(context.Background(), SendOptions{Text: "hello"})

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CodeNoModelSelected, cerr.Code)
}

func TestSendMessageCreatesThreadAndPersistsBothSides(t *testing.T) {
	f := newFixture(t, Config{})
	f.transport.script = []roundTrip{{res: &transport.Result{Text: "hi there", CompletionTokens: 4}}}

	msg, err := f.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "llamacpp",
		ModelID:      "qwen3",
		Text:         "hello",
	})

	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hi there", msg.Text)
	require.NotNil(t, msg.TokenSpeed)
	assert.Equal(t, 4, msg.TokenSpeed.TokenCount)

	stored, err := f.store.GetMessages(msg.ThreadID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, threads.RoleUser, stored[0].Role)
	assert.Equal(t, threads.RoleAssistant, stored[1].Role)

	thread, err := f.store.GetThread(msg.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "hello", thread.Title)
	assert.Equal(t, []string{"qwen3"}, f.lifecycle.started)
}

func TestSendMessageUnknownProvider(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "missing",
		ModelID:      "qwen3",
		Text:         "hello",
	})

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CodeUnknownProvider, cerr.Code)
}

func TestSendMessageMergesSettingsAssistantWins(t *testing.T) {
	f := newFixture(t, Config{})
	assistant := &Assistant{
		ID:           "writer",
		Instructions: "Be brief.",
		Parameters:   map[string]any{provider.KeyTemperature: 0.2},
	}

	_, err := f.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "llamacpp",
		ModelID:      "qwen3",
		Assistant:    assistant,
		Text:         "hello",
	})
	require.NoError(t, err)

	req := f.transport.request(0)
	assert.Equal(t, 0.2, req.Settings[provider.KeyTemperature])
	// Load-time keys never travel on the request.
	assert.NotContains(t, req.Settings, provider.KeyContextLength)
	assert.NotContains(t, req.Settings, provider.KeyGPULayers)
	// Instructions lead the outgoing transcript.
	require.NotNil(t, req.Messages[0].OfSystem)
}

func TestSendMessageOffersToolsOnlyWithExperimentalFlag(t *testing.T) {
	catalogTools := []mcp.Tool{{Name: "search", Description: "web search"}}

	off := newFixture(t, Config{ExperimentalFeatures: false})
	off.catalog.tools = catalogTools
	_, err := off.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "llamacpp", ModelID: "qwen3", Text: "hello",
	})
	require.NoError(t, err)
	assert.Empty(t, off.transport.request(0).Tools)

	on := newFixture(t, Config{ExperimentalFeatures: true})
	on.catalog.tools = catalogTools
	_, err = on.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "llamacpp", ModelID: "qwen3", Text: "hello",
	})
	require.NoError(t, err)
	assert.Len(t, on.transport.request(0).Tools, 1)
}

func TestSendMessageToolRoundTrip(t *testing.T) {
	f := newFixture(t, Config{ExperimentalFeatures: true, FollowUpToolCalls: true})
	f.catalog.tools = []mcp.Tool{{Name: "clock"}}
	f.catalog.output["clock"] = "12:00"
	f.transport.script = []roundTrip{
		{res: &transport.Result{ToolCalls: []threads.ToolCall{
			{ID: "call-1", Name: "clock", Arguments: "{}", State: threads.ToolCallPending},
		}}},
		{res: &transport.Result{Text: "It is noon."}},
	}

	msg, err := f.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "llamacpp", ModelID: "qwen3", Text: "what time is it?",
	})

	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "It is noon.", msg.Text)
	assert.Equal(t, []string{"clock"}, f.catalog.calls)
	require.Equal(t, 2, f.transport.requestCount())

	// Round two carries the assistant tool call and its tool-role result.
	second := f.transport.request(1)
	msgs := second.Messages
	require.Len(t, msgs, 3)
	require.NotNil(t, msgs[1].OfAssistant)
	require.NotNil(t, msgs[2].OfTool)
	assert.Equal(t, "call-1", msgs[2].OfTool.ToolCallID)

	stored, err := f.store.GetMessages(msg.ThreadID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	require.Len(t, stored[1].ToolCalls, 1)
	assert.Equal(t, threads.ToolCallExecuted, stored[1].ToolCalls[0].State)
	assert.Equal(t, "12:00", stored[1].ToolCalls[0].Result)
}

func TestSendMessageFollowUpDisabledStopsAfterOneRound(t *testing.T) {
	f := newFixture(t, Config{ExperimentalFeatures: true, FollowUpToolCalls: false})
	f.catalog.tools = []mcp.Tool{{Name: "clock"}}
	f.catalog.output["clock"] = "12:00"
	f.transport.script = []roundTrip{
		{res: &transport.Result{ToolCalls: []threads.ToolCall{
			{ID: "call-1", Name: "clock", Arguments: "{}", State: threads.ToolCallPending},
		}}},
	}

	msg, err := f.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "llamacpp", ModelID: "qwen3", Text: "what time is it?",
	})

	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, 1, f.transport.requestCount())
	assert.Equal(t, []string{"clock"}, f.catalog.calls)
}

func TestSendMessageDeniedToolRecordsDenial(t *testing.T) {
	f := newFixture(t, Config{ExperimentalFeatures: true, FollowUpToolCalls: true})
	// No prompt handler and allow-all off: every call is denied.
	f.controller.approver = approval.NewManager(false)
	f.catalog.tools = []mcp.Tool{{Name: "rm"}}
	f.transport.script = []roundTrip{
		{res: &transport.Result{ToolCalls: []threads.ToolCall{
			{ID: "call-1", Name: "rm", Arguments: "{}", State: threads.ToolCallPending},
		}}},
		{res: &transport.Result{Text: "I could not run that."}},
	}

	msg, err := f.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "llamacpp", ModelID: "qwen3", Text: "delete everything",
	})

	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Empty(t, f.catalog.calls)

	stored, err := f.store.GetMessages(msg.ThreadID)
	require.NoError(t, err)
	require.Len(t, stored[1].ToolCalls, 1)
	assert.Equal(t, threads.ToolCallDenied, stored[1].ToolCalls[0].State)

	// The wire transcript still pairs the call with a tool-role entry.
	second := f.transport.request(1)
	require.NotNil(t, second.Messages[2].OfTool)
}

func TestSendMessageRecoversByIncreasingContextLength(t *testing.T) {
	f := newFixture(t, Config{})
	overflow := fmt.Errorf("completion: %w", transport.ErrContextExceeded)
	f.transport.script = []roundTrip{
		{err: overflow},
		{res: &transport.Result{Text: "recovered answer"}},
	}
	f.controller.SetRecoveryPrompter(func(context.Context, error) (RecoveryChoice, error) {
		return RecoveryIncreaseContext, nil
	})

	msg, err := f.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "llamacpp", ModelID: "qwen3", Text: "long prompt",
	})

	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "recovered answer", msg.Text)

	// 8192 is below the floor, so the floor doubles: 16384 -> 32768.
	p, ok := f.providers.Get("llamacpp")
	require.True(t, ok)
	model, ok := p.Model("qwen3")
	require.True(t, ok)
	assert.Equal(t, 32768, model.ContextLength())

	// The model was restarted and the retry reused the unchanged transcript.
	assert.Equal(t, 1, f.lifecycle.stopAll)
	require.Equal(t, 2, f.transport.requestCount())
	assert.Equal(t, len(f.transport.request(0).Messages), len(f.transport.request(1).Messages))
}

func TestSendMessageDeclinedRecoveryReturnsOriginalError(t *testing.T) {
	f := newFixture(t, Config{})
	overflow := fmt.Errorf("completion: %w", transport.ErrContextExceeded)
	f.transport.script = []roundTrip{{err: overflow}}
	f.controller.SetRecoveryPrompter(func(context.Context, error) (RecoveryChoice, error) {
		return RecoveryDecline, nil
	})

	_, err := f.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "llamacpp", ModelID: "qwen3", Text: "long prompt",
	})

	require.ErrorIs(t, err, transport.ErrContextExceeded)
	assert.Equal(t, 1, f.transport.requestCount())

	// Declining mutates nothing.
	p, _ := f.providers.Get("llamacpp")
	model, _ := p.Model("qwen3")
	assert.Equal(t, 8192, model.ContextLength())
	assert.Zero(t, f.lifecycle.stopAll)
}

func TestSendMessageCancelledDuringRecoveryPromptExitsQuietly(t *testing.T) {
	f := newFixture(t, Config{})
	thread := &threads.Thread{ID: "thread-x", ProviderName: "llamacpp", ModelID: "qwen3"}
	require.NoError(t, f.store.CreateThread(thread))

	overflow := fmt.Errorf("completion: %w", transport.ErrContextExceeded)
	f.transport.script = []roundTrip{{err: overflow}}
	f.controller.SetRecoveryPrompter(func(ctx context.Context, _ error) (RecoveryChoice, error) {
		f.controller.Cancel("thread-x")
		<-ctx.Done()
		return RecoveryDecline, ctx.Err()
	})

	msg, err := f.controller.SendMessage(context.Background(), SendOptions{
		ThreadID: "thread-x", Text: "long prompt",
	})

	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestSendMessageCancelledDuringRecoveryRestartExitsQuietly(t *testing.T) {
	f := newFixture(t, Config{})
	thread := &threads.Thread{ID: "thread-x", ProviderName: "llamacpp", ModelID: "qwen3"}
	require.NoError(t, f.store.CreateThread(thread))

	overflow := fmt.Errorf("completion: %w", transport.ErrContextExceeded)
	f.transport.script = []roundTrip{{err: overflow}}
	f.controller.SetRecoveryPrompter(func(ctx context.Context, _ error) (RecoveryChoice, error) {
		// Abort before the policy runs; the restart's settle wait observes it.
		f.controller.Cancel("thread-x")
		<-ctx.Done()
		return RecoveryIncreaseContext, nil
	})

	msg, err := f.controller.SendMessage(context.Background(), SendOptions{
		ThreadID: "thread-x", Text: "long prompt",
	})

	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestSendMessageRecoversOnlyOnce(t *testing.T) {
	f := newFixture(t, Config{})
	overflow := fmt.Errorf("completion: %w", transport.ErrContextExceeded)
	f.transport.script = []roundTrip{{err: overflow}, {err: overflow}}
	f.controller.SetRecoveryPrompter(func(context.Context, error) (RecoveryChoice, error) {
		return RecoveryIncreaseContext, nil
	})

	_, err := f.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "llamacpp", ModelID: "qwen3", Text: "long prompt",
	})

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, CodeCompletionFailed, cerr.Code)
	assert.Equal(t, 2, f.transport.requestCount())
}

func TestSendMessageStreamingPublishesFreshSnapshots(t *testing.T) {
	f := newFixture(t, Config{})
	f.transport.script = []roundTrip{{res: &transport.Result{Text: "ab"}}}
	f.transport.streamHook = func(_ context.Context, onDelta func(transport.Delta)) {
		onDelta(transport.Delta{Text: "a"})
		onDelta(transport.Delta{Text: "b"})
	}

	var snapshots []StreamingContent
	f.controller.SetOnContent(func(sc StreamingContent) {
		snapshots = append(snapshots, sc)
	})

	assistant := &Assistant{Parameters: map[string]any{provider.KeyStream: true}}
	msg, err := f.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "llamacpp", ModelID: "qwen3", Assistant: assistant, Text: "hello",
	})

	require.NoError(t, err)
	require.NotNil(t, msg)

	var texts []string
	for _, sc := range snapshots {
		texts = append(texts, sc.Text)
	}
	// Two growing deltas, the final snapshot, then the cleanup snapshot.
	assert.Equal(t, []string{"a", "ab", "ab", ""}, texts)
}

func TestSendMessageStreamingPublishesToolCallFragments(t *testing.T) {
	f := newFixture(t, Config{})
	f.transport.script = []roundTrip{{res: &transport.Result{Text: "done"}}}
	f.transport.streamHook = func(_ context.Context, onDelta func(transport.Delta)) {
		onDelta(transport.Delta{ToolCalls: []threads.ToolCall{
			{ID: "call-1", Name: "clock", State: threads.ToolCallPending},
		}})
		onDelta(transport.Delta{Text: "done", ToolCalls: []threads.ToolCall{
			{ID: "call-1", Name: "clock", Arguments: "{}", State: threads.ToolCallPending},
		}})
	}

	var snapshots []StreamingContent
	f.controller.SetOnContent(func(sc StreamingContent) {
		snapshots = append(snapshots, sc)
	})

	assistant := &Assistant{Parameters: map[string]any{provider.KeyStream: true}}
	_, err := f.controller.SendMessage(context.Background(), SendOptions{
		ProviderName: "llamacpp", ModelID: "qwen3", Assistant: assistant, Text: "what time is it?",
	})
	require.NoError(t, err)

	// Fragments surface live, not only in the post-round snapshot.
	require.GreaterOrEqual(t, len(snapshots), 2)
	require.Len(t, snapshots[0].ToolCalls, 1)
	assert.Equal(t, "clock", snapshots[0].ToolCalls[0].Name)
	require.Len(t, snapshots[1].ToolCalls, 1)
	assert.Equal(t, "{}", snapshots[1].ToolCalls[0].Arguments)
}

func TestSendMessageCancelledMidStreamPersistsNothing(t *testing.T) {
	f := newFixture(t, Config{})
	thread := &threads.Thread{ID: "thread-x", ProviderName: "llamacpp", ModelID: "qwen3"}
	require.NoError(t, f.store.CreateThread(thread))

	f.transport.script = []roundTrip{{res: &transport.Result{Text: "partial answer"}}}
	f.transport.streamHook = func(ctx context.Context, onDelta func(transport.Delta)) {
		onDelta(transport.Delta{Text: "partial"})
		f.controller.Cancel("thread-x")
		<-ctx.Done()
		onDelta(transport.Delta{Text: " answer"})
	}

	var published []string
	f.controller.SetOnContent(func(sc StreamingContent) {
		published = append(published, sc.Text)
	})

	assistant := &Assistant{Parameters: map[string]any{provider.KeyStream: true}}
	msg, err := f.controller.SendMessage(context.Background(), SendOptions{
		ThreadID: "thread-x", Assistant: assistant, Text: "hello",
	})

	require.NoError(t, err)
	assert.Nil(t, msg)

	// The user message persists; no partial assistant output does.
	stored, err := f.store.GetMessages("thread-x")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, threads.RoleUser, stored[0].Role)

	// Deltas after the abort are not published; cleanup clears the snapshot.
	assert.Equal(t, []string{"partial", ""}, published)
}

func TestSendMessageSupersedesActiveTurnForThread(t *testing.T) {
	f := newFixture(t, Config{})
	thread := &threads.Thread{ID: "thread-x", ProviderName: "llamacpp", ModelID: "qwen3"}
	require.NoError(t, f.store.CreateThread(thread))

	started := make(chan struct{})
	f.transport.script = []roundTrip{
		{res: &transport.Result{Text: "first"}},
		{res: &transport.Result{Text: "second"}},
	}
	f.transport.streamHook = func(ctx context.Context, onDelta func(transport.Delta)) {
		select {
		case started <- struct{}{}:
			// First turn: park until the second turn supersedes it.
			<-ctx.Done()
		default:
			onDelta(transport.Delta{Text: "second"})
		}
	}

	assistant := &Assistant{Parameters: map[string]any{provider.KeyStream: true}}
	done := make(chan struct{})
	go func() {
		defer close(done)
		msg, err := f.controller.SendMessage(context.Background(), SendOptions{
			ThreadID: "thread-x", Assistant: assistant, Text: "first prompt",
		})
		assert.NoError(t, err)
		assert.Nil(t, msg)
	}()

	<-started
	msg, err := f.controller.SendMessage(context.Background(), SendOptions{
		ThreadID: "thread-x", Assistant: assistant, Text: "second prompt",
	})
	<-done

	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "second", msg.Text)
}
