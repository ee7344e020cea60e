package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TaterTotterson/Tater/internal/engine"
	"github.com/TaterTotterson/Tater/internal/llm"
	"github.com/TaterTotterson/Tater/internal/memory"
	"github.com/TaterTotterson/Tater/internal/storage"
	"github.com/TaterTotterson/Tater/internal/toolreg"
)

// scriptedModel returns the next scripted step for each Decide call and
// records every request it saw.
type scriptedModel struct {
	mu       sync.Mutex
	steps    []func(llm.Request) (llm.Decision, error)
	requests []llm.Request
}

func (m *scriptedModel) Decide(_ context.Context, req llm.Request) (llm.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]engine.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	m.requests = append(m.requests, req)
	i := len(m.requests) - 1
	if i >= len(m.steps) {
		return m.steps[len(m.steps)-1](req)
	}
	return m.steps[i](req)
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func final(text string) func(llm.Request) (llm.Decision, error) {
	return func(llm.Request) (llm.Decision, error) { return &llm.FinalAnswer{Text: text}, nil }
}

func callTool(name string, args map[string]any) func(llm.Request) (llm.Decision, error) {
	return func(llm.Request) (llm.Decision, error) {
		return &llm.ToolCall{Name: name, Arguments: args}, nil
	}
}

func garbage(raw string) func(llm.Request) (llm.Decision, error) {
	return func(llm.Request) (llm.Decision, error) {
		return &llm.Malformed{Raw: raw, Err: &llm.ProtocolError{Reason: "undecodable tool call"}}, nil
	}
}

// fakeMemory keeps turns in a slice.
type fakeMemory struct {
	mu    sync.Mutex
	turns []storage.Turn
}

func (m *fakeMemory) Append(_ context.Context, conv string, t storage.Turn) (storage.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Conversation = conv
	t.ID = int64(len(m.turns) + 1)
	m.turns = append(m.turns, t)
	return t, nil
}

func (m *fakeMemory) Context(context.Context, string, string) (memory.Context, error) {
	return memory.Context{}, nil
}

func (m *fakeMemory) speakers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.turns))
	for i, t := range m.turns {
		out[i] = t.Speaker
	}
	return out
}

type fakeSettings struct {
	disabled map[string]bool
}

func (s *fakeSettings) ToolEnabled(_ context.Context, name string) bool { return !s.disabled[name] }
func (s *fakeSettings) Identity(context.Context) (string, string)         { return "Tater", "" }

type echoTool struct {
	calls atomic.Int32
}

func (e *echoTool) descriptor(platforms ...string) toolreg.Descriptor {
	return toolreg.Descriptor{
		Name:        "echo",
		Description: "Echo text back.",
		Parameters: &engine.Schema{
			Type:       "object",
			Properties: map[string]engine.SchemaProperty{"text": {Type: "string"}},
			Required:   []string{"text"},
		},
		Platforms: platforms,
		Handler: func(_ context.Context, inv toolreg.Invocation) (string, error) {
			e.calls.Add(1)
			return "echo: " + inv.Args.String("text"), nil
		},
	}
}

type harness struct {
	model    *scriptedModel
	memory   *fakeMemory
	settings *fakeSettings
	tools    *toolreg.Registry
	engine   *Engine
}

func newHarness(t *testing.T, steps ...func(llm.Request) (llm.Decision, error)) *harness {
	t.Helper()
	h := &harness{
		model:    &scriptedModel{steps: steps},
		memory:   &fakeMemory{},
		settings: &fakeSettings{disabled: map[string]bool{}},
		tools:    toolreg.New(),
	}
	h.engine = New(h.model, h.tools, h.memory, h.settings, nil, Config{MaxIterations: 4, ToolTimeout: time.Second})
	return h
}

func (h *harness) run(t *testing.T, msg string) Result {
	t.Helper()
	res, err := h.engine.Run(context.Background(), Request{Platform: toolreg.PlatformWebUI, Channel: "main", User: "sam", Message: msg})
	require.NoError(t, err)
	return res
}

func lastContent(req llm.Request) string {
	return req.Messages[len(req.Messages)-1].Content
}

func containsMessage(req llm.Request, substr string) bool {
	for _, m := range req.Messages {
		if strings.Contains(m.Content, substr) {
			return true
		}
	}
	return false
}

func TestRun_FinalAnswer(t *testing.T) {
	h := newHarness(t, final("Hi there!"))
	res := h.run(t, "hello")

	assert.Equal(t, "Hi there!", res.Reply)
	assert.Equal(t, 1, res.Iterations)
	assert.Empty(t, res.ToolCalls)
	assert.Equal(t, []string{storage.SpeakerUser, storage.SpeakerAssistant}, h.memory.speakers())
	assert.Equal(t, "hello", lastContent(h.model.requests[0]))
}

func TestRun_ToolThenAnswer(t *testing.T) {
	echo := &echoTool{}
	h := newHarness(t, callTool("echo", map[string]any{"text": "ping"}), final("It said ping."))
	h.tools.MustRegister(echo.descriptor(toolreg.AllPlatforms))

	res := h.run(t, "echo ping")

	assert.Equal(t, "It said ping.", res.Reply)
	assert.Equal(t, 2, res.Iterations)
	assert.EqualValues(t, 1, echo.calls.Load())
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "echo", res.ToolCalls[0].Name)
	assert.Empty(t, res.ToolCalls[0].Error)

	require.Len(t, h.model.requests, 2)
	assert.Len(t, h.model.requests[0].Tools, 1)
	assert.Contains(t, lastContent(h.model.requests[1]), "echo: ping")
	assert.Equal(t, []string{
		storage.SpeakerUser, storage.SpeakerAssistant, storage.SpeakerTool, storage.SpeakerAssistant,
	}, h.memory.speakers())
}

func TestRun_NativeToolExchange(t *testing.T) {
	echo := &echoTool{}
	h := newHarness(t,
		func(llm.Request) (llm.Decision, error) {
			return &llm.ToolCall{ID: "call_9", Name: "echo", Arguments: map[string]any{"text": "x"}, Native: true}, nil
		},
		final("done"))
	h.tools.MustRegister(echo.descriptor(toolreg.AllPlatforms))

	h.run(t, "go")

	msgs := h.model.requests[1].Messages
	call, result := msgs[len(msgs)-2], msgs[len(msgs)-1]
	require.Len(t, call.ToolCalls, 1)
	assert.Equal(t, "call_9", call.ToolCalls[0].ID)
	assert.Equal(t, "tool", result.Role)
	assert.Equal(t, "call_9", result.ToolCallID)
	assert.Equal(t, "echo: x", result.Content)
}

func TestRun_MalformedThenValid(t *testing.T) {
	echo := &echoTool{}
	h := newHarness(t,
		garbage(`{"function": "echo", "arguments": {`),
		callTool("echo", map[string]any{"text": "a"}),
		final("All good."))
	h.tools.MustRegister(echo.descriptor(toolreg.AllPlatforms))

	res := h.run(t, "do it")

	assert.Equal(t, "All good.", res.Reply)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, llm.CorrectiveInstruction, lastContent(h.model.requests[1]))
	assert.False(t, containsMessage(h.model.requests[2], llm.CorrectiveInstruction),
		"corrective exchange should be dropped after recovery")
	assert.NotContains(t, res.Reply, "arguments")
}

func TestRun_MalformedTwiceFallsBackToRaw(t *testing.T) {
	h := newHarness(t, garbage("{oops"), garbage("{still broken"))
	res := h.run(t, "hm")

	assert.Equal(t, "{still broken", res.Reply)
	assert.Equal(t, 2, res.Iterations)
}

func TestRun_InvalidArgumentsNeverReachHandler(t *testing.T) {
	echo := &echoTool{}
	h := newHarness(t, callTool("echo", map[string]any{"text": 42.0}), final("Sorry."))
	h.tools.MustRegister(echo.descriptor(toolreg.AllPlatforms))

	res := h.run(t, "echo")

	assert.EqualValues(t, 0, echo.calls.Load())
	assert.Equal(t, "Sorry.", res.Reply)
	require.Len(t, res.ToolCalls, 1)
	assert.NotEmpty(t, res.ToolCalls[0].Error)
	assert.Contains(t, lastContent(h.model.requests[1]), "tool echo failed")
}

func TestRun_UnknownTool(t *testing.T) {
	h := newHarness(t, callTool("launch_rocket", nil), final("I can't do that."))
	res := h.run(t, "launch")

	assert.Equal(t, "I can't do that.", res.Reply)
	assert.Contains(t, lastContent(h.model.requests[1]), "tool launch_rocket failed")
}

func TestRun_DisabledToolNotOfferedNorExecuted(t *testing.T) {
	echo := &echoTool{}
	h := newHarness(t, callTool("echo", map[string]any{"text": "x"}), final("ok"))
	h.tools.MustRegister(echo.descriptor(toolreg.AllPlatforms))
	h.settings.disabled["echo"] = true

	h.run(t, "x")

	assert.Empty(t, h.model.requests[0].Tools)
	assert.EqualValues(t, 0, echo.calls.Load())
	assert.Contains(t, lastContent(h.model.requests[1]), "disabled")
}

func TestRun_ToolFilteredByPlatform(t *testing.T) {
	echo := &echoTool{}
	h := newHarness(t, callTool("echo", map[string]any{"text": "x"}), final("ok"))
	h.tools.MustRegister(echo.descriptor(toolreg.PlatformDiscord))

	h.run(t, "x")

	assert.Empty(t, h.model.requests[0].Tools)
	assert.EqualValues(t, 0, echo.calls.Load())
}

func TestRun_IterationCap(t *testing.T) {
	echo := &echoTool{}
	var n atomic.Int32
	h := newHarness(t, func(llm.Request) (llm.Decision, error) {
		i := n.Add(1)
		return &llm.ToolCall{Name: "echo", Arguments: map[string]any{"text": fmt.Sprint(i)}}, nil
	})
	h.tools.MustRegister(echo.descriptor(toolreg.AllPlatforms))

	res := h.run(t, "loop forever")

	assert.True(t, res.Incomplete)
	assert.Equal(t, 4, res.Iterations)
	assert.Equal(t, 4, h.model.calls())
	assert.True(t, strings.HasSuffix(res.Reply, IncompleteNotice))
	assert.Contains(t, res.Reply, "echo: 4")
}

func TestRun_RepeatedCallExecutesOnce(t *testing.T) {
	echo := &echoTool{}
	args := map[string]any{"text": "same"}
	h := newHarness(t, callTool("echo", args), callTool("echo", args), final("done"))
	h.tools.MustRegister(echo.descriptor(toolreg.AllPlatforms))

	res := h.run(t, "x")

	assert.EqualValues(t, 1, echo.calls.Load())
	require.Len(t, res.ToolCalls, 2)
	assert.True(t, res.ToolCalls[1].Repeated)
	assert.Equal(t, "done", res.Reply)
}

func TestRun_ToolTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	h := newHarness(t, callTool("slow", nil), final("It timed out, sorry."))
	h.engine.cfg.ToolTimeout = 30 * time.Millisecond
	h.tools.MustRegister(toolreg.Descriptor{
		Name:      "slow",
		Platforms: []string{toolreg.AllPlatforms},
		Handler: func(context.Context, toolreg.Invocation) (string, error) {
			<-release
			return "too late", nil
		},
	})

	res := h.run(t, "slow please")

	assert.Equal(t, "It timed out, sorry.", res.Reply)
	require.Len(t, res.ToolCalls, 1)
	assert.Contains(t, res.ToolCalls[0].Error, "timeout")
	assert.Contains(t, lastContent(h.model.requests[1]), "timeout")
}

func TestRun_CancelledDuringToolDiscardsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, callTool("hangup", nil), final("unreachable"))
	h.tools.MustRegister(toolreg.Descriptor{
		Name:      "hangup",
		Platforms: []string{toolreg.AllPlatforms},
		Handler: func(context.Context, toolreg.Invocation) (string, error) {
			cancel()
			return "result nobody sees", nil
		},
	})

	_, err := h.engine.Run(ctx, Request{Platform: toolreg.PlatformWebUI, Channel: "c", Message: "bye"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.model.calls())
	assert.Equal(t, []string{storage.SpeakerUser}, h.memory.speakers())
}

func TestRun_ModelUnavailable(t *testing.T) {
	h := newHarness(t, func(llm.Request) (llm.Decision, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	res := h.run(t, "hello?")
	assert.Equal(t, ModelUnavailable, res.Reply)
}

func TestRun_HandlerPanicBecomesToolError(t *testing.T) {
	h := newHarness(t, callTool("boom", nil), final("That broke."))
	h.tools.MustRegister(toolreg.Descriptor{
		Name:      "boom",
		Platforms: []string{toolreg.AllPlatforms},
		Handler:   func(context.Context, toolreg.Invocation) (string, error) { panic("kaboom") },
	})

	res := h.run(t, "x")
	assert.Equal(t, "That broke.", res.Reply)
	assert.Contains(t, res.ToolCalls[0].Error, "kaboom")
}

func TestRun_ConcurrentRunsIndependent(t *testing.T) {
	echo := &echoTool{}
	h := newHarness(t, func(req llm.Request) (llm.Decision, error) {
		if strings.HasPrefix(lastContent(req), "[Result of tool echo]") {
			return &llm.FinalAnswer{Text: "ok"}, nil
		}
		return &llm.ToolCall{Name: "echo", Arguments: map[string]any{"text": lastContent(req)}}, nil
	})
	h.tools.MustRegister(echo.descriptor(toolreg.AllPlatforms))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.engine.Run(context.Background(), Request{Channel: fmt.Sprint(i), Message: fmt.Sprint("m", i)})
			assert.NoError(t, err)
			assert.Equal(t, "ok", res.Reply)
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 10, echo.calls.Load())
}

func TestRequest_Conversation(t *testing.T) {
	assert.Equal(t, "discord:123", Request{Platform: "discord", Channel: "123"}.Conversation())
}
