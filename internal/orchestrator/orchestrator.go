package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/TaterTotterson/Tater/internal/composer"
	"github.com/TaterTotterson/Tater/internal/engine"
	"github.com/TaterTotterson/Tater/internal/llm"
	"github.com/TaterTotterson/Tater/internal/memory"
	"github.com/TaterTotterson/Tater/internal/storage"
	"github.com/TaterTotterson/Tater/internal/toolreg"
)

// User-visible fallbacks.
const (
	IncompleteNotice   = "I couldn't complete that."
	ModelUnavailable   = "Sorry, I can't reach my language model right now. Please try again in a moment."
	internalErrorReply = "Sorry, something went wrong while handling that."
)

// Decider asks the model for the next step. Implemented by llm.Client.
type Decider interface {
	Decide(ctx context.Context, req llm.Request) (llm.Decision, error)
}

// Memory is the transcript and recall the engine reads and extends.
// Implemented by memory.Manager.
type Memory interface {
	Append(ctx context.Context, conversation string, t storage.Turn) (storage.Turn, error)
	Context(ctx context.Context, conversation, query string) (memory.Context, error)
}

// Settings supplies runtime tool flags and the assistant identity.
// Implemented by settings.Manager.
type Settings interface {
	ToolEnabled(ctx context.Context, name string) bool
	Identity(ctx context.Context) (name, persona string)
}

// Config bounds a run.
type Config struct {
	MaxIterations int
	ToolTimeout   time.Duration
}

// Request is one incoming user turn.
type Request struct {
	Platform string
	Channel  string
	User     string
	Message  string
}

// Conversation is the memory key of the request: "<platform>:<channel>".
func (r Request) Conversation() string {
	return r.Platform + ":" + r.Channel
}

// ToolRun records one tool call made during a run.
type ToolRun struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Error     string         `json:"error,omitempty"`
	Repeated  bool           `json:"repeated,omitempty"`
}

// Result is the single response of a run.
type Result struct {
	Reply      string    `json:"reply"`
	ToolCalls  []ToolRun `json:"tool_calls"`
	Iterations int       `json:"iterations"`
	// Incomplete is set when the run hit the iteration cap.
	Incomplete bool `json:"incomplete,omitempty"`
}

// Engine runs the tool-calling loop for one user turn at a time. It holds no
// per-run state, so concurrent runs are independent.
type Engine struct {
	llm      Decider
	tools    *toolreg.Registry
	memory   Memory
	settings Settings
	composer *composer.Composer
	cfg      Config
	logger   *slog.Logger
}

// New creates an Engine. settings may be nil, in which case every tool is
// enabled.
func New(decider Decider, tools *toolreg.Registry, mem Memory, settings Settings, comp *composer.Composer, cfg Config) *Engine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 6
	}
	if comp == nil {
		comp = composer.New(0)
	}
	return &Engine{
		llm:      decider,
		tools:    tools,
		memory:   mem,
		settings: settings,
		composer: comp,
		cfg:      cfg,
		logger:   slog.Default(),
	}
}

type state int

const (
	awaitingModel state = iota
	modelResponded
	executingTool
	terminal
)

// run is the transient state of one Run call.
type run struct {
	req          Request
	conversation string
	specs        []engine.ToolSpec
	msgs         []engine.Message

	iterations int
	decision   llm.Decision
	retried    bool
	// retryMark is the transcript length before a corrective retry; the
	// malformed exchange is cut back out once the model recovers.
	retryMark int

	executed map[string]string
	partial  string
	result   Result
}

// Run handles one user turn and always produces exactly one reply. The only
// error returned is the context's, when the caller cancelled the run; the
// partial result is then discarded.
func (e *Engine) Run(ctx context.Context, req Request) (res Result, err error) {
	if req.Platform == "" {
		req.Platform = toolreg.PlatformWebUI
	}
	r := &run{
		req:          req,
		conversation: req.Conversation(),
		executed:     make(map[string]string),
	}

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("orchestrator panic", "conversation", r.conversation, "panic", p, "stack", string(debug.Stack()))
			res = Result{Reply: internalErrorReply, ToolCalls: r.result.ToolCalls, Iterations: r.iterations}
			err = nil
		}
	}()

	e.prepare(ctx, r)

	st := awaitingModel
	for st != terminal {
		switch st {
		case awaitingModel:
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			st = e.askModel(ctx, r)
		case modelResponded:
			st = e.handleDecision(ctx, r)
		case executingTool:
			st = e.executeTool(ctx, r)
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
	}

	r.result.Iterations = r.iterations
	if _, err := e.memory.Append(ctx, r.conversation, storage.Turn{
		Speaker: storage.SpeakerAssistant,
		Text:    r.result.Reply,
	}); err != nil {
		e.logger.Warn("storing reply failed", "conversation", r.conversation, "error", err)
	}
	e.logger.Debug("run finished", "conversation", r.conversation, "iterations", r.iterations,
		"tools", len(r.result.ToolCalls), "incomplete", r.result.Incomplete)
	return r.result, nil
}

// prepare loads context, stores the user turn and builds the first transcript.
func (e *Engine) prepare(ctx context.Context, r *run) {
	var name, persona string
	for _, d := range e.tools.ForPlatform(r.req.Platform) {
		if e.toolEnabled(ctx, d.Name) {
			r.specs = append(r.specs, d.Spec())
		}
	}
	if e.settings != nil {
		name, persona = e.settings.Identity(ctx)
	}

	mc, err := e.memory.Context(ctx, r.conversation, r.req.Message)
	if err != nil {
		e.logger.Warn("loading conversation context failed", "conversation", r.conversation, "error", err)
	}
	if _, err := e.memory.Append(ctx, r.conversation, storage.Turn{
		Speaker: storage.SpeakerUser,
		Text:    r.req.Message,
	}); err != nil {
		e.logger.Warn("storing user turn failed", "conversation", r.conversation, "error", err)
	}

	r.msgs = e.composer.Compose(composer.Input{
		AssistantName: name,
		Persona:       persona,
		Platform:      r.req.Platform,
		UserName:      r.req.User,
		Tools:         r.specs,
		Memory:        mc,
		UserMessage:   r.req.Message,
	})
}

func (e *Engine) askModel(ctx context.Context, r *run) state {
	if r.iterations >= e.cfg.MaxIterations {
		e.logger.Warn("iteration cap reached", "conversation", r.conversation, "cap", e.cfg.MaxIterations)
		r.result.Incomplete = true
		r.result.Reply = incompleteReply(r.partial)
		return terminal
	}
	r.iterations++

	d, err := e.llm.Decide(ctx, llm.Request{Messages: r.msgs, Tools: r.specs, Platform: r.req.Platform})
	if err != nil {
		if ctx.Err() != nil {
			return terminal
		}
		e.logger.Error("model request failed", "conversation", r.conversation, "iteration", r.iterations, "error", err)
		if r.partial != "" {
			r.result.Reply = incompleteReply(r.partial)
			r.result.Incomplete = true
		} else {
			r.result.Reply = ModelUnavailable
		}
		return terminal
	}
	r.decision = d
	return modelResponded
}

func (e *Engine) handleDecision(ctx context.Context, r *run) state {
	switch d := r.decision.(type) {
	case *llm.FinalAnswer:
		e.recovered(r)
		r.result.Reply = d.Text
		return terminal

	case *llm.ToolCall:
		e.recovered(r)
		return executingTool

	case *llm.Malformed:
		if !r.retried {
			e.logger.Info("malformed model reply, retrying", "conversation", r.conversation, "error", d.Err)
			r.retried = true
			r.retryMark = len(r.msgs)
			if d.Raw != "" {
				r.msgs = append(r.msgs, engine.Message{Role: "assistant", Content: d.Raw})
			}
			r.msgs = append(r.msgs, engine.Message{Role: "user", Content: llm.CorrectiveInstruction})
			return awaitingModel
		}
		e.logger.Warn("malformed model reply after retry, using raw text", "conversation", r.conversation, "error", d.Err)
		if strings.TrimSpace(d.Raw) == "" {
			r.result.Reply = incompleteReply(r.partial)
			r.result.Incomplete = r.partial != ""
		} else {
			r.result.Reply = d.Raw
		}
		return terminal

	default:
		panic(fmt.Sprintf("unhandled decision %T", d))
	}
}

// recovered drops a corrective retry exchange once the model answered
// properly, so it neither shows up later in the run nor counts against the
// next malformed reply.
func (e *Engine) recovered(r *run) {
	if r.retried {
		r.msgs = r.msgs[:r.retryMark]
		r.retried = false
	}
}

func (e *Engine) toolEnabled(ctx context.Context, name string) bool {
	return e.settings == nil || e.settings.ToolEnabled(ctx, name)
}

func incompleteReply(partial string) string {
	partial = strings.TrimSpace(partial)
	if partial == "" {
		return IncompleteNotice
	}
	return partial + "\n\n" + IncompleteNotice
}
