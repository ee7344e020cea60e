package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/TaterTotterson/Tater/internal/composer"
	"github.com/TaterTotterson/Tater/internal/engine"
	"github.com/TaterTotterson/Tater/internal/llm"
	"github.com/TaterTotterson/Tater/internal/storage"
	"github.com/TaterTotterson/Tater/internal/toolreg"
)

// executeTool validates and runs the pending call, then feeds its outcome
// back to the model as a tool turn.
func (e *Engine) executeTool(ctx context.Context, r *run) state {
	call := r.decision.(*llm.ToolCall)
	argsJSON := call.ArgumentsJSON()
	key := call.Name + "\x00" + argsJSON
	if call.Content != "" {
		r.partial = call.Content
	}

	runRec := ToolRun{Name: call.Name, Arguments: call.Arguments}
	var output string

	if prev, ok := r.executed[key]; ok {
		e.logger.Info("repeated tool call, reusing result", "conversation", r.conversation, "tool", call.Name)
		runRec.Repeated = true
		output = prev
	} else {
		text, err := e.invoke(ctx, r, call)
		if ctx.Err() != nil {
			// The run was cancelled while the tool ran; its result is dropped.
			return terminal
		}
		if err != nil {
			runRec.Error = err.Error()
			output = toolFailure(call.Name, err)
			e.logToolError(r, call.Name, err)
		} else {
			output = text
			if call.Content == "" {
				r.partial = text
			}
		}
		r.executed[key] = output
	}

	r.result.ToolCalls = append(r.result.ToolCalls, runRec)
	r.msgs = append(r.msgs, exchange(call, argsJSON, output)...)

	if _, err := e.memory.Append(ctx, r.conversation, storage.Turn{
		Speaker:  storage.SpeakerAssistant,
		Text:     call.Content,
		ToolName: call.Name,
		ToolArgs: argsJSON,
	}); err != nil {
		e.logger.Warn("storing tool call failed", "conversation", r.conversation, "error", err)
	}
	if _, err := e.memory.Append(ctx, r.conversation, storage.Turn{
		Speaker:  storage.SpeakerTool,
		Text:     output,
		ToolName: call.Name,
	}); err != nil {
		e.logger.Warn("storing tool result failed", "conversation", r.conversation, "error", err)
	}
	return awaitingModel
}

// invoke resolves the call against the registry and settings and runs the
// handler. Validation failures never reach the handler.
func (e *Engine) invoke(ctx context.Context, r *run, call *llm.ToolCall) (string, error) {
	d, args, err := e.tools.Resolve(call.Name, r.req.Platform, call.Arguments)
	if err != nil {
		return "", err
	}
	if !e.toolEnabled(ctx, d.Name) {
		return "", &toolreg.ValidationError{Tool: d.Name, Err: toolreg.ErrToolDisabled, Reason: "tool is disabled"}
	}
	return toolreg.Execute(ctx, d, toolreg.Invocation{
		Args:         args,
		Platform:     r.req.Platform,
		Channel:      r.req.Channel,
		User:         r.req.User,
		Conversation: r.conversation,
	}, e.cfg.ToolTimeout)
}

func (e *Engine) logToolError(r *run, tool string, err error) {
	var ve *toolreg.ValidationError
	if errors.As(err, &ve) {
		e.logger.Info("tool call rejected", "conversation", r.conversation, "tool", tool, "error", err)
		return
	}
	e.logger.Warn("tool execution failed", "conversation", r.conversation, "tool", tool, "error", err)
}

// toolFailure is the tool turn text the model sees for a failed call.
func toolFailure(tool string, err error) string {
	var ve *toolreg.ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("tool %s failed: %s", tool, ve.Reason)
	}
	var te *toolreg.Error
	if errors.As(err, &te) {
		return fmt.Sprintf("tool %s failed: %s: %v. Tell the user it did not work.", tool, te.Kind, te.Err)
	}
	return fmt.Sprintf("tool %s failed: %v", tool, err)
}

// exchange renders the call and its output in the encoding the model used.
func exchange(call *llm.ToolCall, argsJSON, output string) []engine.Message {
	if call.Native {
		return []engine.Message{
			{
				Role:    "assistant",
				Content: call.Content,
				ToolCalls: []engine.ToolCall{{
					ID:        call.ID,
					Name:      call.Name,
					Arguments: []byte(argsJSON),
				}},
			},
			{Role: "tool", Content: output, ToolName: call.Name, ToolCallID: call.ID},
		}
	}
	return []engine.Message{
		{Role: "assistant", Content: composer.TextCall(call.Name, argsJSON)},
		{Role: "user", Content: composer.ToolResultText(call.Name, output)},
	}
}
