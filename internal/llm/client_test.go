package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/TaterTotterson/Tater/internal/engine"
)

type fakeEngine struct {
	replies   []engine.Reply
	errs      []error
	calls     int
	toolsSeen []int
}

func (f *fakeEngine) Chat(_ context.Context, _ string, msgs []engine.Message, _ *engine.Schema) (string, error) {
	return "summary of " + msgs[len(msgs)-1].Content, nil
}

func (f *fakeEngine) ChatTools(_ context.Context, _ string, _ []engine.Message, tools []engine.ToolSpec) (engine.Reply, error) {
	i := f.calls
	f.calls++
	f.toolsSeen = append(f.toolsSeen, len(tools))
	if i < len(f.errs) && f.errs[i] != nil {
		return engine.Reply{}, f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return engine.Reply{Content: "done"}, nil
}

func (f *fakeEngine) Embed(context.Context, string, string) ([]float32, error) { return nil, nil }
func (f *fakeEngine) IsRunning(context.Context) bool                           { return true }
func (f *fakeEngine) ListModels(context.Context) ([]string, error)             { return nil, nil }
func (f *fakeEngine) HasModel(context.Context, string) bool                    { return true }
func (f *fakeEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

func TestDecide_BackendError(t *testing.T) {
	boom := errors.New("connection refused")
	c := New(&fakeEngine{errs: []error{boom}}, "llama3.1", 0)
	_, err := c.Decide(context.Background(), Request{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

func TestDecide_FallsBackToTextProtocol(t *testing.T) {
	fe := &fakeEngine{
		errs:    []error{errors.New(`ollama returned status 400: {"error":"llama2 does not support tools"}`)},
		replies: []engine.Reply{{}, {Content: `{"function":"list_feeds","arguments":{}}`}},
	}
	c := New(fe, "llama2", 0)
	req := Request{Tools: []engine.ToolSpec{{Name: "list_feeds"}}}

	d, err := c.Decide(context.Background(), req)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if tc, ok := d.(*ToolCall); !ok || tc.Name != "list_feeds" {
		t.Fatalf("decision = %#v, want list_feeds call", d)
	}

	if _, err := c.Decide(context.Background(), req); err != nil {
		t.Fatalf("second Decide: %v", err)
	}
	want := []int{1, 0, 0}
	for i, n := range want {
		if fe.toolsSeen[i] != n {
			t.Errorf("call %d sent %d tools, want %d", i, fe.toolsSeen[i], n)
		}
	}
}

func TestSummarize(t *testing.T) {
	c := New(&fakeEngine{}, "llama3.1", 0)
	out, err := c.Summarize(context.Background(), "Summarize.", "a long article")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if out != "summary of a long article" {
		t.Errorf("got %q", out)
	}
}
