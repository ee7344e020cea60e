package toolreg

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TaterTotterson/Tater/internal/engine"
)

// Platform identifiers.
const (
	PlatformWebUI         = "webui"
	PlatformDiscord       = "discord"
	PlatformIRC           = "irc"
	PlatformMatrix        = "matrix"
	PlatformHomeAssistant = "homeassistant"
	PlatformMCP           = "mcp"
	PlatformCLI           = "cli"

	// AllPlatforms in a descriptor's platform list matches every platform.
	AllPlatforms = "*"
)

// Handler executes a tool with validated arguments and returns text for the
// model. Failures should be *Error values built with the kind helpers.
type Handler func(ctx context.Context, inv Invocation) (string, error)

// Invocation carries the validated arguments and the context the tool was
// called from.
type Invocation struct {
	Args         Args
	Platform     string
	Channel      string
	User         string
	Conversation string
}

// Descriptor is the capability record of one tool.
type Descriptor struct {
	Name        string
	Description string
	Parameters  *engine.Schema
	Platforms   []string
	Handler     Handler
	// Timeout overrides the caller's default per-execution budget when > 0.
	Timeout time.Duration
}

// AppliesTo reports whether the tool may be offered on platform.
func (d Descriptor) AppliesTo(platform string) bool {
	for _, p := range d.Platforms {
		if p == AllPlatforms || p == platform {
			return true
		}
	}
	return false
}

// Spec converts the descriptor into the schema advertised to the model.
func (d Descriptor) Spec() engine.ToolSpec {
	params := d.Parameters
	if params == nil {
		params = &engine.Schema{Type: "object", Properties: map[string]engine.SchemaProperty{}}
	}
	return engine.ToolSpec{Name: d.Name, Description: d.Description, Parameters: params}
}

// Registry maps tool names to descriptors. Tools are registered at startup
// and looked up concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Descriptor)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("registering tool: empty name")
	}
	if d.Handler == nil {
		return fmt.Errorf("registering tool %s: nil handler", d.Name)
	}
	if len(d.Platforms) == 0 {
		return fmt.Errorf("registering tool %s: no platforms", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyExists, d.Name)
	}
	r.tools[d.Name] = d
	return nil
}

// MustRegister registers a tool and panics on error.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForPlatform returns the descriptors applicable to platform, sorted by name.
func (r *Registry) ForPlatform(platform string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	for _, d := range r.tools {
		if d.AppliesTo(platform) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve looks up name for platform and validates args against its schema.
// The returned Args contain only declared properties.
func (r *Registry) Resolve(name, platform string, args map[string]any) (Descriptor, Args, error) {
	d, ok := r.Get(name)
	if !ok {
		return Descriptor{}, nil, &ValidationError{Tool: name, Err: ErrUnknownTool, Reason: "no such tool"}
	}
	if !d.AppliesTo(platform) {
		return Descriptor{}, nil, &ValidationError{Tool: name, Err: ErrNotOnPlatform,
			Reason: fmt.Sprintf("not available on %s", platform)}
	}
	clean, err := ValidateArgs(d.Parameters, args)
	if err != nil {
		return Descriptor{}, nil, &ValidationError{Tool: name, Err: err, Reason: err.Error()}
	}
	return d, clean, nil
}
