package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Well-known keys.
const (
	KeyAssistantName = "assistant.name"
	KeyPersona       = "assistant.persona"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	SetSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached access to runtime settings stored in SQLite:
// per-tool enable flags and assistant identity.
type Manager struct {
	store  Store
	clock  Clock
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.RWMutex
	cached   map[string]string
	cachedAt time.Time
}

// NewManager creates a Manager with a 30-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, 30*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		logger: slog.Default(),
	}
}

// All returns a copy of every stored setting.
func (m *Manager) All(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		out := copyMap(m.cached)
		m.mu.RUnlock()
		return out, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return copyMap(m.cached), nil
	}

	all, err := m.store.AllSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	m.cached = all
	m.cachedAt = m.clock.Now()
	return copyMap(all), nil
}

// Get returns the value for key and whether it is set.
func (m *Manager) Get(ctx context.Context, key string) (string, bool, error) {
	all, err := m.All(ctx)
	if err != nil {
		return "", false, err
	}
	v, ok := all[key]
	return v, ok, nil
}

// Set persists a setting and invalidates the cache.
func (m *Manager) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	m.cached = nil
	return nil
}

// ToolKey is the settings key of a tool's enable flag.
func ToolKey(name string) string {
	return "tool." + name + ".enabled"
}

// ToolEnabled reports whether the named tool is enabled. Tools are enabled
// unless explicitly switched off; a storage failure leaves them enabled.
func (m *Manager) ToolEnabled(ctx context.Context, name string) bool {
	v, ok, err := m.Get(ctx, ToolKey(name))
	if err != nil {
		m.logger.Warn("reading tool flag failed", "tool", name, "error", err)
		return true
	}
	if !ok {
		return true
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		m.logger.Warn("ignoring malformed tool flag", "tool", name, "value", v)
		return true
	}
	return enabled
}

// SetToolEnabled switches a tool on or off.
func (m *Manager) SetToolEnabled(ctx context.Context, name string, enabled bool) error {
	return m.Set(ctx, ToolKey(name), strconv.FormatBool(enabled))
}

// Identity returns the assistant's display name and persona text.
func (m *Manager) Identity(ctx context.Context) (name, persona string) {
	all, err := m.All(ctx)
	if err != nil {
		m.logger.Warn("reading assistant identity failed", "error", err)
		return "Tater", ""
	}
	name = strings.TrimSpace(all[KeyAssistantName])
	if name == "" {
		name = "Tater"
	}
	return name, strings.TrimSpace(all[KeyPersona])
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
