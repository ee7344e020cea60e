package notify

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// AllScopes in a route's scope list serves every watch scope.
const AllScopes = "*"

// Route binds a sink to the watch scopes it serves.
type Route struct {
	Sink   Sink
	Scopes []string
}

func (r Route) serves(scope string) bool {
	return slices.Contains(r.Scopes, AllScopes) || slices.Contains(r.Scopes, scope)
}

// Fanout delivers an item to every sink serving its scope. Sinks are
// independent: each has its own deadline and a failing sink never stops the
// others.
type Fanout struct {
	mu      sync.RWMutex
	routes  []Route
	timeout time.Duration
	logger  *slog.Logger
}

// NewFanout creates a Fanout. A zero timeout means 10s.
func NewFanout(routes []Route, timeout time.Duration) *Fanout {
	f := &Fanout{logger: slog.Default()}
	f.SetRoutes(routes, timeout)
	return f
}

// SetRoutes swaps the sink set, e.g. after a config reload. Deliveries
// already running finish against the old set.
func (f *Fanout) SetRoutes(routes []Route, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	f.mu.Lock()
	f.routes = slices.Clone(routes)
	f.timeout = timeout
	f.mu.Unlock()
}

// Sinks returns the sinks serving scope, restricted to names when names is
// not empty.
func (f *Fanout) Sinks(scope string, names []string) []Sink {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Sink
	for _, r := range f.routes {
		if !r.serves(scope) {
			continue
		}
		if len(names) > 0 && !slices.Contains(names, r.Sink.Name()) {
			continue
		}
		out = append(out, r.Sink)
	}
	return out
}

// Notify delivers item to the sinks serving scope. Each failure is logged
// and the failures are returned joined; a nil error means every sink
// accepted the item.
func (f *Fanout) Notify(ctx context.Context, scope string, names []string, item Item) error {
	sinks := f.Sinks(scope, names)
	if len(sinks) == 0 {
		f.logger.Warn("no notifier sinks for scope", "scope", scope, "item", item.Link)
		return nil
	}
	f.mu.RLock()
	timeout := f.timeout
	f.mu.RUnlock()

	errs := make([]error, len(sinks))
	var g errgroup.Group
	for i, s := range sinks {
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := s.Deliver(dctx, item); err != nil {
				var de *DeliveryError
				if !errors.As(err, &de) {
					err = &DeliveryError{Sink: s.Name(), Err: err}
				}
				f.logger.Warn("notifier delivery failed", "sink", s.Name(), "scope", scope, "item", item.Link, "error", err)
				errs[i] = err
				return nil
			}
			f.logger.Debug("notifier delivered", "sink", s.Name(), "scope", scope, "item", item.Link)
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
