// Package feeds watches RSS/Atom/JSON feeds and announces new items to the
// notifier sinks of each watch scope.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/TaterTotterson/Tater/internal/config"
	"github.com/TaterTotterson/Tater/internal/notify"
	"github.com/TaterTotterson/Tater/internal/storage"
)

// Store persists the watch-set and seen-sets. Implemented by storage.Store.
type Store interface {
	InsertFeed(ctx context.Context, f storage.Feed, seedIDs []string) error
	DeleteFeed(ctx context.Context, scope, url string) error
	GetFeed(ctx context.Context, scope, url string) (storage.Feed, error)
	ListFeeds(ctx context.Context, scope string) ([]storage.Feed, error)
	SeenSet(ctx context.Context, scope, url string) (map[string]struct{}, error)
	CommitPoll(ctx context.Context, scope, url string, r storage.PollResult) error
	RecordPollFailure(ctx context.Context, scope, url string, failures int, lastErr string, nextPoll time.Time) error
}

// Notifier delivers one item to the sinks serving scope. Implemented by
// notify.Fanout.
type Notifier interface {
	Notify(ctx context.Context, scope string, sinks []string, item notify.Item) error
}

// ItemSummarizer writes the announcement summary of an item.
type ItemSummarizer interface {
	Summarize(ctx context.Context, it Item) string
}

// Options tunes the scheduler. Zero fields take the defaults of
// config.FeedsConfig.
type Options struct {
	Tick               time.Duration
	PollInterval       time.Duration
	MaxBackoff         time.Duration
	MaxConcurrentPolls int
	SeenRetention      int
}

// OptionsFromConfig maps the feeds config section to Options.
func OptionsFromConfig(cfg config.FeedsConfig) Options {
	return Options{
		Tick:               cfg.Tick,
		PollInterval:       cfg.PollInterval,
		MaxBackoff:         cfg.MaxBackoff,
		MaxConcurrentPolls: cfg.MaxConcurrentPolls,
		SeenRetention:      cfg.SeenRetention,
	}
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Minute
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Hour
	}
	if o.MaxConcurrentPolls <= 0 {
		o.MaxConcurrentPolls = 4
	}
	if o.SeenRetention < 0 {
		o.SeenRetention = 0
	}
	return o
}

// WatchRequest adds one feed to a scope's watch-set.
type WatchRequest struct {
	Scope    string
	URL      string
	Category string
	Sinks    []string // empty means every sink serving Scope
}

// Scheduler polls watched feeds on their own cadence. A single ticker
// snapshots the watch-set; due feeds are polled concurrently up to
// MaxConcurrentPolls, and polls of one feed never overlap.
type Scheduler struct {
	store      Store
	fetcher    Fetcher
	summarizer ItemSummarizer
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time

	mu   sync.Mutex
	opts Options
	sem  *semaphore.Weighted

	locks    *keyedMutex
	polls    sync.WaitGroup
	trigger  chan struct{}
	reconfig chan struct{}
}

func NewScheduler(store Store, fetcher Fetcher, summarizer ItemSummarizer, notifier Notifier, opts Options) *Scheduler {
	opts = opts.withDefaults()
	return &Scheduler{
		store:      store,
		fetcher:    fetcher,
		summarizer: summarizer,
		notifier:   notifier,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		opts:       opts,
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrentPolls)),
		locks:      newKeyedMutex(),
		trigger:    make(chan struct{}, 1),
		reconfig:   make(chan struct{}, 1),
	}
}

// Configure applies new options. The tick interval changes at once; a new
// concurrency cap applies to polls started after the call.
func (s *Scheduler) Configure(opts Options) {
	opts = opts.withDefaults()
	s.mu.Lock()
	if opts.MaxConcurrentPolls != s.opts.MaxConcurrentPolls {
		s.sem = semaphore.NewWeighted(int64(opts.MaxConcurrentPolls))
	}
	s.opts = opts
	s.mu.Unlock()

	select {
	case s.reconfig <- struct{}{}:
	default:
	}
}

func (s *Scheduler) settings() (Options, *semaphore.Weighted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts, s.sem
}

// PollNow asks the running scheduler to poll every watched feed now,
// whether due or not. Feeds with a poll in flight are skipped.
func (s *Scheduler) PollNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight polls to
// finish. The first tick runs immediately, so feeds that fell due while the
// process was down are polled on startup.
func (s *Scheduler) Run(ctx context.Context) {
	opts, _ := s.settings()
	s.logger.Info("feed scheduler started", "tick", opts.Tick, "max_concurrent_polls", opts.MaxConcurrentPolls)

	ticker := time.NewTicker(opts.Tick)
	defer ticker.Stop()
	defer s.polls.Wait()

	s.tick(ctx, false)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("feed scheduler stopping, waiting for in-flight polls")
			return
		case <-ticker.C:
			s.tick(ctx, false)
		case <-s.trigger:
			s.tick(ctx, true)
		case <-s.reconfig:
			opts, _ := s.settings()
			ticker.Reset(opts.Tick)
		}
	}
}

// tick starts a poll for every due feed in a snapshot of the watch-set, or
// for every feed when force is set.
func (s *Scheduler) tick(ctx context.Context, force bool) {
	feeds, err := s.store.ListFeeds(ctx, "")
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("loading watch-set failed", "error", err)
		}
		return
	}
	opts, sem := s.settings()
	now := s.now()

	for _, f := range feeds {
		if !force && f.NextPoll.After(now) {
			continue
		}
		unlock, ok := s.locks.TryLock(feedKey(f.Scope, f.URL))
		if !ok {
			s.logger.Debug("poll already in flight", "feed", f.URL, "scope", f.Scope)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			unlock()
			return
		}
		s.polls.Add(1)
		go func() {
			defer s.polls.Done()
			defer sem.Release(1)
			defer unlock()
			// Shutdown lets a started poll finish.
			s.poll(context.WithoutCancel(ctx), f, opts, force)
		}()
	}
}

// poll runs one fetch → dedupe → commit → announce cycle. The caller holds
// the feed's key lock.
func (s *Scheduler) poll(ctx context.Context, snap storage.Feed, opts Options, force bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("feed poll panicked", "feed", snap.URL, "scope", snap.Scope, "panic", r, "stack", string(debug.Stack()))
			s.recordFailure(ctx, snap, fmt.Errorf("panic: %v", r), opts)
		}
	}()

	// The snapshot may predate a poll that finished before we took the lock.
	f, err := s.store.GetFeed(ctx, snap.Scope, snap.URL)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error("loading feed state failed", "feed", snap.URL, "scope", snap.Scope, "error", err)
		return
	}
	if !force && f.NextPoll.After(s.now()) {
		return
	}

	seen, err := s.store.SeenSet(ctx, f.Scope, f.URL)
	if err != nil {
		s.logger.Error("loading seen-set failed", "feed", f.URL, "scope", f.Scope, "error", err)
		return
	}

	doc, err := s.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		s.recordFailure(ctx, f, err, opts)
		return
	}

	ids, fresh := partition(doc.Items, seen)
	sortForAnnouncement(fresh)

	now := s.now()
	err = s.store.CommitPoll(ctx, f.Scope, f.URL, storage.PollResult{
		ItemIDs:   ids,
		Title:     doc.Title,
		PolledAt:  now,
		NextPoll:  now.Add(opts.PollInterval),
		Retention: opts.SeenRetention,
	})
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Info("feed unwatched during poll, dropping results", "feed", f.URL, "scope", f.Scope)
		return
	}
	if err != nil {
		s.logger.Error("committing poll failed", "feed", f.URL, "scope", f.Scope, "error", err)
		return
	}

	title := firstNonEmpty(doc.Title, f.Title, f.URL)
	for _, it := range fresh {
		s.announce(ctx, f, title, it)
	}
	s.logger.Info("feed polled", "feed", f.URL, "scope", f.Scope, "items", len(ids), "new", len(fresh))
}

// announce summarizes and delivers one item. Items are already marked seen,
// so a failed delivery is logged and not retried.
func (s *Scheduler) announce(ctx context.Context, f storage.Feed, feedTitle string, it Item) {
	item := notify.Item{
		Feed:      feedTitle,
		FeedURL:   f.URL,
		Category:  f.Category,
		Scope:     f.Scope,
		Title:     it.Title,
		Link:      it.Link,
		Summary:   s.summarizer.Summarize(ctx, it),
		Published: it.Published,
	}
	if err := s.notifier.Notify(ctx, f.Scope, f.Sinks, item); err != nil {
		s.logger.Debug("item announced with sink failures", "feed", f.URL, "item", it.ID, "error", err)
	}
}

func (s *Scheduler) recordFailure(ctx context.Context, f storage.Feed, cause error, opts Options) {
	failures := f.Failures + 1
	delay := backoff(opts.PollInterval, opts.MaxBackoff, failures)
	s.logger.Warn("feed poll failed, backing off", "feed", f.URL, "scope", f.Scope,
		"failures", failures, "retry_in", delay, "error", cause)
	err := s.store.RecordPollFailure(ctx, f.Scope, f.URL, failures, cause.Error(), s.now().Add(delay))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("recording poll failure failed", "feed", f.URL, "scope", f.Scope, "error", err)
	}
}

// Watch validates the feed by fetching it and adds it to the scope's
// watch-set. Every item present now is recorded as seen, so only items
// published after the watch are announced.
func (s *Scheduler) Watch(ctx context.Context, req WatchRequest) (storage.Feed, error) {
	feedURL, err := normalizeURL(req.URL)
	if err != nil {
		return storage.Feed{}, err
	}
	if req.Scope == "" {
		return storage.Feed{}, errors.New("watch scope is required")
	}

	unlock := s.locks.Lock(feedKey(req.Scope, feedURL))
	defer unlock()

	if _, err := s.store.GetFeed(ctx, req.Scope, feedURL); err == nil {
		return storage.Feed{}, ErrFeedExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.Feed{}, fmt.Errorf("checking watch-set: %w", err)
	}

	doc, err := s.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return storage.Feed{}, err
	}
	ids, _ := partition(doc.Items, nil)

	opts, _ := s.settings()
	now := s.now()
	f := storage.Feed{
		Scope:      req.Scope,
		URL:        feedURL,
		Category:   strings.TrimSpace(req.Category),
		Title:      doc.Title,
		Sinks:      req.Sinks,
		LastPoll:   now,
		NextPoll:   now.Add(opts.PollInterval),
		Generation: 1,
		CreatedAt:  now,
	}
	if err := s.store.InsertFeed(ctx, f, ids); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return storage.Feed{}, ErrFeedExists
		}
		return storage.Feed{}, fmt.Errorf("saving feed: %w", err)
	}
	s.logger.Info("feed watched", "feed", feedURL, "scope", req.Scope, "seeded", len(ids))
	return f, nil
}

// Unwatch removes a feed from the scope's watch-set. A poll already running
// for it completes, but its results are dropped and it is not rescheduled.
func (s *Scheduler) Unwatch(ctx context.Context, scope, rawURL string) error {
	feedURL := strings.TrimSpace(rawURL)
	if err := s.store.DeleteFeed(ctx, scope, feedURL); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrFeedNotWatched
		}
		return fmt.Errorf("removing feed: %w", err)
	}
	s.logger.Info("feed unwatched", "feed", feedURL, "scope", scope)
	return nil
}

// List returns the feeds watched in scope, or all feeds for an empty scope.
func (s *Scheduler) List(ctx context.Context, scope string) ([]storage.Feed, error) {
	return s.store.ListFeeds(ctx, scope)
}

// partition returns every distinct identifier of items in feed order, plus
// the items whose identifier is not in seen.
func partition(items []Item, seen map[string]struct{}) (ids []string, fresh []Item) {
	dup := make(map[string]struct{}, len(items))
	ids = make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := dup[it.ID]; ok {
			continue
		}
		dup[it.ID] = struct{}{}
		ids = append(ids, it.ID)
		if _, ok := seen[it.ID]; !ok {
			fresh = append(fresh, it)
		}
	}
	return ids, fresh
}

// backoff doubles base per consecutive failure, capped at limit.
func backoff(base, limit time.Duration, failures int) time.Duration {
	d := base
	for i := 0; i < failures && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return raw, nil
}

func feedKey(scope, feedURL string) string {
	return scope + "\x00" + feedURL
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
