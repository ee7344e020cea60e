package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	"github.com/TaterTotterson/Tater/internal/retrieval"
	"github.com/TaterTotterson/Tater/internal/storage"
)

// JobEmbedTurn is the job type that retries a failed turn embedding.
const JobEmbedTurn = "turn_embed"

// TurnStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type TurnStore interface {
	AppendTurn(ctx context.Context, t storage.Turn) error
	RecentTurns(ctx context.Context, conversation string, k int) ([]storage.Turn, error)
	TurnsByIDs(ctx context.Context, ids []int64) ([]storage.Turn, error)
	TrimTurns(ctx context.Context, conversation string, keep int) (int64, error)
	DeleteConversation(ctx context.Context, conversation string) (int64, error)
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Embedder generates embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options bound what the Manager keeps and returns.
type Options struct {
	RecentTurns        int // K: recency window size
	RecallTopK         int // M: semantic recall size
	EmbeddingRetention int // N: embeddings kept per conversation, 0 = unbounded
	MaxStoredTurns     int // turns kept per conversation, 0 = unbounded
	MaxContextChars    int // character budget of the recency window, 0 = unbounded
}

// Recalled is a turn returned by semantic recall.
type Recalled struct {
	Turn  storage.Turn
	Score float32
}

// Context is what the orchestrator sees of a conversation's past.
type Context struct {
	Recent   []storage.Turn // oldest first
	Recalled []Recalled     // most similar first, never in Recent
}

// Manager owns every conversation's transcript and its embeddings.
type Manager struct {
	store    TurnStore
	embedder Embedder
	vectors  retrieval.VectorStore
	node     *snowflake.Node
	opts     Options
	logger   *slog.Logger
}

type embedPayload struct {
	TurnID       int64  `json:"turn_id"`
	Conversation string `json:"conversation"`
}

// New creates a Manager.
func New(store TurnStore, embedder Embedder, vectors retrieval.VectorStore, opts Options) (*Manager, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, fmt.Errorf("creating id generator: %w", err)
	}
	return &Manager{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		node:     node,
		opts:     opts,
		logger:   slog.Default(),
	}, nil
}

// Append stores a turn and embeds it. The turn is persisted even when the
// embedding backend fails; a backfill job is queued instead and the turn is
// left out of recall until it succeeds.
func (m *Manager) Append(ctx context.Context, conversation string, t storage.Turn) (storage.Turn, error) {
	t.ID = m.node.Generate().Int64()
	t.Conversation = conversation
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if err := m.store.AppendTurn(ctx, t); err != nil {
		return storage.Turn{}, fmt.Errorf("appending turn: %w", err)
	}

	if err := m.IndexTurn(ctx, t); err != nil {
		m.logger.Warn("embedding turn failed, queued for backfill", "conversation", conversation, "turn", t.ID, "error", err)
		m.enqueueBackfill(ctx, t)
	}

	if m.opts.MaxStoredTurns > 0 {
		if n, err := m.store.TrimTurns(ctx, conversation, m.opts.MaxStoredTurns); err != nil {
			m.logger.Warn("trimming transcript failed", "conversation", conversation, "error", err)
		} else if n > 0 {
			m.logger.Debug("trimmed transcript", "conversation", conversation, "removed", n)
		}
	}
	return t, nil
}

// IndexTurn embeds a stored turn and applies the retention cap.
func (m *Manager) IndexTurn(ctx context.Context, t storage.Turn) error {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return nil
	}
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	if len(vec) == 0 {
		return errors.New("embedding backend returned an empty vector")
	}
	if err := m.vectors.Insert(ctx, retrieval.Record{
		TurnID:       t.ID,
		Conversation: t.Conversation,
		Embedding:    vec,
		CreatedAt:    t.CreatedAt,
	}); err != nil {
		return err
	}
	if m.opts.EmbeddingRetention > 0 {
		if _, err := m.vectors.Trim(ctx, t.Conversation, m.opts.EmbeddingRetention); err != nil {
			m.logger.Warn("trimming embeddings failed", "conversation", t.Conversation, "error", err)
		}
	}
	return nil
}

func (m *Manager) enqueueBackfill(ctx context.Context, t storage.Turn) {
	payload, _ := json.Marshal(embedPayload{TurnID: t.ID, Conversation: t.Conversation})
	err := m.store.EnqueueJob(ctx, storage.Job{
		ID:          uuid.NewString(),
		Type:        JobEmbedTurn,
		PayloadJSON: string(payload),
		MaxAttempts: 5,
	})
	if err != nil {
		m.logger.Error("queueing embedding backfill failed", "turn", t.ID, "error", err)
	}
}

// ParseEmbedPayload extracts the turn id from a turn_embed job payload.
func ParseEmbedPayload(payloadJSON string) (int64, error) {
	var p embedPayload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return 0, fmt.Errorf("parsing payload: %w", err)
	}
	if p.TurnID == 0 {
		return 0, errors.New("payload has no turn_id")
	}
	return p.TurnID, nil
}

// Context returns the recency window and the semantic recall for query.
// Recall failures degrade to an empty recall.
func (m *Manager) Context(ctx context.Context, conversation, query string) (Context, error) {
	recent, err := m.store.RecentTurns(ctx, conversation, m.opts.RecentTurns)
	if err != nil {
		return Context{}, fmt.Errorf("loading recent turns: %w", err)
	}
	recent = fitBudget(recent, m.opts.MaxContextChars)

	out := Context{Recent: recent}
	if m.opts.RecallTopK <= 0 || strings.TrimSpace(query) == "" {
		return out, nil
	}

	exclude := make(map[int64]struct{}, len(recent))
	for _, t := range recent {
		exclude[t.ID] = struct{}{}
	}
	recalled, err := m.search(ctx, conversation, query, m.opts.RecallTopK, exclude)
	if err != nil {
		m.logger.Warn("semantic recall unavailable", "conversation", conversation, "error", err)
		return out, nil
	}
	out.Recalled = recalled
	return out, nil
}

// Recall searches the whole conversation for turns similar to query.
func (m *Manager) Recall(ctx context.Context, conversation, query string, limit int) ([]Recalled, error) {
	return m.search(ctx, conversation, query, limit, nil)
}

func (m *Manager) search(ctx context.Context, conversation, query string, limit int, exclude map[int64]struct{}) ([]Recalled, error) {
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	hits, err := m.vectors.Search(ctx, conversation, vec, limit, exclude)
	if err != nil {
		return nil, fmt.Errorf("searching embeddings: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.TurnID
	}
	turns, err := m.store.TurnsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading recalled turns: %w", err)
	}
	byID := make(map[int64]storage.Turn, len(turns))
	for _, t := range turns {
		byID[t.ID] = t
	}

	out := make([]Recalled, 0, len(hits))
	for _, h := range hits {
		t, ok := byID[h.TurnID]
		if !ok {
			continue
		}
		out = append(out, Recalled{Turn: t, Score: h.Score})
	}
	return out, nil
}

// Recent returns the last limit turns of a conversation, oldest first.
func (m *Manager) Recent(ctx context.Context, conversation string, limit int) ([]storage.Turn, error) {
	return m.store.RecentTurns(ctx, conversation, limit)
}

// Wipe deletes a conversation's transcript and embeddings.
func (m *Manager) Wipe(ctx context.Context, conversation string) (int64, error) {
	n, err := m.store.DeleteConversation(ctx, conversation)
	if err != nil {
		return 0, fmt.Errorf("wiping %s: %w", conversation, err)
	}
	return n, nil
}

// fitBudget drops the oldest turns until the total text fits in limit
// characters. The newest turn is always kept.
func fitBudget(turns []storage.Turn, limit int) []storage.Turn {
	if limit <= 0 || len(turns) == 0 {
		return turns
	}
	total := 0
	for _, t := range turns {
		total += len(t.Text)
	}
	start := 0
	for total > limit && start < len(turns)-1 {
		total -= len(turns[start].Text)
		start++
	}
	return turns[start:]
}
