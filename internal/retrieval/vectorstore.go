package retrieval

import (
	"context"
	"time"
)

// VectorStore holds one embedding per stored turn and ranks them by cosine
// similarity within a conversation. The SQLite implementation scans
// brute-force; conversations are small enough that no ANN index is needed.
type VectorStore interface {
	// Insert stores (or replaces) the embedding of a turn.
	Insert(ctx context.Context, r Record) error

	// Search returns up to topK records of the conversation most similar to
	// vector, best first. Equal scores rank the newer turn first. Turn ids in
	// exclude are skipped.
	Search(ctx context.Context, conversation string, vector []float32, topK int, exclude map[int64]struct{}) ([]ScoredRecord, error)

	// Trim keeps the keep most recent embeddings of the conversation and
	// deletes the rest. keep <= 0 is a no-op.
	Trim(ctx context.Context, conversation string, keep int) (int64, error)

	// Count returns the number of embeddings stored for the conversation.
	Count(ctx context.Context, conversation string) (int, error)
}

// Record is the embedding of one turn.
type Record struct {
	TurnID       int64
	Conversation string
	Embedding    []float32
	CreatedAt    time.Time
}

// ScoredRecord is a search hit. The embedding itself is not returned.
type ScoredRecord struct {
	TurnID    int64
	CreatedAt time.Time
	Score     float32
}
