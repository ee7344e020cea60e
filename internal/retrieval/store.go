package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"time"
)

var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine similarity search
// over the turn_embeddings table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore uses db's turn_embeddings table, created by the storage
// migrations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// timeLayout matches the storage package so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *SQLiteStore) Insert(ctx context.Context, r Record) error {
	if len(r.Embedding) == 0 {
		return fmt.Errorf("inserting embedding for turn %d: empty vector", r.TurnID)
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turn_embeddings (turn_id, conversation, embedding, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(turn_id) DO UPDATE SET embedding = excluded.embedding`,
		r.TurnID, r.Conversation, encodeFloat32s(r.Embedding), createdAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting embedding for turn %d: %w", r.TurnID, err)
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, conversation string, vector []float32, topK int, exclude map[int64]struct{}) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_id, embedding, created_at FROM turn_embeddings WHERE conversation = ?`, conversation)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &scoredHeap{}
	var buf []float32

	for rows.Next() {
		var id int64
		var blob []byte
		var createdAt string
		if err := rows.Scan(&id, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if _, skip := exclude[id]; skip {
			continue
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for turn %d: %w", id, err)
		}

		cand := ScoredRecord{TurnID: id, Score: cosine(vector, buf, queryNorm)}
		if h.Len() < topK {
			cand.CreatedAt, _ = time.Parse(timeLayout, createdAt)
			heap.Push(h, cand)
		} else if ranksAbove(cand, (*h)[0]) {
			cand.CreatedAt, _ = time.Parse(timeLayout, createdAt)
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	results := slices.Clone(*h)
	slices.SortFunc(results, func(a, b ScoredRecord) int {
		switch {
		case ranksAbove(a, b):
			return -1
		case ranksAbove(b, a):
			return 1
		}
		return 0
	})
	return results, nil
}

// ranksAbove orders by score, then by recency. Turn ids are time-ordered.
func ranksAbove(a, b ScoredRecord) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.TurnID > b.TurnID
}

func (s *SQLiteStore) Trim(ctx context.Context, conversation string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM turn_embeddings
		WHERE conversation = ? AND turn_id NOT IN (
			SELECT turn_id FROM turn_embeddings WHERE conversation = ? ORDER BY turn_id DESC LIMIT ?
		)`, conversation, conversation, keep)
	if err != nil {
		return 0, fmt.Errorf("trimming embeddings: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Count(ctx context.Context, conversation string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM turn_embeddings WHERE conversation = ?", conversation).Scan(&count)
	return count, err
}

func encodeFloat32s(v []float32) []byte {
	out := make([]byte, 0, 4*len(v))
	for _, f := range v {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}

// decodeFloat32sInto decodes a little-endian blob, reusing dst when it has
// room.
func decodeFloat32sInto(dst []float32, blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob of %d bytes is not a float32 vector", len(blob))
	}
	dst = slices.Grow(dst[:0], len(blob)/4)
	for off := 0; off < len(blob); off += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(blob[off:])))
	}
	return dst, nil
}

func norm(v []float32) float32 {
	var sq float64
	for _, f := range v {
		sq += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sq))
}

// cosine scores a against b given the precomputed norm of a. Vectors of a
// different dimension, left over from an older embedding model, score 0.
func cosine(a, b []float32, normA float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	normB := norm(b)
	if normB == 0 {
		return 0
	}
	var dot float64
	for i, x := range a {
		dot += float64(x) * float64(b[i])
	}
	return float32(dot / (float64(normA) * float64(normB)))
}

// scoredHeap is a min-heap rooted at the weakest hit.
type scoredHeap []ScoredRecord

func (h scoredHeap) Len() int           { return len(h) }
func (h scoredHeap) Less(i, j int) bool { return ranksAbove(h[j], h[i]) }
func (h scoredHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)        { *h = append(*h, x.(ScoredRecord)) }
func (h *scoredHeap) Pop() any {
	last := (*h)[len(*h)-1]
	*h = (*h)[:len(*h)-1]
	return last
}
