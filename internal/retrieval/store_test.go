package retrieval

import (
	"context"
	"testing"

	"github.com/TaterTotterson/Tater/internal/storage"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSQLiteStore(st.DB())
}

func insert(t *testing.T, s *SQLiteStore, conv string, id int64, vec ...float32) {
	t.Helper()
	if err := s.Insert(context.Background(), Record{TurnID: id, Conversation: conv, Embedding: vec}); err != nil {
		t.Fatalf("Insert(%d): %v", id, err)
	}
}

func ids(rs []ScoredRecord) []int64 {
	out := make([]int64, len(rs))
	for i, r := range rs {
		out[i] = r.TurnID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSearch_RanksBySimilarity(t *testing.T) {
	s := openTestStore(t)
	insert(t, s, "c", 1, 1, 0)
	insert(t, s, "c", 2, 0, 1)
	insert(t, s, "c", 3, 1, 1)

	results, err := s.Search(context.Background(), "c", []float32{1, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got, want := ids(results), []int64{1, 3, 2}; !equalIDs(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if results[0].Score < 0.99 {
		t.Errorf("top score = %f, want ~1", results[0].Score)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted descending at %d", i)
		}
	}
}

func TestSearch_TiesPreferNewer(t *testing.T) {
	s := openTestStore(t)
	for id := int64(1); id <= 5; id++ {
		insert(t, s, "c", id, 0.5, 0.5)
	}

	results, err := s.Search(context.Background(), "c", []float32{1, 1}, 3, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got, want := ids(results), []int64{5, 4, 3}; !equalIDs(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestSearch_ScopedAndExcluded(t *testing.T) {
	s := openTestStore(t)
	insert(t, s, "a", 1, 1, 0)
	insert(t, s, "a", 2, 1, 0.1)
	insert(t, s, "b", 3, 1, 0)

	results, err := s.Search(context.Background(), "a", []float32{1, 0}, 5, map[int64]struct{}{1: {}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got, want := ids(results), []int64{2}; !equalIDs(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestSearch_ZeroQueryOrTopK(t *testing.T) {
	s := openTestStore(t)
	insert(t, s, "c", 1, 1, 0)

	if rs, _ := s.Search(context.Background(), "c", []float32{0, 0}, 3, nil); len(rs) != 0 {
		t.Errorf("zero vector returned %d results", len(rs))
	}
	if rs, _ := s.Search(context.Background(), "c", []float32{1, 0}, 0, nil); len(rs) != 0 {
		t.Errorf("topK 0 returned %d results", len(rs))
	}
}

func TestSearch_DimensionMismatchScoresZero(t *testing.T) {
	s := openTestStore(t)
	insert(t, s, "c", 1, 1, 0, 0)
	insert(t, s, "c", 2, 1, 0)

	results, err := s.Search(context.Background(), "c", []float32{1, 0}, 1, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].TurnID != 2 {
		t.Errorf("got %v, want turn 2", ids(results))
	}
}

func TestInsert_ReplacesExisting(t *testing.T) {
	s := openTestStore(t)
	insert(t, s, "c", 1, 1, 0)
	insert(t, s, "c", 1, 0, 1)

	n, err := s.Count(context.Background(), "c")
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v; want 1", n, err)
	}
	results, _ := s.Search(context.Background(), "c", []float32{0, 1}, 1, nil)
	if len(results) != 1 || results[0].Score < 0.99 {
		t.Errorf("replacement embedding not used: %+v", results)
	}
}

func TestTrim_KeepsMostRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for id := int64(1); id <= 6; id++ {
		insert(t, s, "c", id, 1, float32(id))
	}
	insert(t, s, "other", 7, 1, 1)

	n, err := s.Trim(ctx, "c", 2)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if n != 4 {
		t.Errorf("trimmed %d, want 4", n)
	}

	results, _ := s.Search(ctx, "c", []float32{1, 1}, 10, nil)
	got := map[int64]bool{}
	for _, r := range results {
		got[r.TurnID] = true
	}
	if len(got) != 2 || !got[5] || !got[6] {
		t.Errorf("remaining = %v, want turns 5 and 6", ids(results))
	}
	if c, _ := s.Count(ctx, "other"); c != 1 {
		t.Errorf("other conversation count = %d, want 1", c)
	}

	if n, _ := s.Trim(ctx, "c", 0); n != 0 {
		t.Errorf("Trim(0) deleted %d rows", n)
	}
}

func TestInsert_EmptyVector(t *testing.T) {
	s := openTestStore(t)
	if err := s.Insert(context.Background(), Record{TurnID: 1, Conversation: "c"}); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.125}
	out, err := decodeFloat32sInto(nil, encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("index %d: got %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := decodeFloat32sInto(nil, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
