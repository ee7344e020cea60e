package storage

import (
	"context"
	"fmt"
	"strings"
)

// AppendTurn stores t. The caller assigns t.ID.
func (s *Store) AppendTurn(ctx context.Context, t Turn) error {
	if t.ID == 0 {
		return fmt.Errorf("turn id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, conversation, speaker, text, tool_name, tool_args, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Conversation, t.Speaker, t.Text, t.ToolName, t.ToolArgs, formatTime(t.CreatedAt),
	)
	return err
}

// RecentTurns returns the last k turns of a conversation, oldest first.
func (s *Store) RecentTurns(ctx context.Context, conversation string, k int) ([]Turn, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation, speaker, text, tool_name, tool_args, created_at FROM (
			SELECT * FROM turns WHERE conversation = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, conversation, k)
	if err != nil {
		return nil, err
	}
	return scanTurns(rows)
}

// TurnsByIDs returns the turns with the given ids, oldest first. Missing ids
// are skipped.
func (s *Store) TurnsByIDs(ctx context.Context, ids []int64) ([]Turn, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation, speaker, text, tool_name, tool_args, created_at
		FROM turns WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`) ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	return scanTurns(rows)
}

// GetTurn returns a single turn by id.
func (s *Store) GetTurn(ctx context.Context, id int64) (Turn, error) {
	turns, err := s.TurnsByIDs(ctx, []int64{id})
	if err != nil {
		return Turn{}, err
	}
	if len(turns) == 0 {
		return Turn{}, ErrNotFound
	}
	return turns[0], nil
}

// CountTurns returns how many turns a conversation holds.
func (s *Store) CountTurns(ctx context.Context, conversation string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE conversation = ?`, conversation).Scan(&n)
	return n, err
}

// TrimTurns deletes the oldest turns of a conversation so that at most keep
// remain, together with their embeddings. keep <= 0 is a no-op.
func (s *Store) TrimTurns(ctx context.Context, conversation string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning trim transaction: %w", err)
	}
	defer tx.Rollback()

	var cutoff int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MIN(id), 0) FROM (
			SELECT id FROM turns WHERE conversation = ? ORDER BY id DESC LIMIT ?
		)`, conversation, keep).Scan(&cutoff)
	if err != nil {
		return 0, fmt.Errorf("finding trim cutoff: %w", err)
	}
	if cutoff == 0 {
		return 0, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turn_embeddings WHERE conversation = ? AND turn_id < ?`, conversation, cutoff); err != nil {
		return 0, fmt.Errorf("trimming embeddings: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation = ? AND id < ?`, conversation, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trimming turns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// DeleteConversation removes every turn and embedding of a conversation.
func (s *Store) DeleteConversation(ctx context.Context, conversation string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turn_embeddings WHERE conversation = ?`, conversation); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE conversation = ?`, conversation)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanTurns(rows rowScanner) ([]Turn, error) {
	defer rows.Close()
	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Conversation, &t.Speaker, &t.Text, &t.ToolName, &t.ToolArgs, &createdAt); err != nil {
			return nil, err
		}
		ts, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for turn %d: %w", t.ID, err)
		}
		t.CreatedAt = ts
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
