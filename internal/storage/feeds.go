package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InsertFeed adds a watched feed and seeds its seen-set with seedIDs in one
// transaction. It returns ErrDuplicate if the URL is already watched in the
// feed's scope.
func (s *Store) InsertFeed(ctx context.Context, f Feed, seedIDs []string) error {
	sinks, err := json.Marshal(nonNil(f.Sinks))
	if err != nil {
		return err
	}
	created := f.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO feeds (scope, url, category, title, sinks, last_poll, next_poll, failures, last_error, generation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', 1, ?)`,
		f.Scope, f.URL, f.Category, f.Title, string(sinks), formatTime(f.LastPoll), formatTime(f.NextPoll), formatTime(created),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return err
	}
	if err := insertSeen(ctx, tx, f.Scope, f.URL, seedIDs, 1, created); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteFeed removes a watched feed and its seen-set.
func (s *Store) DeleteFeed(ctx context.Context, scope, url string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM feeds WHERE scope = ? AND url = ?`, scope, url)
	if err := requireRow(res, err); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_seen WHERE scope = ? AND url = ?`, scope, url); err != nil {
		return err
	}
	return tx.Commit()
}

// GetFeed returns one watched feed.
func (s *Store) GetFeed(ctx context.Context, scope, url string) (Feed, error) {
	feeds, err := s.queryFeeds(ctx, `WHERE scope = ? AND url = ?`, scope, url)
	if err != nil {
		return Feed{}, err
	}
	if len(feeds) == 0 {
		return Feed{}, ErrNotFound
	}
	return feeds[0], nil
}

// ListFeeds returns the feeds watched in scope, or every feed when scope is
// empty, ordered by scope then creation time.
func (s *Store) ListFeeds(ctx context.Context, scope string) ([]Feed, error) {
	if scope == "" {
		return s.queryFeeds(ctx, ``)
	}
	return s.queryFeeds(ctx, `WHERE scope = ?`, scope)
}

func (s *Store) queryFeeds(ctx context.Context, where string, args ...any) ([]Feed, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope, url, category, title, sinks, last_poll, next_poll, failures, last_error, generation, created_at
		FROM feeds `+where+` ORDER BY scope ASC, created_at ASC, url ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		var f Feed
		var sinks, lastPoll, nextPoll, createdAt string
		if err := rows.Scan(&f.Scope, &f.URL, &f.Category, &f.Title, &sinks, &lastPoll, &nextPoll,
			&f.Failures, &f.LastError, &f.Generation, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sinks), &f.Sinks); err != nil {
			return nil, fmt.Errorf("decoding sinks for %s: %w", f.URL, err)
		}
		if f.LastPoll, err = parseTime(lastPoll); err != nil {
			return nil, err
		}
		if f.NextPoll, err = parseTime(nextPoll); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// SeenSet returns the item identifiers recorded for a feed.
func (s *Store) SeenSet(ctx context.Context, scope, url string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id FROM feed_seen WHERE scope = ? AND url = ?`, scope, url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		seen[id] = struct{}{}
	}
	return seen, rows.Err()
}

// PollResult is what a successful poll commits for one feed.
type PollResult struct {
	ItemIDs   []string // every identifier in the fetched document
	Title     string
	PolledAt  time.Time
	NextPoll  time.Time
	Retention int // max seen identifiers to keep; 0 keeps all
}

// CommitPoll records a successful poll in one transaction: every fetched
// identifier joins the seen-set, last_poll and next_poll advance and the
// failure counter resets. Identifiers from the current fetch are never
// trimmed by the retention cap, so items still in the feed cannot be
// announced again. It returns ErrNotFound if the feed was unwatched while
// the poll was running; nothing is written in that case.
func (s *Store) CommitPoll(ctx context.Context, scope, url string, r PollResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning poll transaction: %w", err)
	}
	defer tx.Rollback()

	var gen int64
	err = tx.QueryRowContext(ctx, `SELECT generation FROM feeds WHERE scope = ? AND url = ?`, scope, url).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	gen++

	if err := insertSeen(ctx, tx, scope, url, r.ItemIDs, gen, r.PolledAt); err != nil {
		return err
	}

	if r.Retention > 0 {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM feed_seen
			WHERE scope = ? AND url = ? AND generation < ? AND item_id NOT IN (
				SELECT item_id FROM feed_seen WHERE scope = ? AND url = ?
				ORDER BY generation DESC, rowid DESC LIMIT ?
			)`, scope, url, gen, scope, url, r.Retention)
		if err != nil {
			return fmt.Errorf("trimming seen-set: %w", err)
		}
	}

	title := r.Title
	_, err = tx.ExecContext(ctx, `
		UPDATE feeds SET last_poll = ?, next_poll = ?, failures = 0, last_error = '', generation = ?,
			title = CASE WHEN ? != '' THEN ? ELSE title END
		WHERE scope = ? AND url = ?`,
		formatTime(r.PolledAt), formatTime(r.NextPoll), gen, title, title, scope, url)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RecordPollFailure stores the failure count and the next attempt time for a
// feed whose poll failed.
func (s *Store) RecordPollFailure(ctx context.Context, scope, url string, failures int, lastErr string, nextPoll time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feeds SET failures = ?, last_error = ?, next_poll = ? WHERE scope = ? AND url = ?`,
		failures, lastErr, formatTime(nextPoll), scope, url)
	return requireRow(res, err)
}

func insertSeen(ctx context.Context, tx *sql.Tx, scope, url string, ids []string, gen int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO feed_seen (scope, url, item_id, generation, first_seen) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, url, item_id) DO UPDATE SET generation = excluded.generation`)
	if err != nil {
		return fmt.Errorf("preparing seen insert: %w", err)
	}
	defer stmt.Close()

	ts := formatTime(at)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, scope, url, id, gen, ts); err != nil {
			return fmt.Errorf("recording seen item %s: %w", id, err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
