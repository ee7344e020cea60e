package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/TaterTotterson/Tater/internal/memory"
	"github.com/TaterTotterson/Tater/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetTurn(ctx context.Context, id int64) (storage.Turn, error)
}

// Indexer embeds a stored turn. Implemented by memory.Manager.
type Indexer interface {
	IndexTurn(ctx context.Context, t storage.Turn) error
}

// Worker retries turn embeddings that failed at append time.
type Worker struct {
	store   JobStore
	indexer Indexer
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 5s.
func NewWorker(store JobStore, indexer Indexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		store:   store,
		indexer: indexer,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("backfill iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single turn_embed job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{memory.JobEmbedTurn})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("backfill job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	turnID, err := memory.ParseEmbedPayload(job.PayloadJSON)
	if err != nil {
		return err
	}

	turn, err := w.store.GetTurn(ctx, turnID)
	if errors.Is(err, storage.ErrNotFound) {
		// Trimmed or wiped since the job was queued.
		w.logger.Debug("backfill turn gone", "turn", turnID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading turn %d: %w", turnID, err)
	}

	if err := w.indexer.IndexTurn(ctx, turn); err != nil {
		return fmt.Errorf("embedding turn %d: %w", turnID, err)
	}
	return nil
}
