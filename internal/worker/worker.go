package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/legalario/txn-service/internal/idempotency"
	"github.com/legalario/txn-service/internal/model"
	"github.com/legalario/txn-service/internal/repo"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// StatusPublisher pushes state-change events after a transition commits.
type StatusPublisher interface {
	PublishStatusChange(ctx context.Context, t *model.Transaction) error
}

// Options bound the retry and concurrency behavior.
type Options struct {
	Concurrency  int
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Worker finalizes pending transactions pulled off the work queue. All
// cross-worker coordination goes through the store's uniqueness
// constraint and status guard; workers share no in-memory state.
type Worker struct {
	repo repo.RepositoryInterface
	bank Gateway
	pub  StatusPublisher
	opts Options
	log  *zap.SugaredLogger
}

func New(r repo.RepositoryInterface, bank Gateway, pub StatusPublisher, opts Options, logger *zap.SugaredLogger) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Worker{repo: r, bank: bank, pub: pub, opts: opts, log: logger}
}

// Process runs the state machine for one work item. A nil return means
// the item is settled and must not be redelivered; an error means the
// attempt failed on infrastructure and may be retried.
func (w *Worker) Process(ctx context.Context, item repo.WorkItem) error {
	txn, err := w.repo.GetByID(ctx, item.TransactionID)
	if errors.Is(err, repo.ErrNotFound) {
		// the row genuinely does not exist; retrying cannot help
		w.log.Warnf("task %s: transaction %s not found", item.TaskID, item.TransactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}

	// redelivery of an already-finalized item is a no-op
	if txn.Status.Terminal() {
		w.log.Infof("transaction %s already %s, skipping", txn.ID, txn.Status)
		return nil
	}

	if err := w.bank.Connect(ctx); err != nil {
		return fmt.Errorf("bank call: %w", err)
	}

	baseKey := idempotency.BaseKey(txn.IdempotencyKey)
	siblingKeys := []string{baseKey, string(idempotency.PathAsync) + baseKey}
	found, sibling, err := w.repo.FindProcessedSibling(ctx, txn.ID, siblingKeys)
	if err != nil {
		return fmt.Errorf("duplicate probe: %w", err)
	}

	var final *model.Transaction
	switch {
	case found:
		// a logically equivalent transaction on the other path finished
		// first; first to process wins
		final, err = w.repo.FinalizeStatus(ctx, txn.ID, model.StatusFailed,
			fmt.Sprintf("duplicate transaction, original: %s", sibling.ID))
	default:
		settleErr := w.bank.Settle(ctx)
		switch {
		case settleErr == nil:
			final, err = w.repo.FinalizeStatus(ctx, txn.ID, model.StatusProcessed, "")
		case errors.Is(settleErr, ErrExternalDeclined):
			final, err = w.repo.FinalizeStatus(ctx, txn.ID, model.StatusFailed,
				"simulated error processing with external bank")
		default:
			return fmt.Errorf("bank settle: %w", settleErr)
		}
	}
	if errors.Is(err, repo.ErrAlreadyFinal) {
		// another delivery finalized the row between our load and update
		w.log.Infof("transaction %s finalized elsewhere, skipping", txn.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finalize status: %w", err)
	}

	if err := w.repo.CacheTransaction(ctx, final); err != nil {
		w.log.Warnf("cache transaction %s: %v", final.ID, err)
	}
	// the transition is committed; a publish failure is logged and
	// swallowed, never rolled back or retried
	if err := w.pub.PublishStatusChange(ctx, final); err != nil {
		w.log.Errorf("publish status change for %s: %v", final.ID, err)
	}
	w.log.Infof("transaction %s finalized as %s", final.ID, final.Status)
	return nil
}

// processWithRetry wraps Process with the bounded retry budget.
func (w *Worker) processWithRetry(ctx context.Context, item repo.WorkItem) error {
	var err error
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		if err = w.Process(ctx, item); err == nil {
			return nil
		}
		w.log.Warnf("task %s attempt %d/%d: %v", item.TaskID, attempt, w.opts.MaxAttempts, err)
		if attempt == w.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.opts.RetryBackoff):
		}
	}
	return err
}

// Run consumes work items until ctx is cancelled. Each item runs on its
// own goroutine behind a concurrency gate so one slow bank call never
// holds up unrelated items; offsets are committed only after handling,
// giving at-least-once delivery.
func (w *Worker) Run(ctx context.Context, reader *kafka.Reader) {
	sem := make(chan struct{}, w.opts.Concurrency)
	var wg sync.WaitGroup

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			w.log.Errorf("fetch work item: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		var item repo.WorkItem
		if err := json.Unmarshal(msg.Value, &item); err != nil {
			w.log.Errorf("drop malformed work item at offset %d: %v", msg.Offset, err)
			if err := reader.CommitMessages(ctx, msg); err != nil {
				w.log.Errorf("commit malformed item: %v", err)
			}
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(msg kafka.Message, item repo.WorkItem) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := w.processWithRetry(ctx, item); err != nil {
				w.log.Errorf("task %s exhausted retry budget: %v", item.TaskID, err)
				if dlqErr := w.repo.PublishDeadLetter(ctx, item, err); dlqErr != nil {
					w.log.Errorf("dead-letter task %s: %v", item.TaskID, dlqErr)
				}
			}
			if err := reader.CommitMessages(ctx, msg); err != nil {
				w.log.Errorf("commit task %s: %v", item.TaskID, err)
			}
		}(msg, item)
	}

	wg.Wait()
	w.log.Info("worker stopped")
}
