package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/legalario/txn-service/internal/idempotency"
	"github.com/legalario/txn-service/internal/model"
	"github.com/legalario/txn-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInvalidAmount means a non-positive amount was passed.
var ErrInvalidAmount = errors.New("amount must be positive")

// ErrInvalidType means the transaction type is not a known variant.
var ErrInvalidType = errors.New("unknown transaction type")

// ErrMissingActor means no actor id was supplied.
var ErrMissingActor = errors.New("actor_id is required")

// DuplicateError reports an idempotency collision and points the caller
// at the canonical existing transaction.
type DuplicateError struct {
	ExistingID uuid.UUID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate transaction, original: %s", e.ExistingID)
}

// AsyncHandle is what an async submission returns immediately.
type AsyncHandle struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	TaskID        string                  `json:"task_id"`
	Status        model.TransactionStatus `json:"status"`
	Message       string                  `json:"message"`
}

// TransactionService glues submission logic and repository.
type TransactionService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewTransactionService returns TransactionService.
func NewTransactionService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *TransactionService {
	return &TransactionService{repo: r, log: logger}
}

func validate(actorID string, amount decimal.Decimal, txType model.TransactionType) error {
	if actorID == "" {
		return ErrMissingActor
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	if !txType.Valid() {
		return ErrInvalidType
	}
	return nil
}

// Submit handles the synchronous path: the external effect is considered
// complete immediately, so the row is born terminal.
func (s *TransactionService) Submit(ctx context.Context, actorID string, amount decimal.Decimal, txType model.TransactionType) (*model.Transaction, error) {
	if err := validate(actorID, amount, txType); err != nil {
		return nil, err
	}
	key := idempotency.Derive(actorID, amount, txType, idempotency.PathSync)

	found, existing, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, &DuplicateError{ExistingID: existing.ID}
	}

	now := time.Now().UTC()
	txn := &model.Transaction{
		IdempotencyKey: key,
		ActorID:        actorID,
		Amount:         amount,
		Type:           txType,
		Status:         model.StatusProcessed,
		ProcessedAt:    &now,
	}
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		if errors.Is(err, repo.ErrDuplicateKey) {
			// lost the insert race; the winner is the canonical row
			return nil, s.duplicateByKey(ctx, key)
		}
		return nil, err
	}
	if err := s.repo.CacheTransaction(ctx, txn); err != nil {
		s.log.Warnf("cache transaction %s: %v", txn.ID, err)
	}
	return txn, nil
}

// Dispatch handles the asynchronous path: persist a pending row, enqueue
// a work item, return a handle.
func (s *TransactionService) Dispatch(ctx context.Context, actorID string, amount decimal.Decimal, txType model.TransactionType) (*AsyncHandle, error) {
	if err := validate(actorID, amount, txType); err != nil {
		return nil, err
	}
	key := idempotency.Derive(actorID, amount, txType, idempotency.PathAsync)

	found, existing, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, &DuplicateError{ExistingID: existing.ID}
	}

	txn := &model.Transaction{
		IdempotencyKey: key,
		ActorID:        actorID,
		Amount:         amount,
		Type:           txType,
		Status:         model.StatusPending,
	}
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		if errors.Is(err, repo.ErrDuplicateKey) {
			return nil, s.duplicateByKey(ctx, key)
		}
		return nil, err
	}

	taskID := uuid.NewString()
	item := repo.WorkItem{TransactionID: txn.ID, TaskID: taskID}
	if err := s.repo.EnqueueWork(ctx, item); err != nil {
		// row is committed and stays pending until a recovery sweep
		// picks it up; the caller gets the handle anyway
		s.log.Errorf("enqueue work for %s: %v", txn.ID, err)
		return &AsyncHandle{
			TransactionID: txn.ID,
			Status:        model.StatusPending,
			Message:       "transaction accepted but dispatch failed; awaiting recovery",
		}, nil
	}
	if err := s.repo.SetTaskRef(ctx, txn.ID, taskID); err != nil {
		s.log.Warnf("set task ref for %s: %v", txn.ID, err)
	}
	return &AsyncHandle{
		TransactionID: txn.ID,
		TaskID:        taskID,
		Status:        model.StatusPending,
		Message:       "transaction enqueued for asynchronous processing",
	}, nil
}

// duplicateByKey resolves the canonical row after a lost insert race.
func (s *TransactionService) duplicateByKey(ctx context.Context, key string) error {
	found, existing, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil || !found {
		// the winner must exist; if we cannot read it, report the
		// collision without an id rather than an infrastructure error
		return &DuplicateError{}
	}
	return &DuplicateError{ExistingID: existing.ID}
}

// Get fetches one transaction, cache first.
func (s *TransactionService) Get(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	if txn, err := s.repo.GetCachedTransaction(ctx, id); err == nil {
		return txn, nil
	}
	txn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CacheTransaction(ctx, txn); err != nil {
		s.log.Warnf("cache transaction %s: %v", txn.ID, err)
	}
	return txn, nil
}

// List returns transactions for the query surface.
func (s *TransactionService) List(ctx context.Context, f repo.ListFilter) ([]model.Transaction, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 100
	}
	return s.repo.List(ctx, f)
}

// Repo exposes underlying repository (unit tests helper).
func (s *TransactionService) Repo() repo.RepositoryInterface {
	return s.repo
}
