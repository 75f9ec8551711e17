package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/legalario/txn-service/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrDuplicateKey is returned when an insert loses the idempotency-key
// uniqueness race.
var ErrDuplicateKey = errors.New("duplicate idempotency key")

// ErrNotFound is returned when the referenced transaction does not exist.
var ErrNotFound = errors.New("transaction not found")

// ErrAlreadyFinal is returned when a status update targets a row that is
// no longer pending. Terminal statuses never change.
var ErrAlreadyFinal = errors.New("transaction already in terminal status")

// WorkItem is the payload queued for the worker process.
type WorkItem struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	TaskID        string    `json:"task_id"`
}

// ListFilter narrows List results.
type ListFilter struct {
	ActorID string
	Status  model.TransactionStatus
	Offset  int
	Limit   int
}

// RepositoryInterface restricts Repo methods (unit test mocks).
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	CreateTransaction(ctx context.Context, t *model.Transaction) error
	FindByIdempotencyKey(ctx context.Context, key string) (bool, *model.Transaction, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
	List(ctx context.Context, f ListFilter) ([]model.Transaction, error)
	FindProcessedSibling(ctx context.Context, excludeID uuid.UUID, keys []string) (bool, *model.Transaction, error)
	FinalizeStatus(ctx context.Context, id uuid.UUID, status model.TransactionStatus, errMsg string) (*model.Transaction, error)
	SetTaskRef(ctx context.Context, id uuid.UUID, taskRef string) error
	EnqueueWork(ctx context.Context, item WorkItem) error
	PublishDeadLetter(ctx context.Context, item WorkItem, cause error) error
	CacheTransaction(ctx context.Context, t *model.Transaction) error
	GetCachedTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	dlq    *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo. dlq may be nil in processes that never
// park work items.
func NewRepository(db *gorm.DB, rdb *redis.Client, writer, dlq *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: writer, dlq: dlq, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// CreateTransaction inserts a record. The unique index on
// idempotency_key is the final arbiter under concurrent inserts; a
// constraint violation comes back as ErrDuplicateKey.
func (r *Repository) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

// FindByIdempotencyKey looks up an existing record by key.
func (r *Repository) FindByIdempotencyKey(ctx context.Context, key string) (bool, *model.Transaction, error) {
	var t model.Transaction
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&t).Error
	if err == nil {
		return true, &t, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil, nil
	}
	return false, nil, err
}

// GetByID fetches one transaction.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	var t model.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// List returns transactions newest first, optionally filtered by actor
// and status.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]model.Transaction, error) {
	q := r.db.WithContext(ctx).Model(&model.Transaction{})
	if f.ActorID != "" {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var txs []model.Transaction
	err := q.Order("created_at desc").Offset(f.Offset).Limit(f.Limit).Find(&txs).Error
	return txs, err
}

// FindProcessedSibling searches for a different transaction whose key is
// one of keys and which already reached processed.
func (r *Repository) FindProcessedSibling(ctx context.Context, excludeID uuid.UUID, keys []string) (bool, *model.Transaction, error) {
	var t model.Transaction
	err := r.db.WithContext(ctx).
		Where("id <> ? AND status = ? AND idempotency_key IN ?", excludeID, model.StatusProcessed, keys).
		First(&t).Error
	if err == nil {
		return true, &t, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil, nil
	}
	return false, nil, err
}

// FinalizeStatus moves a pending row to a terminal status in one guarded
// UPDATE. The status='pending' predicate enforces the monotonic lattice:
// losing the guard means some other attempt already finalized the row.
func (r *Repository) FinalizeStatus(ctx context.Context, id uuid.UUID, status model.TransactionStatus, errMsg string) (*model.Transaction, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finalize to non-terminal status %q", status)
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	switch status {
	case model.StatusProcessed:
		updates["processed_at"] = now
	case model.StatusFailed:
		updates["error_message"] = errMsg
	}
	res := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyFinal
	}
	return r.GetByID(ctx, id)
}

// SetTaskRef records the queue task handle on an async submission.
func (r *Repository) SetTaskRef(ctx context.Context, id uuid.UUID, taskRef string) error {
	return r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"worker_task_ref": taskRef, "updated_at": time.Now().UTC()}).Error
}

// EnqueueWork sends a work item to the queue topic.
func (r *Repository) EnqueueWork(ctx context.Context, item WorkItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(item.TransactionID.String()),
		Value: payload,
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// PublishDeadLetter parks a work item whose retry budget is exhausted.
func (r *Repository) PublishDeadLetter(ctx context.Context, item WorkItem, cause error) error {
	payload, err := json.Marshal(map[string]interface{}{
		"transaction_id": item.TransactionID,
		"task_id":        item.TaskID,
		"error":          cause.Error(),
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(item.TransactionID.String()),
		Value: payload,
		Time:  time.Now(),
	}
	return r.dlq.WriteMessages(ctx, msg)
}

// CacheTransaction writes a snapshot to Redis.
func (r *Repository) CacheTransaction(ctx context.Context, t *model.Transaction) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, txnCacheKey(t.ID), payload, 5*time.Minute).Err()
}

// GetCachedTransaction reads a snapshot from Redis.
func (r *Repository) GetCachedTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	raw, err := r.rdb.Get(ctx, txnCacheKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var t model.Transaction
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func txnCacheKey(id uuid.UUID) string { return fmt.Sprintf("txn:%s", id) }
