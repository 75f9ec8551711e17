package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/legalario/txn-service/internal/logger"
	"github.com/legalario/txn-service/internal/model"
	"github.com/legalario/txn-service/internal/repo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// stubRepo keeps the real store but captures queue traffic and turns the
// redis cache into a no-op.
type stubRepo struct {
	*repo.Repository
	enqueued   []repo.WorkItem
	enqueueErr error
}

func (s *stubRepo) EnqueueWork(_ context.Context, item repo.WorkItem) error {
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.enqueued = append(s.enqueued, item)
	return nil
}

func (s *stubRepo) CacheTransaction(context.Context, *model.Transaction) error { return nil }

func (s *stubRepo) GetCachedTransaction(context.Context, uuid.UUID) (*model.Transaction, error) {
	return nil, errors.New("cache miss")
}

func newTestService(t *testing.T) (*TransactionService, *stubRepo, context.Context) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Transaction{}))

	log, err := logger.NewLogger()
	require.NoError(t, err)
	stub := &stubRepo{Repository: repo.NewRepository(db, nil, nil, nil, log)}
	return NewTransactionService(stub, log), stub, context.Background()
}

func TestSubmit_Succeeds(t *testing.T) {
	svc, _, ctx := newTestService(t)

	txn, err := svc.Submit(ctx, "u1", decimal.NewFromInt(100), model.TypeDeposit)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, txn.Status)
	require.NotNil(t, txn.ProcessedAt)
	assert.NotEmpty(t, txn.IdempotencyKey)
	assert.Nil(t, txn.WorkerTaskRef)
}

func TestSubmit_DuplicateReferencesOriginal(t *testing.T) {
	svc, _, ctx := newTestService(t)

	first, err := svc.Submit(ctx, "u1", decimal.NewFromInt(100), model.TypeDeposit)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, "u1", decimal.NewFromInt(100), model.TypeDeposit)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingID)
}

func TestSubmit_Validation(t *testing.T) {
	svc, _, ctx := newTestService(t)

	cases := []struct {
		name    string
		actor   string
		amount  decimal.Decimal
		txType  model.TransactionType
		wantErr error
	}{
		{"zero amount", "u1", decimal.Zero, model.TypeDeposit, ErrInvalidAmount},
		{"negative amount", "u1", decimal.NewFromInt(-5), model.TypeDeposit, ErrInvalidAmount},
		{"unknown type", "u1", decimal.NewFromInt(5), model.TransactionType("loan"), ErrInvalidType},
		{"missing actor", "", decimal.NewFromInt(5), model.TypeDeposit, ErrMissingActor},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, tc.actor, tc.amount, tc.txType)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestDispatch_EnqueuesAndRecordsTaskRef(t *testing.T) {
	svc, stub, ctx := newTestService(t)

	handle, err := svc.Dispatch(ctx, "u1", decimal.NewFromInt(100), model.TypeDeposit)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, handle.Status)
	assert.NotEmpty(t, handle.TaskID)

	require.Len(t, stub.enqueued, 1)
	assert.Equal(t, handle.TransactionID, stub.enqueued[0].TransactionID)
	assert.Equal(t, handle.TaskID, stub.enqueued[0].TaskID)

	stored, err := svc.Repo().GetByID(ctx, handle.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	require.NotNil(t, stored.WorkerTaskRef)
	assert.Equal(t, handle.TaskID, *stored.WorkerTaskRef)
}

func TestDispatch_DuplicateReferencesOriginal(t *testing.T) {
	svc, _, ctx := newTestService(t)

	first, err := svc.Dispatch(ctx, "u1", decimal.NewFromInt(100), model.TypeDeposit)
	require.NoError(t, err)

	_, err = svc.Dispatch(ctx, "u1", decimal.NewFromInt(100), model.TypeDeposit)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.TransactionID, dup.ExistingID)
}

func TestSyncAndAsyncPathsDoNotCollide(t *testing.T) {
	svc, _, ctx := newTestService(t)

	txn, err := svc.Submit(ctx, "u1", decimal.NewFromInt(100), model.TypeDeposit)
	require.NoError(t, err)

	handle, err := svc.Dispatch(ctx, "u1", decimal.NewFromInt(100), model.TypeDeposit)
	require.NoError(t, err)
	assert.NotEqual(t, txn.ID, handle.TransactionID)
}

func TestDispatch_EnqueueFailureLeavesPendingRow(t *testing.T) {
	svc, stub, ctx := newTestService(t)
	stub.enqueueErr = errors.New("broker unreachable")

	handle, err := svc.Dispatch(ctx, "u1", decimal.NewFromInt(100), model.TypeDeposit)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, handle.Status)
	assert.Empty(t, handle.TaskID)

	stored, err := svc.Repo().GetByID(ctx, handle.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Nil(t, stored.WorkerTaskRef)
}

func TestGet_FallsBackToStore(t *testing.T) {
	svc, _, ctx := newTestService(t)

	txn, err := svc.Submit(ctx, "u1", decimal.NewFromInt(100), model.TypeDeposit)
	require.NoError(t, err)

	got, err := svc.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)
}

func TestList_DefaultsLimit(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.Submit(ctx, "u1", decimal.NewFromInt(100), model.TypeDeposit)
	require.NoError(t, err)

	txns, err := svc.List(ctx, repo.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}
