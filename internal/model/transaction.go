package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionStatus is the processing state of a transaction.
// pending is the only non-terminal state: once a row reaches processed
// or failed it never changes again.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusProcessed TransactionStatus = "processed"
	StatusFailed    TransactionStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
func (s TransactionStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// TransactionType classifies the monetary operation; fixed at creation.
type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeTransfer   TransactionType = "transfer"
)

// Valid reports whether t is a known type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeTransfer:
		return true
	}
	return false
}

type Transaction struct {
	ID             uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	IdempotencyKey string            `gorm:"size:255;uniqueIndex;not null" json:"idempotency_key"`
	ActorID        string            `gorm:"size:255;index;not null" json:"actor_id"`
	Amount         decimal.Decimal   `gorm:"type:numeric(20,8);not null" json:"amount"`
	Type           TransactionType   `gorm:"size:32;not null" json:"type"`
	Status         TransactionStatus `gorm:"size:32;not null;default:'pending'" json:"status"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty"`
	WorkerTaskRef  *string           `gorm:"size:255" json:"worker_task_ref,omitempty"`
	ErrorMessage   *string           `gorm:"size:500" json:"error_message,omitempty"`
}

func (Transaction) TableName() string { return "transactions" }

// BeforeCreate assigns the id so callers see it before the insert returns.
func (t *Transaction) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
