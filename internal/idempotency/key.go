package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/legalario/txn-service/internal/model"
	"github.com/shopspring/decimal"
)

// Path discriminates the submission namespace. Sync and async keys never
// collide: the same payload submitted on both paths is two logical
// transactions.
type Path string

const (
	PathSync  Path = ""
	PathAsync Path = "async_"
)

const digestLen = 32

// Derive maps (actor, amount, type) to a stable key within the path's
// namespace. Same inputs always give the same key; any field change
// gives a different one.
func Derive(actorID string, amount decimal.Decimal, txType model.TransactionType, path Path) string {
	data := fmt.Sprintf("%s:%s:%s", actorID, amount.String(), txType)
	sum := sha256.Sum256([]byte(data))
	return string(path) + hex.EncodeToString(sum[:])[:digestLen]
}

// BaseKey strips the async namespace prefix, yielding the value shared
// by both paths for logically equivalent payloads.
func BaseKey(key string) string {
	return strings.TrimPrefix(key, string(PathAsync))
}
