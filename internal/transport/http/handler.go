package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/legalario/txn-service/internal/model"
	"github.com/legalario/txn-service/internal/repo"
	"github.com/legalario/txn-service/internal/service"
	"github.com/shopspring/decimal"
)

type transactionReq struct {
	ActorID string          `json:"actor_id" binding:"required"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
	Type    string          `json:"type" binding:"required"`
}

func createHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transactionReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		txn, err := svc.Submit(c, req.ActorID, req.Amount, model.TransactionType(req.Type))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, txn)
	}
}

func asyncProcessHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transactionReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		handle, err := svc.Dispatch(c, req.ActorID, req.Amount, model.TransactionType(req.Type))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, handle)
	}
}

func listHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		status := model.TransactionStatus(c.Query("status"))
		if status != "" && !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
		txns, err := svc.List(c, repo.ListFilter{
			ActorID: c.Query("actor_id"),
			Status:  status,
			Offset:  skip,
			Limit:   limit,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, txns)
	}
}

func getHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
			return
		}
		txn, err := svc.Get(c, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, txn)
	}
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "txn-service"})
}

// writeError maps domain errors onto HTTP. Duplicates always carry the
// canonical existing id, never a generic failure.
func writeError(c *gin.Context, err error) {
	var dup *service.DuplicateError
	switch {
	case errors.As(err, &dup):
		c.JSON(http.StatusConflict, gin.H{
			"error":                   "DUPLICATE_TRANSACTION",
			"message":                 "a transaction with these terms already exists",
			"existing_transaction_id": dup.ExistingID,
		})
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidType),
		errors.Is(err, service.ErrMissingActor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repo.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
