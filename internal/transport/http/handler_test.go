package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/legalario/txn-service/internal/auth"
	"github.com/legalario/txn-service/internal/config"
	"github.com/legalario/txn-service/internal/logger"
	"github.com/legalario/txn-service/internal/model"
	"github.com/legalario/txn-service/internal/repo"
	"github.com/legalario/txn-service/internal/service"
	"github.com/legalario/txn-service/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

// apiRepo swaps the kafka writer for an in-memory capture so dispatch
// can run without a broker.
type apiRepo struct {
	*repo.Repository
	enqueued []repo.WorkItem
}

func (r *apiRepo) EnqueueWork(_ context.Context, item repo.WorkItem) error {
	r.enqueued = append(r.enqueued, item)
	return nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	router, _, _ := newTestEnv(t)
	return router
}

func newTestEnv(t *testing.T) (*gin.Engine, *ws.Hub, *apiRepo) {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Transaction{}))

	// no expectations registered: every cache command errors, which the
	// service treats as a miss
	rdb, _ := redismock.NewClientMock()

	log, err := logger.NewLogger()
	require.NoError(t, err)

	r := &apiRepo{Repository: repo.NewRepository(db, rdb, nil, nil, log)}
	svc := service.NewTransactionService(r, log)
	hub := ws.NewHub(log)
	verifier := auth.NewJWTVerifier(testSecret)
	router := NewRouter(svc, hub, verifier, config.RateLimitConfig{RPS: 1000, Burst: 1000}, log)
	return router, hub, r
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func testToken(t *testing.T) string {
	token, err := auth.GenerateToken(testSecret, "u1", time.Minute)
	require.NoError(t, err)
	return token
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	router := newTestRouter(t)
	body := gin.H{"actor_id": "u1", "amount": 100, "type": "deposit"}

	rec := doJSON(t, router, http.MethodPost, "/api/transactions/create", body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/transactions/create", body, "bogus")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreate_ThenDuplicateConflict(t *testing.T) {
	router := newTestRouter(t)
	token := testToken(t)
	body := gin.H{"actor_id": "u1", "amount": 100, "type": "deposit"}

	rec := doJSON(t, router, http.MethodPost, "/api/transactions/create", body, token)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created model.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, model.StatusProcessed, created.Status)

	rec = doJSON(t, router, http.MethodPost, "/api/transactions/create", body, token)
	require.Equal(t, http.StatusConflict, rec.Code)

	var conflict map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflict))
	assert.Equal(t, "DUPLICATE_TRANSACTION", conflict["error"])
	assert.Equal(t, created.ID.String(), conflict["existing_transaction_id"])
}

func TestCreate_Validation(t *testing.T) {
	router := newTestRouter(t)
	token := testToken(t)

	rec := doJSON(t, router, http.MethodPost, "/api/transactions/create",
		gin.H{"actor_id": "u1", "amount": -5, "type": "deposit"}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/transactions/create",
		gin.H{"actor_id": "u1", "amount": 5, "type": "loan"}, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsyncProcess_ReturnsPendingHandle(t *testing.T) {
	router := newTestRouter(t)
	token := testToken(t)
	body := gin.H{"actor_id": "u1", "amount": 100, "type": "deposit"}

	rec := doJSON(t, router, http.MethodPost, "/api/transactions/async-process", body, token)
	require.Equal(t, http.StatusOK, rec.Code)

	var handle service.AsyncHandle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handle))
	assert.Equal(t, model.StatusPending, handle.Status)
	assert.NotEqual(t, uuid.Nil, handle.TransactionID)
	assert.NotEmpty(t, handle.TaskID)
}

func TestGetAndList(t *testing.T) {
	router := newTestRouter(t)
	token := testToken(t)

	rec := doJSON(t, router, http.MethodPost, "/api/transactions/create",
		gin.H{"actor_id": "u1", "amount": 100, "type": "deposit"}, token)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created model.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, router, http.MethodGet, "/api/transactions/"+created.ID.String(), nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/transactions/"+uuid.NewString(), nil, token)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/transactions/not-a-uuid", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/transactions?actor_id=u1", nil, token)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []model.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	rec = doJSON(t, router, http.MethodGet, "/api/transactions?status=bogus", nil, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
