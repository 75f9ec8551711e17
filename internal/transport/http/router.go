package http

import (
	"github.com/gin-gonic/gin"
	"github.com/legalario/txn-service/internal/auth"
	"github.com/legalario/txn-service/internal/config"
	"github.com/legalario/txn-service/internal/service"
	"github.com/legalario/txn-service/internal/ws"
	"go.uber.org/zap"
)

func NewRouter(svc *service.TransactionService, hub *ws.Hub, verifier auth.Verifier, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))

	api := r.Group("/api")
	api.GET("/health", healthHandler)
	api.GET("/transactions/stream", streamHandler(hub, log))

	txns := api.Group("/transactions")
	txns.Use(AuthMiddleware(verifier))
	{
		txns.POST("/create", createHandler(svc))
		txns.POST("/async-process", asyncProcessHandler(svc))
		txns.GET("", listHandler(svc))
		txns.GET("/:id", getHandler(svc))
	}
	return r
}
