package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladfaust/simularity-sub001/internal/config"
	"github.com/vladfaust/simularity-sub001/internal/gpt"
	"github.com/vladfaust/simularity-sub001/internal/httpapi/handlers"
	"github.com/vladfaust/simularity-sub001/internal/httpapi/middleware"
	"github.com/vladfaust/simularity-sub001/internal/registry"
)

func NewRouter(cfg config.Config, svc *gpt.Service, reg registry.Registry) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	h := handlers.NewHandler(svc, reg)

	r.GET("/ping", h.Ping)

	// Inference node boundary (shared-secret auth).
	nodeGroup := r.Group("/")
	nodeGroup.Use(middleware.NodeAuth(cfg.InferenceNodeSecret))
	nodeGroup.POST("/inference-nodes", h.RegisterNode)
	nodeGroup.HEAD("/inference-nodes/:id/heartbeat", h.NodeHeartbeat)

	// Client boundary (JWT when configured).
	gpts := r.Group("/gpts")
	gpts.Use(middleware.ClientAuth(cfg.JWTSecret))
	gpts.POST("", h.CreateSession)
	gpts.POST("/:id/decode", h.Decode)
	gpts.POST("/:id/infer", h.Infer)
	gpts.POST("/:id/commit", h.CommitSession)
	gpts.POST("/:id/reset", h.ResetSession)
	gpts.POST("/:id/abort-inference", h.AbortInference)
	gpts.DELETE("/:id", h.DeleteSession)
	gpts.HEAD("/:id", h.CheckSession)

	return r
}
