package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladfaust/simularity-sub001/internal/gpt"
	"github.com/vladfaust/simularity-sub001/internal/registry"
)

type Handler struct {
	Svc      *gpt.Service
	Registry registry.Registry
}

func NewHandler(svc *gpt.Service, reg registry.Registry) *Handler {
	return &Handler{Svc: svc, Registry: reg}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
