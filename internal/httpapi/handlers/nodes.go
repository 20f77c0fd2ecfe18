package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladfaust/simularity-sub001/internal/registry"
)

// RegisterNode handles an inference node's self-registration.
func (h *Handler) RegisterNode(c *gin.Context) {
	var node registry.Node
	if err := c.ShouldBindJSON(&node); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := node.Validate(); err != nil {
		log.Printf("invalid node registration err=%v", err)
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Registry.Register(c.Request.Context(), node); err != nil {
		if errors.Is(err, registry.ErrAlreadyRegistered) {
			log.Printf("inference node already registered node=%s", node.ID)
			fail(c, http.StatusBadRequest, "already registered")
			return
		}
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}

	log.Printf("registered inference node node=%s model=%s url=%s", node.ID, node.GptModel, node.BaseURL)
	c.Status(http.StatusCreated)
}

// NodeHeartbeat refreshes a node's TTL. An expired node must
// re-register from scratch.
func (h *Handler) NodeHeartbeat(c *gin.Context) {
	nodeID := c.Param("id")

	if err := h.Registry.Heartbeat(c.Request.Context(), nodeID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			log.Printf("inference node already expired node=%s", nodeID)
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusOK)
}
