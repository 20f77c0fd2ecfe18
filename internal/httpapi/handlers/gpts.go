package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vladfaust/simularity-sub001/internal/gpt"
	"github.com/vladfaust/simularity-sub001/internal/nodeapi"
)

// sessionIDParam validates the :id path parameter as a UUID before
// any lookup happens.
func sessionIDParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, "invalid gpt session id")
		return "", false
	}
	return id, true
}

// failSession maps service error kinds to HTTP statuses without
// leaking transport details.
func failSession(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gpt.ErrSessionNotFound):
		fail(c, http.StatusNotFound, "gpt session not found")
	case errors.Is(err, gpt.ErrNodeDead):
		fail(c, http.StatusGone, "inference node is dead")
	case errors.Is(err, gpt.ErrNodeSessionLost):
		fail(c, http.StatusBadGateway, "gpt session not found on inference node")
	case errors.Is(err, gpt.ErrAlreadyAborted):
		fail(c, http.StatusConflict, "already aborted")
	default:
		fail(c, http.StatusInternalServerError, "inference node call failed")
	}
}

// ndjsonWriter writes newline-delimited JSON chunks, flushing each.
type ndjsonWriter struct {
	c       *gin.Context
	flusher http.Flusher
	wrote   bool
}

func newNDJSONWriter(c *gin.Context) *ndjsonWriter {
	flusher, _ := c.Writer.(http.Flusher)
	return &ndjsonWriter{c: c, flusher: flusher}
}

func (w *ndjsonWriter) write(payload any) {
	if !w.wrote {
		w.c.Header("Content-Type", "application/x-ndjson")
		w.c.Header("Cache-Control", "no-cache")
		w.c.Status(http.StatusOK)
		w.wrote = true
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w.c.Writer, "%s\n", b)
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

type createSessionReq struct {
	Model         string  `json:"model" binding:"required"`
	InitialPrompt *string `json:"initialPrompt"`
}

// CreateSession creates a GPT session on a node serving the requested
// model, streaming node progress as NDJSON.
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	w := newNDJSONWriter(c)

	result, err := h.Svc.CreateSession(c.Request.Context(), req.Model, req.InitialPrompt, func(chunk nodeapi.CreateChunk) {
		switch chunk.Type {
		case nodeapi.CreateChunkDecode:
			w.write(gin.H{"type": "decodeProgress", "progress": chunk.Progress})
		case nodeapi.CreateChunkSessionLoad:
			w.write(gin.H{"type": "sessionLoadProgress", "progress": chunk.Progress})
		}
	})
	if err != nil {
		if w.wrote {
			w.write(gin.H{"type": "error", "message": "gpt session creation failed"})
			return
		}
		if errors.Is(err, gpt.ErrNoNodeAvailable) {
			fail(c, http.StatusServiceUnavailable, "no inference node available for this model")
			return
		}
		failSession(c, err)
		return
	}

	w.write(gin.H{
		"type":          "epilogue",
		"sessionId":     result.Session.ID,
		"contextLength": result.ContextLength,
	})
}

type decodeReq struct {
	Prompt      string `json:"prompt" binding:"required"`
	DumpSession bool   `json:"dumpSession"`
}

// Decode decodes a prompt into the session's KV cache.
func (h *Handler) Decode(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var req decodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.Svc.Decode(c.Request.Context(), id, req.Prompt, req.DumpSession, nil)
	if err != nil {
		failSession(c, err)
		return
	}

	resp := gin.H{
		"decodingId":  result.DecodingID,
		"kvCacheSize": result.KvCacheSize,
	}
	if result.SessionDumpSize != nil {
		resp["sessionDumpSize"] = *result.SessionDumpSize
	}
	c.JSON(http.StatusOK, resp)
}

type inferReq struct {
	Prompt  *string               `json:"prompt"`
	NEval   int                   `json:"nEval" binding:"required"`
	Options *nodeapi.InferOptions `json:"options"`
}

// Infer runs an inference on the session, streaming tokens as NDJSON.
func (h *Handler) Infer(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var req inferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	w := newNDJSONWriter(c)

	result, err := h.Svc.Infer(c.Request.Context(), id, req.Prompt, req.NEval, req.Options, func(chunk nodeapi.InferChunk) {
		switch chunk.Type {
		case nodeapi.InferChunkDecoding:
			w.write(gin.H{"type": "decodeProgress", "progress": chunk.Progress})
		case nodeapi.InferChunkInference:
			w.write(gin.H{"type": "inference", "content": chunk.Content})
		}
	})
	if err != nil {
		if w.wrote {
			w.write(gin.H{"type": "error", "message": "inference failed"})
			return
		}
		failSession(c, err)
		return
	}

	w.write(gin.H{
		"type":          "epilogue",
		"inferenceId":   result.InferenceID,
		"duration":      result.DurationMs,
		"contextLength": result.ContextLength,
	})
}

// CommitSession commits the session's uncommitted KV cache.
func (h *Handler) CommitSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	result, err := h.Svc.Commit(c.Request.Context(), id)
	if err != nil {
		failSession(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"commitId":    result.CommitID,
		"kvCacheSize": result.KvCacheSize,
	})
}

// ResetSession resets the session to its last committed state.
func (h *Handler) ResetSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	result, err := h.Svc.Reset(c.Request.Context(), id)
	if err != nil {
		failSession(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"resetId": result.ResetID})
}

// AbortInference aborts an in-flight inference.
func (h *Handler) AbortInference(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	if err := h.Svc.AbortInference(c.Request.Context(), id); err != nil {
		failSession(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// DeleteSession soft-deletes the session locally regardless of the
// remote outcome.
func (h *Handler) DeleteSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	if err := h.Svc.Delete(c.Request.Context(), id); err != nil {
		failSession(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CheckSession reports session liveness: 200 when it exists and its
// node is alive, 404 when unknown or deleted, 503 when the node died.
func (h *Handler) CheckSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}

	err := h.Svc.Check(c.Request.Context(), id)
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case errors.Is(err, gpt.ErrSessionNotFound):
		c.Status(http.StatusNotFound)
	case errors.Is(err, gpt.ErrNodeDead):
		c.Status(http.StatusServiceUnavailable)
	default:
		c.Status(http.StatusInternalServerError)
	}
}
