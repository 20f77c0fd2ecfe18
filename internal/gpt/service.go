package gpt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vladfaust/simularity-sub001/internal/common"
	"github.com/vladfaust/simularity-sub001/internal/nodeapi"
	"github.com/vladfaust/simularity-sub001/internal/registry"
	"github.com/vladfaust/simularity-sub001/internal/retry"
)

var (
	ErrSessionNotFound = errors.New("gpt session not found")
	ErrNoNodeAvailable = errors.New("no inference node available for this model")
	ErrNodeDead        = errors.New("inference node is dead")
	ErrAlreadyAborted  = errors.New("inference already aborted")
	ErrNodeSessionLost = errors.New("gpt session not found on inference node")
)

// DestroyQueue enqueues deferred remote-destroy jobs.
type DestroyQueue interface {
	PublishDestroyJob(ctx context.Context, jobID string) error
}

type Options struct {
	// May be nil; then failed destroys are only recorded in the DB.
	DestroyQueue DestroyQueue

	// Attempts per remote node call. Non-positive means the retry
	// package default.
	Attempts int

	// Skip the session-hash whitelist check entirely.
	AllowAnySessionDump bool
}

// Service orchestrates GPT sessions across ephemeral inference nodes:
// routing, retries, and durable bookkeeping.
type Service struct {
	repo  *Repo
	reg   registry.Registry
	nodes *nodeapi.Client
	opts  Options
}

func NewService(repo *Repo, reg registry.Registry, nodes *nodeapi.Client, opts Options) *Service {
	return &Service{repo: repo, reg: reg, nodes: nodes, opts: opts}
}

type CreateResult struct {
	Session         *Session
	ContextLength   int
	SessionLoaded   *bool
	SessionDumpSize *int64
}

type DecodeResult struct {
	DecodingID      string
	KvCacheSize     int
	SessionDumpSize *int64
}

type InferResult struct {
	InferenceID   string
	Result        string
	DurationMs    int64
	ContextLength int
	TokenLength   int
	Aborted       bool
}

type CommitResult struct {
	CommitID    string
	KvCacheSize int
}

type ResetResult struct {
	ResetID string
}

// CreateSession picks a live node for the model and creates a session
// on it. The durable row is only written after the node confirms
// creation; a failed attempt leaves no trace.
func (s *Service) CreateSession(ctx context.Context, model string, initialPrompt *string, onProgress func(nodeapi.CreateChunk)) (*CreateResult, error) {
	node, err := s.reg.FindByModel(ctx, model)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, ErrNoNodeAvailable
		}
		return nil, err
	}

	sessionID := uuid.NewString()

	dump := false
	if initialPrompt != nil {
		dump = s.allowedToDump(ctx, *initialPrompt)
	}

	var epilogue *nodeapi.CreateEpilogue
	err = s.callNode(ctx, "create", node, sessionID, false, func(ctx context.Context) error {
		e, err := s.nodes.Create(ctx, node.BaseURL, nodeapi.CreateArgs{
			ID:            sessionID,
			InitialPrompt: initialPrompt,
			DumpSession:   dump,
		}, onProgress)
		if err != nil {
			return err
		}
		epilogue = e
		return nil
	})
	if err != nil {
		return nil, translateNodeError(err, false)
	}

	session := &Session{
		ID:                     sessionID,
		InferenceNodeID:        node.ID,
		InferenceNodeSessionID: epilogue.SessionID,
		Model:                  model,
		InitialPrompt:          initialPrompt,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	log.Printf("created gpt session session=%s node=%s model=%s", session.ID, node.ID, model)

	return &CreateResult{
		Session:         session,
		ContextLength:   epilogue.ContextLength,
		SessionLoaded:   epilogue.SessionLoaded,
		SessionDumpSize: epilogue.SessionDumpSize,
	}, nil
}

// Decode decodes a prompt into the session's KV cache.
func (s *Service) Decode(ctx context.Context, sessionID, prompt string, dumpSession bool, onProgress func(nodeapi.DecodeChunk)) (*DecodeResult, error) {
	session, node, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	dump := dumpSession && s.allowedToDump(ctx, prompt)

	var epilogue *nodeapi.DecodeEpilogue
	err = s.callNode(ctx, "decode", node, session.ID, false, func(ctx context.Context) error {
		e, err := s.nodes.Decode(ctx, node.BaseURL, session.NodeHandle(), nodeapi.DecodeArgs{
			Prompt:      prompt,
			DumpSession: dump,
		}, onProgress)
		if err != nil {
			return err
		}
		epilogue = e
		return nil
	})
	if err != nil {
		// Keep a telemetry row even on hard failure.
		msg := err.Error()
		if auditErr := s.repo.InsertDecoding(ctx, &Decoding{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Prompt:    prompt,
			Error:     &msg,
		}); auditErr != nil {
			log.Printf("failed to persist decoding audit row session=%s err=%v", session.ID, auditErr)
		}
		return nil, translateNodeError(err, false)
	}

	decoding := &Decoding{
		ID:              uuid.NewString(),
		SessionID:       session.ID,
		Prompt:          prompt,
		DurationMs:      epilogue.Duration,
		KvCacheSize:     epilogue.ContextLength,
		SessionDumpSize: epilogue.SessionDumpSize,
	}
	if err := s.repo.InsertDecoding(ctx, decoding); err != nil {
		return nil, err
	}

	return &DecodeResult{
		DecodingID:      decoding.ID,
		KvCacheSize:     epilogue.ContextLength,
		SessionDumpSize: epilogue.SessionDumpSize,
	}, nil
}

// Infer runs an inference on the session, forwarding stream chunks to
// onChunk and accumulating the generated content.
func (s *Service) Infer(ctx context.Context, sessionID string, prompt *string, nEval int, options *nodeapi.InferOptions, onChunk func(nodeapi.InferChunk)) (*InferResult, error) {
	session, node, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var optionsJSON json.RawMessage
	if options != nil {
		optionsJSON, _ = json.Marshal(options)
	}

	var epilogue *nodeapi.InferEpilogue
	var result string
	err = s.callNode(ctx, "infer", node, session.ID, false, func(ctx context.Context) error {
		result = "" // reset per attempt
		e, err := s.nodes.Infer(ctx, node.BaseURL, session.NodeHandle(), nodeapi.InferArgs{
			Prompt:  prompt,
			NEval:   nEval,
			Options: options,
		}, func(chunk nodeapi.InferChunk) {
			if chunk.Type == nodeapi.InferChunkInference {
				result += chunk.Content
			}
			if onChunk != nil {
				onChunk(chunk)
			}
		})
		if err != nil {
			return err
		}
		epilogue = e
		return nil
	})
	if err != nil {
		msg := err.Error()
		if auditErr := s.repo.InsertInference(ctx, &Inference{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Prompt:    prompt,
			Options:   optionsJSON,
			NEval:     nEval,
			Result:    result,
			Error:     &msg,
		}); auditErr != nil {
			log.Printf("failed to persist inference audit row session=%s err=%v", session.ID, auditErr)
		}
		return nil, translateNodeError(err, false)
	}

	inference := &Inference{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Prompt:      prompt,
		Options:     optionsJSON,
		NEval:       nEval,
		Result:      result,
		Aborted:     epilogue.Aborted,
		TokenLength: epilogue.TokenLength,
		DurationMs:  epilogue.Duration,
	}
	if err := s.repo.InsertInference(ctx, inference); err != nil {
		return nil, err
	}

	return &InferResult{
		InferenceID:   inference.ID,
		Result:        result,
		DurationMs:    epilogue.Duration,
		ContextLength: epilogue.ContextLength,
		TokenLength:   epilogue.TokenLength,
		Aborted:       epilogue.Aborted,
	}, nil
}

// Commit commits the session's uncommitted KV cache.
func (s *Service) Commit(ctx context.Context, sessionID string) (*CommitResult, error) {
	session, node, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var resp *nodeapi.CommitResponse
	err = s.callNode(ctx, "commit", node, session.ID, false, func(ctx context.Context) error {
		r, err := s.nodes.Commit(ctx, node.BaseURL, session.NodeHandle())
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, translateNodeError(err, false)
	}

	commit := &Commit{ID: uuid.NewString(), SessionID: session.ID}
	if err := s.repo.InsertCommit(ctx, commit); err != nil {
		return nil, err
	}

	return &CommitResult{CommitID: commit.ID, KvCacheSize: resp.ContextLength}, nil
}

// Reset resets the session to its last committed state.
func (s *Service) Reset(ctx context.Context, sessionID string) (*ResetResult, error) {
	session, node, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	err = s.callNode(ctx, "reset", node, session.ID, false, func(ctx context.Context) error {
		return s.nodes.Reset(ctx, node.BaseURL, session.NodeHandle())
	})
	if err != nil {
		return nil, translateNodeError(err, false)
	}

	reset := &Reset{ID: uuid.NewString(), SessionID: session.ID}
	if err := s.repo.InsertReset(ctx, reset); err != nil {
		return nil, err
	}

	return &ResetResult{ResetID: reset.ID}, nil
}

// AbortInference aborts an in-flight inference. A node-side 409 means
// there was nothing to abort; it is terminal, not retried.
func (s *Service) AbortInference(ctx context.Context, sessionID string) error {
	session, node, err := s.resolve(ctx, sessionID)
	if err != nil {
		return err
	}

	err = s.callNode(ctx, "abort-inference", node, session.ID, true, func(ctx context.Context) error {
		return s.nodes.AbortInference(ctx, node.BaseURL, session.NodeHandle())
	})
	if err != nil {
		return translateNodeError(err, true)
	}
	return nil
}

// Delete soft-deletes the session locally, then best-effort destroys
// its state on the node. The local soft-delete is the source of truth
// and is never rolled back; a failed remote destroy is deferred to the
// reconciliation queue.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	session, err := s.repo.GetLiveSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	if err := s.repo.SoftDeleteSession(ctx, session.ID); err != nil {
		return err
	}
	log.Printf("soft-deleted gpt session session=%s", session.ID)

	node, err := s.reg.Lookup(ctx, session.InferenceNodeID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			// Nothing left to destroy.
			log.Printf("inference node is dead node=%s session=%s", session.InferenceNodeID, session.ID)
			return nil
		}
		log.Printf("registry lookup failed node=%s session=%s err=%v", session.InferenceNodeID, session.ID, err)
		s.enqueueDestroy(ctx, session.ID)
		return nil
	}

	err = s.callNode(ctx, "delete", node, session.ID, false, func(ctx context.Context) error {
		return s.nodes.Destroy(ctx, node.BaseURL, session.NodeHandle())
	})
	if err != nil {
		var re *nodeapi.ResponseError
		if errors.As(err, &re) && re.Status == http.StatusNotFound {
			// The node already lost the session.
			return nil
		}
		log.Printf("remote destroy failed node=%s session=%s err=%v", node.ID, session.ID, err)
		s.enqueueDestroy(ctx, session.ID)
	}
	return nil
}

// Check reports whether the session exists, is not deleted, and its
// node is alive.
func (s *Service) Check(ctx context.Context, sessionID string) error {
	session, err := s.repo.GetLiveSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	if _, err := s.reg.Lookup(ctx, session.InferenceNodeID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return ErrNodeDead
		}
		return err
	}
	return nil
}

// ProcessDestroyJob retries the remote destroy for a soft-deleted
// session. A dead node or a node-side 404 counts as done.
func (s *Service) ProcessDestroyJob(ctx context.Context, jobID string) error {
	job, err := s.repo.GetDestroyJob(ctx, jobID)
	if err != nil {
		return err
	}

	session, err := s.repo.GetSession(ctx, job.SessionID)
	if err != nil {
		return err
	}

	node, err := s.reg.Lookup(ctx, session.InferenceNodeID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return s.repo.MarkDestroyJobSucceeded(ctx, job.ID)
		}
		return err
	}

	err = s.callNode(ctx, "delete", node, session.ID, false, func(ctx context.Context) error {
		return s.nodes.Destroy(ctx, node.BaseURL, session.NodeHandle())
	})
	if err != nil {
		var re *nodeapi.ResponseError
		if !errors.As(err, &re) || re.Status != http.StatusNotFound {
			_ = s.repo.MarkDestroyJobFailed(ctx, job.ID, err.Error())
			return err
		}
	}
	return s.repo.MarkDestroyJobSucceeded(ctx, job.ID)
}

// resolve loads the live session and its bound node. A missing
// registry entry fails with ErrNodeDead before any network call.
func (s *Service) resolve(ctx context.Context, sessionID string) (*Session, *registry.Node, error) {
	session, err := s.repo.GetLiveSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, err
	}

	node, err := s.reg.Lookup(ctx, session.InferenceNodeID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			log.Printf("inference node is dead node=%s session=%s", session.InferenceNodeID, session.ID)
			return nil, nil, ErrNodeDead
		}
		return nil, nil, err
	}
	return session, node, nil
}

func (s *Service) callNode(ctx context.Context, op string, node *registry.Node, sessionID string, stopOnConflict bool, fn func(ctx context.Context) error) error {
	classify := func(err error, attempt int) retry.Decision {
		var re *nodeapi.ResponseError
		if errors.As(err, &re) {
			if re.Status == http.StatusNotFound {
				// The node may have restarted and lost the session;
				// retrying would not bring it back.
				return retry.Stop
			}
			if stopOnConflict && re.Status == http.StatusConflict {
				return retry.Stop
			}
			log.Printf("inference node /%s call error node=%s session=%s attempt=%d status=%d", op, node.ID, sessionID, attempt, re.Status)
			return retry.Again
		}

		var te *nodeapi.TransportError
		if errors.As(err, &te) {
			log.Printf("inference node /%s call error node=%s session=%s attempt=%d err=%v", op, node.ID, sessionID, attempt, err)
			return retry.Again
		}

		// Protocol violations and everything else: retrying would
		// likely repeat the same exchange.
		return retry.Fatal
	}

	return retry.Do(ctx, s.opts.Attempts, classify, fn)
}

func translateNodeError(err error, conflictIsAbort bool) error {
	var re *nodeapi.ResponseError
	if errors.As(err, &re) {
		if re.Status == http.StatusNotFound {
			return ErrNodeSessionLost
		}
		if conflictIsAbort && re.Status == http.StatusConflict {
			return ErrAlreadyAborted
		}
	}
	return err
}

// allowedToDump gates node-side session snapshotting by a SHA-256
// prompt whitelist, preventing cache-pressure amplification from
// arbitrary prompts.
func (s *Service) allowedToDump(ctx context.Context, prompt string) bool {
	if s.opts.AllowAnySessionDump {
		return true
	}

	sum := sha256.Sum256([]byte(prompt))
	hash := hex.EncodeToString(sum[:])

	ok, err := s.repo.IsHashWhitelisted(ctx, hash)
	if err != nil {
		log.Printf("session hash lookup failed hash=%s err=%v", hash, err)
		return false
	}
	return ok
}

// enqueueDestroy records and publishes a deferred remote-destroy job.
func (s *Service) enqueueDestroy(ctx context.Context, sessionID string) {
	jobID, err := common.NewULID()
	if err != nil {
		log.Printf("failed to generate destroy job id session=%s err=%v", sessionID, err)
		return
	}

	job := &DestroyJob{ID: jobID, SessionID: sessionID, Status: DestroyJobQueued}
	if err := s.repo.CreateDestroyJob(ctx, job); err != nil {
		log.Printf("failed to create destroy job session=%s err=%v", sessionID, err)
		return
	}

	if s.opts.DestroyQueue == nil {
		return
	}
	if err := s.opts.DestroyQueue.PublishDestroyJob(ctx, job.ID); err != nil {
		log.Printf("failed to publish destroy job job=%s session=%s err=%v", job.ID, sessionID, err)
	}
}
