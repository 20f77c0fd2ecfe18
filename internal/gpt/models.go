package gpt

import (
	"encoding/json"
	"time"
)

// Session is the durable record of a GPT session. DeletedAt is a
// manual soft-delete marker: a non-nil value means the session is
// logically gone and every operation must treat it as not found.
type Session struct {
	ID              string `gorm:"type:uuid;primaryKey" json:"id"`
	InferenceNodeID string `gorm:"type:varchar(255);not null;index" json:"inference_node_id"`

	// The node's internal numeric session handle, when it issues one.
	// Calls are routed with it instead of the UUID.
	InferenceNodeSessionID *int64 `json:"-"`

	Model         string  `gorm:"type:varchar(255);not null" json:"model"`
	InitialPrompt *string `gorm:"type:text" json:"-"`

	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `gorm:"index" json:"-"`
}

func (Session) TableName() string { return "gpt_sessions" }

// NodeHandle is the session identifier used against the inference
// node.
func (s *Session) NodeHandle() string {
	if s.InferenceNodeSessionID != nil {
		return formatInt64(*s.InferenceNodeSessionID)
	}
	return s.ID
}

type Decoding struct {
	ID        string  `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID string  `gorm:"type:uuid;not null;index" json:"session_id"`
	Session   Session `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`

	Prompt string `gorm:"type:text;not null" json:"prompt"`

	// Actual decoding duration, in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// Context length after decoding.
	KvCacheSize int `json:"kv_cache_size"`

	// Session dump size in bytes, if dumped.
	SessionDumpSize *int64 `json:"session_dump_size,omitempty"`

	// Set when the remote call ultimately failed; kept for telemetry.
	Error *string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func (Decoding) TableName() string { return "gpt_decodings" }

type Inference struct {
	ID        string  `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID string  `gorm:"type:uuid;not null;index" json:"session_id"`
	Session   Session `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`

	// May be empty to continue from the current context.
	Prompt *string `gorm:"type:text" json:"prompt"`

	// Sampling options as sent to the node.
	Options json.RawMessage `gorm:"type:jsonb" json:"options"`

	// Maximum number of generated tokens.
	NEval int `json:"n_eval"`

	Result      string `gorm:"type:text" json:"result"`
	Aborted     bool   `json:"aborted"`
	TokenLength int    `json:"token_length"`

	// Actual inference duration, in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// Set when the remote call ultimately failed; kept for telemetry.
	Error *string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func (Inference) TableName() string { return "gpt_inferences" }

type Commit struct {
	ID        string  `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID string  `gorm:"type:uuid;not null;index" json:"session_id"`
	Session   Session `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func (Commit) TableName() string { return "gpt_commits" }

type Reset struct {
	ID        string  `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID string  `gorm:"type:uuid;not null;index" json:"session_id"`
	Session   Session `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

func (Reset) TableName() string { return "gpt_resets" }

// SessionHash whitelists SHA-256 prompt digests approved for session
// dumping. Prompts outside the whitelist never trigger node-side
// snapshotting.
type SessionHash struct {
	Hash      string    `gorm:"type:char(64);primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

func (SessionHash) TableName() string { return "gpt_session_hashes" }

type DestroyJobStatus string

const (
	DestroyJobQueued    DestroyJobStatus = "queued"
	DestroyJobSucceeded DestroyJobStatus = "succeeded"
	DestroyJobFailed    DestroyJobStatus = "failed"
)

// DestroyJob tracks a deferred remote-destroy for a soft-deleted
// session whose node could not be reached at delete time.
type DestroyJob struct {
	ID        string `gorm:"size:26;primaryKey"` // ULID length
	SessionID string `gorm:"type:uuid;not null;index"`

	Status DestroyJobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed.
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DestroyJob) TableName() string { return "gpt_destroy_jobs" }
