package nodeapi

// Stream chunk types, discriminated by the "type" field. Each protocol
// has its own chunk set; consumers switch exhaustively so a new kind
// is a visible change everywhere it matters.

type CreateChunkType string

const (
	CreateChunkDecode      CreateChunkType = "Decode"
	CreateChunkSessionLoad CreateChunkType = "SessionLoad"
	CreateChunkEpilogue    CreateChunkType = "Epilogue"
)

// CreateChunk is one line of the POST /gpts stream.
type CreateChunk struct {
	Type CreateChunkType `json:"type"`

	// Decode, SessionLoad
	Progress float64 `json:"progress"`

	// Epilogue
	SessionLoaded   *bool  `json:"sessionLoaded"`
	SessionDumpSize *int64 `json:"sessionDumpSize"`
	ContextLength   int    `json:"contextLength"`
	SessionID       *int64 `json:"sessionId"`
}

type DecodeChunkType string

const (
	DecodeChunkError    DecodeChunkType = "Error"
	DecodeChunkProgress DecodeChunkType = "Progress"
	DecodeChunkEpilogue DecodeChunkType = "Epilogue"
)

// DecodeChunk is one line of the POST /gpts/{id}/decode stream.
type DecodeChunk struct {
	Type DecodeChunkType `json:"type"`

	// Error
	Error string `json:"error"`

	// Progress
	Progress float64 `json:"progress"`

	// Epilogue
	Duration        int64  `json:"duration"`
	ContextLength   int    `json:"contextLength"`
	SessionDumpSize *int64 `json:"sessionDumpSize"`
}

type InferChunkType string

const (
	InferChunkError     InferChunkType = "Error"
	InferChunkDecoding  InferChunkType = "Decoding"
	InferChunkInference InferChunkType = "Inference"
	InferChunkEpilogue  InferChunkType = "Epilogue"
)

// InferChunk is one line of the POST /gpts/{id}/infer stream.
type InferChunk struct {
	Type InferChunkType `json:"type"`

	// Error
	Error string `json:"error"`

	// Decoding
	Progress float64 `json:"progress"`

	// Inference
	Content string `json:"content"`

	// Epilogue
	Duration      int64 `json:"duration"`
	Aborted       bool  `json:"aborted"`
	TokenLength   int   `json:"tokenLength"`
	ContextLength int   `json:"contextLength"`
}
