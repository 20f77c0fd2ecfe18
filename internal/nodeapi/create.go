package nodeapi

import (
	"context"
	"fmt"
	"net/http"
)

type CreateArgs struct {
	// Server-issued session ID, used by the node as the session handle.
	ID string `json:"id"`

	// Seed prompt. The node loads a dumped session for it when one
	// exists, and decodes from scratch otherwise.
	InitialPrompt *string `json:"initialPrompt,omitempty"`

	// Dump the session KV cache after decoding.
	DumpSession bool `json:"dumpSession,omitempty"`
}

type CreateEpilogue struct {
	// Whether a dumped session was loaded, if InitialPrompt was set.
	SessionLoaded *bool

	// Size of the dumped session file in bytes, if dumped.
	SessionDumpSize *int64

	// Current context length in tokens.
	ContextLength int

	// The node's internal numeric session handle, if it issues one.
	SessionID *int64
}

// Create creates a GPT session on the node, streaming progress chunks
// to onProgress until the epilogue arrives.
func (c *Client) Create(ctx context.Context, baseURL string, args CreateArgs, onProgress func(CreateChunk)) (*CreateEpilogue, error) {
	ctx, cancel := context.WithTimeout(ctx, c.CreateTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, baseURL+"/gpts", args)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var epilogue *CreateEpilogue
	err = eachLine(resp, func(line []byte) (bool, error) {
		var chunk CreateChunk
		if err := unmarshalChunk(line, &chunk); err != nil {
			return false, err
		}

		switch chunk.Type {
		case CreateChunkDecode, CreateChunkSessionLoad:
			if onProgress != nil {
				onProgress(chunk)
			}
			return false, nil
		case CreateChunkEpilogue:
			epilogue = &CreateEpilogue{
				SessionLoaded:   chunk.SessionLoaded,
				SessionDumpSize: chunk.SessionDumpSize,
				ContextLength:   chunk.ContextLength,
				SessionID:       chunk.SessionID,
			}
			return true, nil
		default:
			return false, &ProtocolError{Reason: fmt.Sprintf("unknown create chunk type %q", chunk.Type)}
		}
	})
	if err != nil {
		return nil, err
	}
	return epilogue, nil
}
