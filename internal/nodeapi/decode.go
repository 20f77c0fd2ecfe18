package nodeapi

import (
	"context"
	"fmt"
	"net/http"
)

type DecodeArgs struct {
	Prompt string `json:"prompt"`

	// Dump the session KV cache after decoding.
	DumpSession bool `json:"dumpSession,omitempty"`
}

type DecodeEpilogue struct {
	// Decoding duration in milliseconds.
	Duration int64

	// New context length in tokens.
	ContextLength int

	// Size of the dumped session file in bytes, if dumped.
	SessionDumpSize *int64
}

// Decode decodes a prompt into the session's KV cache, streaming
// progress chunks to onProgress until the epilogue arrives.
func (c *Client) Decode(ctx context.Context, baseURL, sessionHandle string, args DecodeArgs, onProgress func(DecodeChunk)) (*DecodeEpilogue, error) {
	ctx, cancel := context.WithTimeout(ctx, c.DecodeTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/gpts/%s/decode", baseURL, sessionHandle)
	resp, err := c.do(ctx, http.MethodPost, url, args)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var epilogue *DecodeEpilogue
	err = eachLine(resp, func(line []byte) (bool, error) {
		var chunk DecodeChunk
		if err := unmarshalChunk(line, &chunk); err != nil {
			return false, err
		}

		switch chunk.Type {
		case DecodeChunkError:
			return false, &StreamError{Message: chunk.Error}
		case DecodeChunkProgress:
			if onProgress != nil {
				onProgress(chunk)
			}
			return false, nil
		case DecodeChunkEpilogue:
			epilogue = &DecodeEpilogue{
				Duration:        chunk.Duration,
				ContextLength:   chunk.ContextLength,
				SessionDumpSize: chunk.SessionDumpSize,
			}
			return true, nil
		default:
			return false, &ProtocolError{Reason: fmt.Sprintf("unknown decode chunk type %q", chunk.Type)}
		}
	})
	if err != nil {
		return nil, err
	}
	return epilogue, nil
}
