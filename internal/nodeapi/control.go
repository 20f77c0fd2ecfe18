package nodeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const controlTimeout = 30 * time.Second

type CommitResponse struct {
	// Context length in tokens after the commit.
	ContextLength int `json:"contextLength"`
}

// Commit commits the session's uncommitted KV cache.
func (c *Client) Commit(ctx context.Context, baseURL, sessionHandle string) (*CommitResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/gpts/%s/commit", baseURL, sessionHandle)
	resp, err := c.do(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out CommitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed commit response: %v", err)}
	}
	return &out, nil
}

// Reset resets the session to its last committed state.
func (c *Client) Reset(ctx context.Context, baseURL, sessionHandle string) error {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/gpts/%s/reset", baseURL, sessionHandle)
	resp, err := c.do(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Destroy destroys the session's state on the node.
func (c *Client) Destroy(ctx context.Context, baseURL, sessionHandle string) error {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/gpts/%s", baseURL, sessionHandle)
	resp, err := c.do(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// AbortInference aborts an in-flight inference. The node responds 409
// when there is nothing to abort.
func (c *Client) AbortInference(ctx context.Context, baseURL, sessionHandle string) error {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/gpts/%s/abort-inference", baseURL, sessionHandle)
	resp, err := c.do(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
