// Package nodeapi is the HTTP client contract against an inference
// node's /gpts endpoint family. All operations authenticate with a
// shared bearer token and signal failures uniformly: TransportError
// for network-level failures, ResponseError for non-2xx statuses.
package nodeapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	DefaultCreateTimeout = 2 * time.Minute
	DefaultDecodeTimeout = 2 * time.Minute
	DefaultInferTimeout  = 5 * time.Minute
)

type Client struct {
	secret string
	client *http.Client

	CreateTimeout time.Duration
	DecodeTimeout time.Duration
	InferTimeout  time.Duration
}

func NewClient(secret string) *Client {
	return &Client{
		secret: secret,
		// No global timeout; contexts bound each call.
		client: &http.Client{},

		CreateTimeout: DefaultCreateTimeout,
		DecodeTimeout: DefaultDecodeTimeout,
		InferTimeout:  DefaultInferTimeout,
	}
}

// do issues an authenticated request and returns the response with a
// 2xx status. The caller owns resp.Body.
func (c *Client) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return resp, nil
}

// eachLine feeds every non-blank newline-delimited line of the stream
// to fn. A read failure mid-stream is a transport error.
func eachLine(resp *http.Response, fn func(line []byte) (done bool, err error)) error {
	sc := bufio.NewScanner(resp.Body)
	// Increase scanner buffer for long JSON lines.
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		done, err := fn(line)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	if err := sc.Err(); err != nil {
		return &TransportError{Err: err}
	}
	return missingEpilogue()
}

func unmarshalChunk(line []byte, v any) error {
	if err := json.Unmarshal(line, v); err != nil {
		return &ProtocolError{Reason: fmt.Sprintf("malformed stream chunk: %v", err)}
	}
	return nil
}
