package nodeapi

import (
	"fmt"
	"io"
	"net/http"
)

// TransportError means the network call could not complete at all:
// DNS failure, connection refused, timeout before a response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("inference node transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResponseError means the node responded with a non-2xx status.
type ResponseError struct {
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("inference node responded with %d: %s", e.Status, e.Body)
}

// ProtocolError means the node responded 2xx but the payload violated
// the protocol. Never retried: the next exchange would likely repeat
// the same malformed payload.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "inference node protocol violation: " + e.Reason
}

// StreamError is an in-stream Error chunk reported by the node.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "inference node error: " + e.Message
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	return &ResponseError{Status: resp.StatusCode, Body: string(body)}
}

func missingEpilogue() error {
	return &ProtocolError{Reason: "inference node did not return epilogue"}
}
