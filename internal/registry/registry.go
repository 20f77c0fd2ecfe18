package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

var (
	ErrAlreadyRegistered = errors.New("inference node already registered")
	ErrNotFound          = errors.New("inference node not found")
)

var nodeIDRegexp = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)

// Node is a self-registered inference worker. It only lives in the
// registry: once its TTL runs out without a heartbeat, it is gone.
type Node struct {
	ID       string `json:"id"`
	BaseURL  string `json:"baseUrl"`
	GptModel string `json:"gptModel"`
}

func (n Node) Validate() error {
	if n.ID == "" || len(n.ID) > 255 || !nodeIDRegexp.MatchString(n.ID) {
		return fmt.Errorf("invalid node id %q", n.ID)
	}
	u, err := url.Parse(n.BaseURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("invalid node base url %q", n.BaseURL)
	}
	if n.GptModel == "" || len(n.GptModel) > 255 {
		return fmt.Errorf("invalid node model %q", n.GptModel)
	}
	return nil
}

// Registry tracks live inference nodes with TTL expiry. Expiry is the
// only removal path; there is no explicit delete.
type Registry interface {
	// Register stores the node with a fresh TTL. Fails with
	// ErrAlreadyRegistered while a live entry with the same ID exists.
	Register(ctx context.Context, node Node) error

	// Heartbeat resets the TTL of an existing entry. Fails with
	// ErrNotFound if the entry already expired.
	Heartbeat(ctx context.Context, nodeID string) error

	// Lookup returns the live entry, or ErrNotFound.
	Lookup(ctx context.Context, nodeID string) (*Node, error)

	// FindByModel returns some live node serving the model, or
	// ErrNotFound. Any live match is acceptable.
	FindByModel(ctx context.Context, model string) (*Node, error)
}
