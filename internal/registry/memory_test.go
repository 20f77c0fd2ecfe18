package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(ttl time.Duration) (*MemoryRegistry, *testClock) {
	clock := &testClock{t: time.Unix(1700000000, 0)}
	return NewMemoryRegistry(ttl, clock.now), clock
}

func TestRegister_RejectsLiveDuplicate(t *testing.T) {
	reg, clock := newTestRegistry(time.Minute)
	ctx := context.Background()

	node := Node{ID: "n1", BaseURL: "http://10.0.0.1:8000", GptModel: "writer-7b"}
	if err := reg.Register(ctx, node); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := reg.Register(ctx, node); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	// After TTL expiry the same registration succeeds again.
	clock.advance(time.Minute + time.Second)
	if err := reg.Register(ctx, node); err != nil {
		t.Fatalf("register after expiry: %v", err)
	}
}

func TestHeartbeat_ExtendsLiveness(t *testing.T) {
	reg, clock := newTestRegistry(time.Minute)
	ctx := context.Background()

	node := Node{ID: "n1", BaseURL: "http://10.0.0.1:8000", GptModel: "writer-7b"}
	if err := reg.Register(ctx, node); err != nil {
		t.Fatalf("register: %v", err)
	}

	clock.advance(45 * time.Second)
	if err := reg.Heartbeat(ctx, "n1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	// Past the original expiry, but within the refreshed TTL.
	clock.advance(45 * time.Second)
	got, err := reg.FindByModel(ctx, "writer-7b")
	if err != nil {
		t.Fatalf("find by model: %v", err)
	}
	if got.ID != "n1" {
		t.Fatalf("expected n1, got %q", got.ID)
	}
}

func TestHeartbeat_FailsAfterExpiry(t *testing.T) {
	reg, clock := newTestRegistry(time.Minute)
	ctx := context.Background()

	node := Node{ID: "n1", BaseURL: "http://10.0.0.1:8000", GptModel: "writer-7b"}
	if err := reg.Register(ctx, node); err != nil {
		t.Fatalf("register: %v", err)
	}

	clock.advance(2 * time.Minute)
	if err := reg.Heartbeat(ctx, "n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindByModel_MatchesServedModelOnly(t *testing.T) {
	reg, clock := newTestRegistry(time.Minute)
	ctx := context.Background()

	nodes := []Node{
		{ID: "n1", BaseURL: "http://10.0.0.1:8000", GptModel: "writer-7b"},
		{ID: "n2", BaseURL: "http://10.0.0.2:8000", GptModel: "coder-13b"},
	}
	for _, n := range nodes {
		if err := reg.Register(ctx, n); err != nil {
			t.Fatalf("register %s: %v", n.ID, err)
		}
	}

	got, err := reg.FindByModel(ctx, "coder-13b")
	if err != nil {
		t.Fatalf("find by model: %v", err)
	}
	if got.ID != "n2" {
		t.Fatalf("expected n2, got %q", got.ID)
	}

	if _, err := reg.FindByModel(ctx, "unknown-model"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown model, got %v", err)
	}

	// All matching entries expired.
	clock.advance(2 * time.Minute)
	if _, err := reg.FindByModel(ctx, "coder-13b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	reg, clock := newTestRegistry(time.Minute)
	ctx := context.Background()

	node := Node{ID: "n1", BaseURL: "http://10.0.0.1:8000", GptModel: "writer-7b"}
	if err := reg.Register(ctx, node); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := reg.Lookup(ctx, "n1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.BaseURL != node.BaseURL {
		t.Fatalf("unexpected base url %q", got.BaseURL)
	}

	clock.advance(2 * time.Minute)
	if _, err := reg.Lookup(ctx, "n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestNodeValidate(t *testing.T) {
	valid := Node{ID: "node_1-a", BaseURL: "http://10.0.0.1:8000", GptModel: "writer-7b"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid node rejected: %v", err)
	}

	cases := []Node{
		{ID: "", BaseURL: "http://x", GptModel: "m"},
		{ID: "has space", BaseURL: "http://x", GptModel: "m"},
		{ID: "n1", BaseURL: "not-a-url", GptModel: "m"},
		{ID: "n1", BaseURL: "http://x", GptModel: ""},
	}
	for i, n := range cases {
		if err := n.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}
