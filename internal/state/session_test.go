package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/flowchat/internal/chat"
	"github.com/user/flowchat/internal/types"
	"github.com/user/flowchat/pkg/workflow"
)

type blockingProvider struct {
	opened chan struct{}
}

func (p *blockingProvider) Stream(ctx context.Context, req workflow.QueryRequest) (*workflow.Stream, error) {
	close(p.opened)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *blockingProvider) Query(ctx context.Context, req workflow.QueryRequest) (*workflow.QueryResponse, error) {
	return nil, errors.New("unavailable")
}

func newStore(p workflow.Provider) *SessionStore {
	return NewSessionStore(func(types.SessionKey) *chat.Session {
		return chat.New(p)
	})
}

func TestSessionStore(t *testing.T) {
	store := newStore(nil)
	ctx := context.Background()

	// Test resolve or create
	key := types.NewSessionKey("test", "123")
	session := store.ResolveOrCreate(ctx, key)
	if session == nil {
		t.Fatal("expected a session")
	}

	// Test get
	entry, err := store.Get(ctx, session.ID())
	if err != nil {
		t.Fatal(err)
	}
	if entry.Key != key {
		t.Errorf("expected key %s, got %s", key, entry.Key)
	}

	// Test idempotency
	if again := store.ResolveOrCreate(ctx, key); again != session {
		t.Error("expected same session for same key")
	}

	if _, err := store.Get(ctx, "missing"); err == nil {
		t.Error("expected error for unknown session ID")
	}
}

func TestSessionStoreListOrder(t *testing.T) {
	store := newStore(nil)
	ctx := context.Background()

	store.ResolveOrCreate(ctx, "a")
	time.Sleep(2 * time.Millisecond)
	store.ResolveOrCreate(ctx, "b")
	time.Sleep(2 * time.Millisecond)
	store.ResolveOrCreate(ctx, "a")

	list := store.List(ctx)
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].Key != "a" {
		t.Errorf("expected most recently used first, got %s", list[0].Key)
	}
}

func TestSessionStoreRemove(t *testing.T) {
	store := newStore(nil)
	ctx := context.Background()

	first := store.ResolveOrCreate(ctx, "k")
	if err := store.Remove(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if second := store.ResolveOrCreate(ctx, "k"); second == first {
		t.Error("expected a fresh session after Remove")
	}
	if err := store.Remove(ctx, "unknown"); err != nil {
		t.Errorf("removing unknown key should be a no-op, got %v", err)
	}
}

func TestSessionStoreRemoveBusy(t *testing.T) {
	p := &blockingProvider{opened: make(chan struct{})}
	store := newStore(p)
	ctx, cancel := context.WithCancel(context.Background())

	session := store.ResolveOrCreate(ctx, "k")
	done := make(chan error, 1)
	go func() { done <- session.Send(ctx, "hello") }()
	<-p.opened

	if err := store.Remove(context.Background(), "k"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("expected ErrSessionBusy, got %v", err)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := store.Remove(context.Background(), "k"); err != nil {
		t.Errorf("expected removal after turn ended, got %v", err)
	}
}
