// Package chat owns a conversation: the ordered message list and the
// streaming turn state machine with its one-shot fallback.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/user/flowchat/internal/types"
	"github.com/user/flowchat/pkg/workflow"
)

var (
	// ErrTurnActive is returned by Send while another turn is streaming or
	// falling back. Nothing is queued.
	ErrTurnActive = errors.New("a turn is already in progress")

	// ErrEmptyInput is returned by Send for blank input.
	ErrEmptyInput = errors.New("message is empty")
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for fallback and failure reports.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithObserver registers fn to receive every Update.
func WithObserver(fn func(Update)) Option {
	return func(s *Session) { s.observers = append(s.observers, fn) }
}

// Session is a single conversation. At most one turn runs at a time and at
// most one assistant message is streaming at any moment.
type Session struct {
	id        types.SessionID
	provider  workflow.Provider
	log       *slog.Logger
	now       func() time.Time
	observers []func(Update)

	mu       sync.Mutex
	messages []types.Message
	state    TurnState
}

// New creates an idle session that sends its turns to provider.
func New(provider workflow.Provider, opts ...Option) *Session {
	s := &Session{
		id:       types.NewSessionID(),
		provider: provider,
		log:      slog.Default(),
		now:      time.Now,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session_id", string(s.id))
	return s
}

func (s *Session) ID() types.SessionID { return s.id }

// State returns the state of the current or most recent turn.
func (s *Session) State() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether a turn is in flight.
func (s *Session) Active() bool {
	return s.State().Active()
}

// Messages returns a snapshot of the conversation in chronological order.
func (s *Session) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// LastAssistant returns the most recent assistant message, if any.
func (s *Session) LastAssistant() (types.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == types.RoleAssistant {
			return s.messages[i].Clone(), true
		}
	}
	return types.Message{}, false
}

// Send runs one turn for text and returns once it reaches a terminal state.
//
// The user message and an empty streaming placeholder are appended before
// any network activity. The placeholder is filled from the stream; if the
// stream cannot be opened or breaks before its done frame, a one-shot query
// overwrites it. If that fails as well the placeholder is removed and a
// *workflow.FallbackError is returned. Cancelling ctx abandons the turn: the
// stream is closed, no fallback is attempted, the placeholder is removed and
// ctx.Err() is returned.
func (s *Session) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if s.state.Active() {
		s.mu.Unlock()
		return ErrTurnActive
	}
	now := s.now()
	user := types.Message{
		ID:        types.NewMessageID(),
		Role:      types.RoleUser,
		Content:   text,
		CreatedAt: now,
	}
	placeholder := types.Message{
		ID:        types.NewMessageID(),
		Role:      types.RoleAssistant,
		CreatedAt: now,
		Streaming: true,
	}
	s.messages = append(s.messages, user, placeholder)
	s.state = StateStreaming
	s.mu.Unlock()

	s.notify(Update{Kind: UpdateAppended, Message: user.Clone(), State: StateStreaming})
	s.notify(Update{Kind: UpdateAppended, Message: placeholder.Clone(), State: StateStreaming})

	return s.runTurn(ctx, placeholder.ID, text)
}

func (s *Session) runTurn(ctx context.Context, id types.MessageID, text string) error {
	log := s.log.With("message_id", string(id))
	req := workflow.QueryRequest{Query: text}

	err := s.stream(ctx, id, req)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		log.Info("turn abandoned", "error", err)
		s.remove(id)
		return ctx.Err()
	}

	log.Warn("streaming failed, falling back to one-shot query", "error", err)
	s.apply(id, UpdateState, "", func(m *types.Message) TurnState { return StateFallbackPending })

	resp, err := s.provider.Query(ctx, req)
	if err != nil {
		log.Error("fallback query failed", "error", err)
		s.remove(id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &workflow.FallbackError{Err: err}
	}

	s.apply(id, UpdateReplaced, "", func(m *types.Message) TurnState {
		m.Content = resp.Result
		m.Workflows = slices.Clone(resp.SourceDocuments)
		m.Streaming = false
		return StateFallbackDone
	})
	return nil
}

// stream pulls events until done. A nil return means the turn is finalized;
// any error means the placeholder still needs an answer.
func (s *Session) stream(ctx context.Context, id types.MessageID, req workflow.QueryRequest) error {
	stream, err := s.provider.Stream(ctx, req)
	if err != nil {
		return err
	}
	if stream == nil {
		return errors.New("provider returned no stream")
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			// Only reachable if done was consumed elsewhere.
			return fmt.Errorf("stream ended: %w", io.ErrUnexpectedEOF)
		}
		if err != nil {
			return err
		}

		switch ev.Type {
		case workflow.EventSourceDocuments:
			refs := slices.Clone(ev.Workflows)
			s.apply(id, UpdateChanged, "", func(m *types.Message) TurnState {
				m.Workflows = refs
				return StateStreaming
			})

		case workflow.EventContent:
			delta := ev.Delta
			s.apply(id, UpdateChanged, delta, func(m *types.Message) TurnState {
				m.Content += delta
				return StateStreaming
			})

		case workflow.EventDone:
			s.apply(id, UpdateChanged, "", func(m *types.Message) TurnState {
				m.Streaming = false
				return StateFinalized
			})
			return nil
		}
	}
}

// apply runs fn on the message under the lock, stores the state it returns
// and notifies observers with a copy of the result.
func (s *Session) apply(id types.MessageID, kind UpdateKind, delta string, fn func(*types.Message) TurnState) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.state = fn(&s.messages[i])
	u := Update{Kind: kind, Message: s.messages[i].Clone(), Delta: delta, State: s.state}
	s.mu.Unlock()

	s.notify(u)
}

// remove drops the placeholder and marks the turn failed.
func (s *Session) remove(id types.MessageID) {
	s.mu.Lock()
	s.state = StateFailed
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	removed := s.messages[i]
	s.messages = slices.Delete(s.messages, i, i+1)
	s.mu.Unlock()

	removed.Streaming = false
	s.notify(Update{Kind: UpdateRemoved, Message: removed, State: StateFailed})
}

// indexOf searches from the end, where the placeholder lives. Caller holds mu.
func (s *Session) indexOf(id types.MessageID) int {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) notify(u Update) {
	for _, fn := range s.observers {
		fn(u)
	}
}
