package chat

import "github.com/user/flowchat/internal/types"

// TurnState is the lifecycle position of the current (or last) turn.
type TurnState string

const (
	StateIdle            TurnState = "idle"
	StateStreaming       TurnState = "streaming"
	StateFallbackPending TurnState = "fallback_pending"
	StateFinalized       TurnState = "finalized"
	StateFallbackDone    TurnState = "fallback_done"
	StateFailed          TurnState = "failed"
)

// Active reports whether a turn in this state blocks a new send.
func (s TurnState) Active() bool {
	return s == StateStreaming || s == StateFallbackPending
}

// UpdateKind says what happened to the message carried by an Update.
type UpdateKind string

const (
	// UpdateAppended: a new message was added to the end of the list.
	UpdateAppended UpdateKind = "appended"
	// UpdateChanged: the placeholder received workflows or a content delta,
	// or was finalized.
	UpdateChanged UpdateKind = "changed"
	// UpdateReplaced: the placeholder was overwritten by a one-shot answer.
	UpdateReplaced UpdateKind = "replaced"
	// UpdateRemoved: the placeholder was dropped after a failed turn.
	UpdateRemoved UpdateKind = "removed"
	// UpdateState: the turn moved to another state without touching messages.
	UpdateState UpdateKind = "state"
)

// Update is delivered to observers after every change, in order, on the
// goroutine running Send. Message is a copy.
type Update struct {
	Kind    UpdateKind
	Message types.Message
	Delta   string
	State   TurnState
}
