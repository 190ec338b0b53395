package types

import (
	"slices"
	"time"

	"github.com/user/flowchat/pkg/workflow"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation. User messages never change after
// creation; an assistant message changes only while Streaming is true.
type Message struct {
	ID        MessageID              `json:"id"`
	Role      Role                   `json:"role"`
	Content   string                 `json:"content"`
	CreatedAt time.Time              `json:"created_at"`
	Streaming bool                   `json:"streaming"`
	Workflows []workflow.WorkflowRef `json:"workflows,omitempty"`
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	m.Workflows = slices.Clone(m.Workflows)
	return m
}
