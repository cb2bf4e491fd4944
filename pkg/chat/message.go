package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/ladlehq/ladle/pkg/richblock"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a conversation. At most one message is streaming
// at any time, and while a turn is in flight it is always the trailing
// assistant message.
type Message struct {
	ID          string            `json:"id"`
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	RichBlocks  []richblock.Block `json:"richBlocks,omitempty"`
	ToolUses    []ToolUseStatus   `json:"toolUses,omitempty"`
	IsStreaming bool              `json:"isStreaming"`
}

// ToolUseStatus tracks one server-side tool invocation reported during a
// turn. It only ever moves from pending to done.
type ToolUseStatus struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Done          bool   `json:"done"`
	ResultSummary string `json:"resultSummary,omitempty"`
}

// Conversation is a catalog entry. The server owns it; the client refetches
// after any event that could change the title.
type Conversation struct {
	ID        string    `json:"id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewUserMessage(content string) Message {
	return Message{
		ID:      uuid.NewString(),
		Role:    RoleUser,
		Content: content,
	}
}

// NewAssistantPlaceholder is the empty streaming message appended at send
// time and mutated by every stream event until the turn ends.
func NewAssistantPlaceholder() Message {
	return Message{
		Role:        RoleAssistant,
		Content:     "",
		ToolUses:    []ToolUseStatus{},
		IsStreaming: true,
	}
}

func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

// DisplaySegments parses the message content into renderable segments. The
// result is derived purely from the text, so it is safe to call on every
// delta while the message is still streaming.
func (m Message) DisplaySegments() []richblock.Segment {
	return richblock.SplitForDisplay(m.Content)
}

// PlainText returns the message content with rich blocks stripped.
func (m Message) PlainText() string {
	return richblock.StripBlocks(m.Content)
}
