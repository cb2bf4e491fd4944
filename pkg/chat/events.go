package chat

import (
	"encoding/json"
	"fmt"

	"github.com/ladlehq/ladle/pkg/richblock"
)

// Wire event names the assistant service emits on a stream.
const (
	EventConversation    = "conversation"
	EventTextDelta       = "text_delta"
	EventToolUseStart    = "tool_use_start"
	EventToolUseResult   = "tool_use_result"
	EventMessageComplete = "message_complete"
	EventError           = "error"
)

// Event is the closed set of inbound stream events. Decoding into a tagged
// union keeps the session's dispatch exhaustive: adding an event type means
// adding a case, checked at compile time.
type Event interface {
	eventName() string
}

type ConversationEvent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type TextDeltaEvent struct {
	Delta string `json:"delta"`
}

type ToolUseStartEvent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ToolUseResultEvent struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ResultSummary string `json:"resultSummary"`
}

type MessageCompleteEvent struct {
	MessageID  string            `json:"messageId"`
	Content    string            `json:"content"`
	RichBlocks []richblock.Block `json:"richBlocks,omitempty"`
}

func (ConversationEvent) eventName() string    { return EventConversation }
func (TextDeltaEvent) eventName() string       { return EventTextDelta }
func (ToolUseStartEvent) eventName() string    { return EventToolUseStart }
func (ToolUseResultEvent) eventName() string   { return EventToolUseResult }
func (MessageCompleteEvent) eventName() string { return EventMessageComplete }

// DecodeEvent parses one named wire event into its typed form.
func DecodeEvent(name string, data json.RawMessage) (Event, error) {
	switch name {
	case EventConversation:
		var evt ConversationEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", name, err)
		}
		return evt, nil
	case EventTextDelta:
		var evt TextDeltaEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", name, err)
		}
		return evt, nil
	case EventToolUseStart:
		var evt ToolUseStartEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", name, err)
		}
		return evt, nil
	case EventToolUseResult:
		var evt ToolUseResultEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", name, err)
		}
		return evt, nil
	case EventMessageComplete:
		var evt MessageCompleteEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("failed to decode %s event: %w", name, err)
		}
		return evt, nil
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
}
