package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ladlehq/ladle/pkg/logger"
	"github.com/ladlehq/ladle/pkg/sse"
)

// ErrorContentPrefix starts the assistant text shown when a turn fails
// before any content streamed in.
const ErrorContentPrefix = "Sorry, something went wrong: "

// StreamRequest is the body of the stream-opening POST. ConversationID is
// only present once the server has assigned one.
type StreamRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

// SessionConfig wires a session to the assistant service.
type SessionConfig struct {
	// StreamURL is the absolute endpoint that opens a conversation stream.
	StreamURL string

	// Token supplies the bearer credential for the stream request.
	Token func() string

	// IdleTimeout aborts a stream that stops emitting events. Zero
	// disables the guard.
	IdleTimeout time.Duration

	// HTTPClient overrides the streaming client, mainly for tests.
	HTTPClient *http.Client
}

// Session owns the message list for one conversation and drives one stream
// at a time. It is the only component that mutates messages; readers get
// copy-on-write snapshots that stay stable across later mutations.
type Session struct {
	cfg       SessionConfig
	directory *Directory

	mu             sync.Mutex
	messages       []Message
	conversationID string
	streaming      bool
	streamingIdx   int
	stream         *sse.Stream

	onChange         func()
	onCatalogChanged func()
}

func NewSession(cfg SessionConfig, directory *Directory) *Session {
	return &Session{
		cfg:          cfg,
		directory:    directory,
		streamingIdx: -1,
	}
}

// SetOnChange registers a callback fired after every applied mutation, so a
// view layer can repaint. Called outside the session lock.
func (s *Session) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// SetOnCatalogChanged registers the cache-invalidation signal fired when a
// completed turn may have changed catalog metadata such as the title.
func (s *Session) SetOnCatalogChanged(fn func()) {
	s.mu.Lock()
	s.onCatalogChanged = fn
	s.mu.Unlock()
}

// Messages returns a snapshot of the conversation. Callers must treat it as
// read-only.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]Message, len(s.messages))
	copy(snapshot, s.messages)
	return snapshot
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Send starts a turn: it appends the user message and an assistant
// placeholder, then opens the event stream. Empty input and sends while a
// turn is already in flight are silent no-ops.
func (s *Session) Send(text string) {
	text = strings.TrimSpace(text)

	s.mu.Lock()
	if text == "" || s.streaming {
		s.mu.Unlock()
		logger.Debug("send rejected: empty=%t streaming=%t", text == "", s.streaming)
		return
	}
	next := make([]Message, len(s.messages), len(s.messages)+2)
	copy(next, s.messages)
	s.messages = append(next, NewUserMessage(text), NewAssistantPlaceholder())
	s.streaming = true
	s.streamingIdx = len(s.messages) - 1
	conversationID := s.conversationID
	s.mu.Unlock()
	s.notify()

	stream, err := sse.Open(context.Background(), sse.Options{
		URL:           s.cfg.StreamURL,
		Payload:       StreamRequest{Message: text, ConversationID: conversationID},
		Token:         s.cfg.Token,
		Handlers:      s.handlers(),
		TerminalEvent: EventMessageComplete,
		ErrorEvent:    EventError,
		OnError:       s.handleStreamError,
		OnClose:       s.handleStreamClosed,
		IdleTimeout:   s.cfg.IdleTimeout,
		HTTPClient:    s.cfg.HTTPClient,
	})
	if err != nil {
		logger.Error("failed to open conversation stream: %v", err)
		s.handleStreamError(sse.GenericErrorMessage)
		return
	}

	s.mu.Lock()
	if s.streaming {
		s.stream = stream
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	// The turn already ended (cancel or a fast terminal event); drop the
	// connection instead of leaking it.
	stream.Close()
}

// Cancel aborts the in-flight turn, if any. Accumulated content is kept
// exactly as received; only the streaming flag is cleared. Idempotent, and
// once it returns no further stream event will be applied.
func (s *Session) Cancel() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	wasStreaming := s.streaming
	if s.streaming && s.streamingIdx >= 0 {
		msg := s.messages[s.streamingIdx]
		msg.IsStreaming = false
		s.replaceStreaming(msg)
	}
	s.streaming = false
	s.streamingIdx = -1
	s.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	if wasStreaming {
		s.notify()
	}
}

// StartNew clears the message list and conversation id. Rejected while a
// stream is active; callers cancel first.
func (s *Session) StartNew() {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		logger.Warn("start-new rejected while a stream is active")
		return
	}
	s.messages = nil
	s.conversationID = ""
	s.mu.Unlock()
	s.notify()
}

// Load replaces the session wholesale with a fetched conversation history.
// Rejected while a stream is active.
func (s *Session) Load(ctx context.Context, id string) {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		logger.Warn("load rejected while a stream is active")
		return
	}
	s.mu.Unlock()

	messages := s.directory.LoadMessages(ctx, id)

	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return
	}
	s.messages = messages
	s.conversationID = id
	s.mu.Unlock()
	s.notify()
}

// Delete removes a conversation from the catalog. Deleting the active
// conversation behaves like StartNew, aborting any in-flight turn first.
func (s *Session) Delete(ctx context.Context, id string) {
	s.directory.Remove(ctx, id)

	s.mu.Lock()
	active := s.conversationID == id
	s.mu.Unlock()
	if active {
		s.Cancel()
		s.StartNew()
	}
}

// handlers builds the stream's handler table. Each handler decodes into the
// typed event union and hands it to apply; malformed payloads are dropped
// per event.
func (s *Session) handlers() map[string]sse.Handler {
	decode := func(name string) sse.Handler {
		return func(data json.RawMessage) {
			evt, err := DecodeEvent(name, data)
			if err != nil {
				logger.Debug("dropping malformed %s event: %v", name, err)
				return
			}
			s.apply(evt)
		}
	}
	return map[string]sse.Handler{
		EventConversation:    decode(EventConversation),
		EventTextDelta:       decode(EventTextDelta),
		EventToolUseStart:    decode(EventToolUseStart),
		EventToolUseResult:   decode(EventToolUseResult),
		EventMessageComplete: decode(EventMessageComplete),
	}
}

// apply mutates session state for one stream event. Events are delivered in
// wire order and applied synchronously, so the streaming message's content
// is exactly the concatenation of all deltas received so far.
func (s *Session) apply(evt Event) {
	s.mu.Lock()
	if !s.streaming || s.streamingIdx < 0 {
		// The turn ended (cancel or terminal event) before this event
		// was applied; discard it.
		s.mu.Unlock()
		return
	}

	completed := false
	switch e := evt.(type) {
	case ConversationEvent:
		if s.conversationID == "" {
			s.conversationID = e.ID
		}

	case TextDeltaEvent:
		msg := s.messages[s.streamingIdx]
		msg.Content += e.Delta
		s.replaceStreaming(msg)

	case ToolUseStartEvent:
		msg := s.messages[s.streamingIdx]
		uses := make([]ToolUseStatus, len(msg.ToolUses)+1)
		copy(uses, msg.ToolUses)
		uses[len(msg.ToolUses)] = ToolUseStatus{ID: e.ID, Name: e.Name}
		msg.ToolUses = uses
		s.replaceStreaming(msg)

	case ToolUseResultEvent:
		msg := s.messages[s.streamingIdx]
		uses := make([]ToolUseStatus, len(msg.ToolUses))
		copy(uses, msg.ToolUses)
		found := false
		for i := range uses {
			if uses[i].ID == e.ID && !uses[i].Done {
				uses[i].Done = true
				uses[i].ResultSummary = e.ResultSummary
				found = true
				break
			}
		}
		if found {
			msg.ToolUses = uses
			s.replaceStreaming(msg)
		}

	case MessageCompleteEvent:
		msg := s.messages[s.streamingIdx]
		msg.ID = e.MessageID
		msg.Content = e.Content
		if len(e.RichBlocks) > 0 {
			msg.RichBlocks = e.RichBlocks
		}
		msg.IsStreaming = false
		s.replaceStreaming(msg)
		s.streaming = false
		s.streamingIdx = -1
		completed = true
	}
	catalogChanged := s.onCatalogChanged
	s.mu.Unlock()

	s.notify()
	if completed && catalogChanged != nil {
		catalogChanged()
	}
}

// handleStreamError ends the turn after a structured error event or a
// transport failure. Partial content is preserved; an empty placeholder gets
// an apologetic message carrying the server's error text.
func (s *Session) handleStreamError(message string) {
	s.mu.Lock()
	if s.streaming && s.streamingIdx >= 0 {
		msg := s.messages[s.streamingIdx]
		if msg.Content == "" {
			msg.Content = ErrorContentPrefix + message
		}
		msg.IsStreaming = false
		s.replaceStreaming(msg)
	}
	s.streaming = false
	s.streamingIdx = -1
	s.mu.Unlock()
	s.notify()
}

// handleStreamClosed drops the stream handle. Normally whichever terminal
// path ended the turn already settled the streaming flag, but a terminal
// event whose payload could not be decoded closes the stream without
// reaching apply — in that case the turn is finalized here with whatever
// content accumulated, so the session is ready for another send.
func (s *Session) handleStreamClosed() {
	s.mu.Lock()
	s.stream = nil
	finalize := s.streaming && s.streamingIdx >= 0
	if finalize {
		msg := s.messages[s.streamingIdx]
		msg.IsStreaming = false
		s.replaceStreaming(msg)
		s.streaming = false
		s.streamingIdx = -1
	}
	s.mu.Unlock()

	if finalize {
		logger.Warn("stream closed without settling the turn; finalizing with accumulated content")
		s.notify()
	}
}

// replaceStreaming swaps the in-progress message in a fresh slice so earlier
// snapshots handed to readers are never mutated underneath them. Caller
// holds the lock.
func (s *Session) replaceStreaming(msg Message) {
	next := make([]Message, len(s.messages))
	copy(next, s.messages)
	next[s.streamingIdx] = msg
	s.messages = next
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
