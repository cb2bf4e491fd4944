package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// GenericErrorMessage is surfaced when a stream fails without a usable
// structured error payload.
const GenericErrorMessage = "connection error"

// Handler receives the JSON payload of one named event.
type Handler func(data json.RawMessage)

// Options configures a single stream. One Options value opens exactly one
// connection.
type Options struct {
	// URL is the absolute endpoint the opening POST is sent to.
	URL string

	// Payload is JSON-serialized as the request body.
	Payload any

	// Token supplies the bearer credential per request. Nil or an empty
	// result sends no Authorization header.
	Token func() string

	// Handlers maps event names to callbacks. Events with no matching
	// entry are ignored.
	Handlers map[string]Handler

	// TerminalEvent names the event that ends the stream successfully.
	// Its handler runs first, then the stream closes itself.
	TerminalEvent string

	// ErrorEvent names the server's structured error event.
	ErrorEvent string

	// OnError receives a best-effort message when the stream ends with a
	// structured error or a transport failure.
	OnError func(message string)

	// OnClose fires exactly once per stream, whichever of completion,
	// error, or Close ends it.
	OnClose func()

	// IdleTimeout ends the stream with an error after that long without
	// any inbound event. Zero disables the timeout.
	IdleTimeout time.Duration

	// HTTPClient overrides the default client. Streaming clients should
	// carry no overall timeout.
	HTTPClient *http.Client
}

// Stream is one open server-to-client event connection. Events are
// dispatched to handlers strictly in arrival order; no handler runs after
// Close returns.
type Stream struct {
	opts   Options
	body   io.ReadCloser
	cancel context.CancelFunc
	idle   *time.Timer

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Open issues the POST and starts dispatching events. The connection is
// established synchronously; a non-2xx status or transport failure is
// returned as an error and no callbacks fire.
func Open(ctx context.Context, opts Options) (*Stream, error) {
	payload, err := json.Marshal(opts.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream payload: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.URL, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if opts.Token != nil {
		if token := opts.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	s := &Stream{
		opts:   opts,
		body:   resp.Body,
		cancel: cancel,
	}
	if opts.IdleTimeout > 0 {
		s.idle = time.AfterFunc(opts.IdleTimeout, func() {
			s.fail("stream timed out waiting for events")
		})
	}

	go s.read()
	return s, nil
}

// Close cancels the stream. Idempotent, safe after self-close, and
// synchronous: once Close returns no further handler will run, even if the
// transport has events buffered.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.shutdown()
}

// read parses the wire format line by line: "event:" names the next payload,
// "data:" lines accumulate it, a blank line dispatches.
func (s *Stream) read() {
	defer s.body.Close()

	scanner := bufio.NewScanner(s.body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var data strings.Builder

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if line == "" {
			if eventName != "" || data.Len() > 0 {
				if s.dispatch(eventName, data.String()) {
					return
				}
				eventName = ""
				data.Reset()
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			field = line[:idx]
			value = strings.TrimPrefix(line[idx+1:], " ")
		}
		switch field {
		case "event":
			eventName = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}

	// Flush a final event the server did not blank-line terminate.
	if eventName != "" || data.Len() > 0 {
		if s.dispatch(eventName, data.String()) {
			return
		}
	}

	// The connection ended without a terminal event.
	s.fail(GenericErrorMessage)
}

// dispatch applies one wire event and reports whether the stream is done.
// Handlers run under the stream lock so Close can guarantee no handler runs
// after it returns.
func (s *Stream) dispatch(name, data string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return true
	}
	if s.idle != nil {
		s.idle.Reset(s.opts.IdleTimeout)
	}

	switch {
	case name != "" && name == s.opts.ErrorEvent:
		s.closed = true
		s.mu.Unlock()
		if s.opts.OnError != nil {
			s.opts.OnError(errorMessage(data))
		}
		s.shutdown()
		return true

	case name != "" && name == s.opts.TerminalEvent:
		if handler := s.opts.Handlers[name]; handler != nil && json.Valid([]byte(data)) {
			handler(json.RawMessage(data))
		}
		s.closed = true
		s.mu.Unlock()
		s.shutdown()
		return true

	default:
		// Malformed payloads are swallowed for this event only.
		if handler := s.opts.Handlers[name]; handler != nil && data != "" && json.Valid([]byte(data)) {
			handler(json.RawMessage(data))
		}
		s.mu.Unlock()
		return false
	}
}

// fail ends the stream with an error message unless it is already closed.
func (s *Stream) fail(message string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	if s.opts.OnError != nil {
		s.opts.OnError(message)
	}
	s.shutdown()
}

func (s *Stream) shutdown() {
	if s.idle != nil {
		s.idle.Stop()
	}
	s.cancel()
	s.body.Close()
	s.closeOnce.Do(func() {
		if s.opts.OnClose != nil {
			s.opts.OnClose()
		}
	})
}

// errorMessage extracts the server's error text, falling back to a generic
// message when the payload is absent or unparseable.
func errorMessage(data string) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return GenericErrorMessage
}
