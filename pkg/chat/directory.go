package chat

import (
	"context"
	"sync"

	"github.com/ladlehq/ladle/pkg/api"
	"github.com/ladlehq/ladle/pkg/logger"
)

// Directory is the thin catalog layer over the conversation store. Catalog
// failures are swallowed: callers see an unchanged or empty result, never an
// error. That tradeoff is fine for metadata and deliberately not applied to
// the message-send path.
type Directory struct {
	client *api.Client

	mu    sync.Mutex
	cache []Conversation
	fresh bool
}

func NewDirectory(client *api.Client) *Directory {
	return &Directory{client: client}
}

// List returns all conversations for the current user, from cache when it is
// still fresh. On fetch failure the previous cached copy is returned as-is.
func (d *Directory) List(ctx context.Context) []Conversation {
	d.mu.Lock()
	if d.fresh {
		defer d.mu.Unlock()
		return append([]Conversation(nil), d.cache...)
	}
	d.mu.Unlock()

	var fetched []Conversation
	if err := d.client.Get(ctx, "/api/conversations", &fetched); err != nil {
		logger.Debug("conversation list fetch failed: %v", err)
		d.mu.Lock()
		defer d.mu.Unlock()
		return append([]Conversation(nil), d.cache...)
	}

	d.mu.Lock()
	d.cache = fetched
	d.fresh = true
	d.mu.Unlock()
	return append([]Conversation(nil), fetched...)
}

// Invalidate marks the cached catalog stale so the next List refetches. The
// session fires this after stream completion, when a title may have been
// generated.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	d.fresh = false
	d.mu.Unlock()
}

// LoadMessages fetches one conversation's history, normalized to the
// user/assistant messages the session displays. Returns nil on failure.
func (d *Directory) LoadMessages(ctx context.Context, id string) []Message {
	var history struct {
		Messages []Message `json:"messages"`
	}
	if err := d.client.Get(ctx, "/api/conversations/"+id+"/messages", &history); err != nil {
		logger.Debug("history fetch for %s failed: %v", id, err)
		return nil
	}

	messages := make([]Message, 0, len(history.Messages))
	for _, msg := range history.Messages {
		if !msg.IsUser() && !msg.IsAssistant() {
			continue
		}
		msg.IsStreaming = false
		messages = append(messages, msg)
	}
	return messages
}

// Remove deletes a conversation and evicts it from the local cache. A failed
// delete is swallowed and leaves the cache untouched.
func (d *Directory) Remove(ctx context.Context, id string) {
	if err := d.client.Delete(ctx, "/api/conversations/"+id); err != nil {
		logger.Debug("conversation delete for %s failed: %v", id, err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.cache[:0:0]
	for _, conv := range d.cache {
		if conv.ID != id {
			kept = append(kept, conv)
		}
	}
	d.cache = kept
}
