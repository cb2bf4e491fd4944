package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/ladlehq/ladle/pkg/chat"
)

// fakeAssistant is an in-process assistant service: it answers the catalog
// endpoints from in-memory state and replies to every stream request with a
// scripted turn.
type fakeAssistant struct {
	server *httptest.Server

	mu            sync.Mutex
	conversations map[string]*chat.Conversation
	histories     map[string][]chat.Message
	turn          func(send func(name, data string), req streamRequest)
}

type streamRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

func newFakeAssistant() *fakeAssistant {
	f := &fakeAssistant{
		conversations: map[string]*chat.Conversation{},
		histories:     map[string][]chat.Message{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/stream", f.handleStream)
	mux.HandleFunc("GET /api/conversations", f.handleList)
	mux.HandleFunc("GET /api/conversations/{id}/messages", f.handleMessages)
	mux.HandleFunc("DELETE /api/conversations/{id}", f.handleDelete)
	f.server = httptest.NewServer(mux)
	return f
}

func (f *fakeAssistant) Close() {
	f.server.Close()
}

func (f *fakeAssistant) URL() string {
	return f.server.URL
}

func (f *fakeAssistant) scriptTurn(turn func(send func(name, data string), req streamRequest)) {
	f.mu.Lock()
	f.turn = turn
	f.mu.Unlock()
}

func (f *fakeAssistant) addConversation(id, title string, history ...chat.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[id] = &chat.Conversation{
		ID:        id,
		Title:     &title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.histories[id] = history
}

func (f *fakeAssistant) setTitle(id, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv, ok := f.conversations[id]; ok {
		conv.Title = &title
		conv.UpdatedAt = time.Now()
	}
}

func (f *fakeAssistant) handleStream(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	send := func(name, data string) {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
		flusher.Flush()
	}

	f.mu.Lock()
	turn := f.turn
	f.mu.Unlock()
	if turn != nil {
		turn(send, req)
	}
}

func (f *fakeAssistant) handleList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := make([]chat.Conversation, 0, len(f.conversations))
	for _, conv := range f.conversations {
		list = append(list, *conv)
	}
	json.NewEncoder(w).Encode(list)
}

func (f *fakeAssistant) handleMessages(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history, ok := f.histories[r.PathValue("id")]
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"messages": history})
}

func (f *fakeAssistant) handleDelete(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := r.PathValue("id")
	if _, ok := f.conversations[id]; !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	delete(f.conversations, id)
	delete(f.histories, id)
	w.WriteHeader(http.StatusNoContent)
}
