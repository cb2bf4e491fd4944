package chat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ladlehq/ladle/pkg/api"
	"github.com/ladlehq/ladle/pkg/chat"
)

var _ = Describe("Directory", func() {
	var (
		server    *httptest.Server
		directory *chat.Directory
		listCalls atomic.Int32
		deleted   atomic.Value
		failList  atomic.Bool
	)

	title := func(s string) *string { return &s }

	BeforeEach(func() {
		listCalls.Store(0)
		deleted.Store("")
		failList.Store(false)

		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/conversations", func(w http.ResponseWriter, r *http.Request) {
			listCalls.Add(1)
			if failList.Load() {
				http.Error(w, `{"error":"catalog unavailable"}`, http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode([]chat.Conversation{
				{ID: "c1", Title: title("Dinner ideas")},
				{ID: "c2", Title: nil},
			})
		})
		mux.HandleFunc("GET /api/conversations/c1/messages", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]any{
					{"id": "m1", "role": "user", "content": "hi"},
					{"id": "m2", "role": "system", "content": "internal"},
					{"id": "m3", "role": "assistant", "content": "hello", "isStreaming": true},
				},
			})
		})
		mux.HandleFunc("DELETE /api/conversations/", func(w http.ResponseWriter, r *http.Request) {
			deleted.Store(r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		})
		server = httptest.NewServer(mux)
		directory = chat.NewDirectory(api.NewClient(server.URL, nil))
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("List", func() {
		It("should fetch conversations and serve later calls from cache", func() {
			first := directory.List(context.Background())
			second := directory.List(context.Background())

			Expect(first).To(HaveLen(2))
			Expect(first[0].ID).To(Equal("c1"))
			Expect(*first[0].Title).To(Equal("Dinner ideas"))
			Expect(first[1].Title).To(BeNil())
			Expect(second).To(Equal(first))
			Expect(listCalls.Load()).To(Equal(int32(1)))
		})

		It("should refetch after invalidation", func() {
			directory.List(context.Background())
			directory.Invalidate()
			directory.List(context.Background())

			Expect(listCalls.Load()).To(Equal(int32(2)))
		})

		It("should swallow fetch failures and return the cached copy", func() {
			directory.List(context.Background())
			directory.Invalidate()
			failList.Store(true)

			got := directory.List(context.Background())
			Expect(got).To(HaveLen(2))
		})

		It("should return an empty result when nothing was ever fetched", func() {
			failList.Store(true)

			Expect(directory.List(context.Background())).To(BeEmpty())
		})
	})

	Describe("LoadMessages", func() {
		It("should normalize history to user and assistant messages", func() {
			messages := directory.LoadMessages(context.Background(), "c1")

			Expect(messages).To(HaveLen(2))
			Expect(messages[0].Role).To(Equal(chat.RoleUser))
			Expect(messages[1].Role).To(Equal(chat.RoleAssistant))
			Expect(messages[1].IsStreaming).To(BeFalse())
		})

		It("should return nothing on failure", func() {
			Expect(directory.LoadMessages(context.Background(), "missing")).To(BeEmpty())
		})
	})

	Describe("Remove", func() {
		It("should delete the conversation and evict it from the cache", func() {
			directory.List(context.Background())
			directory.Remove(context.Background(), "c1")

			Expect(deleted.Load()).To(Equal("/api/conversations/c1"))
			remaining := directory.List(context.Background())
			Expect(remaining).To(HaveLen(1))
			Expect(remaining[0].ID).To(Equal("c2"))
			Expect(listCalls.Load()).To(Equal(int32(1)))
		})
	})
})
