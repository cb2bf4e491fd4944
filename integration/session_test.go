package integration

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ladlehq/ladle/pkg/api"
	"github.com/ladlehq/ladle/pkg/chat"
	"github.com/ladlehq/ladle/pkg/richblock"
)

var _ = Describe("Conversation engine", func() {
	var (
		assistant *fakeAssistant
		directory *chat.Directory
		session   *chat.Session
	)

	BeforeEach(func() {
		assistant = newFakeAssistant()
		client := api.NewClient(assistant.URL(), func() string { return "itest-token" })
		directory = chat.NewDirectory(client)
		session = chat.NewSession(chat.SessionConfig{
			StreamURL: assistant.URL() + "/api/chat/stream",
			Token:     func() string { return "itest-token" },
		}, directory)
		session.SetOnCatalogChanged(directory.Invalidate)
	})

	AfterEach(func() {
		session.Cancel()
		assistant.Close()
	})

	waitIdle := func() {
		Eventually(session.IsStreaming, 5*time.Second, 10*time.Millisecond).Should(BeFalse())
	}

	It("should run a complete turn with tool use and a rich block", func() {
		finalText := "Here is dinner:\n:::recipe_card\n{\"title\": \"Shakshuka\", \"servings\": 2}\n:::\nEnjoy!"
		assistant.scriptTurn(func(send func(name, data string), req streamRequest) {
			Expect(req.Message).To(Equal("What should I cook?"))
			Expect(req.ConversationID).To(BeEmpty())

			send("conversation", `{"id":"c1","title":null}`)
			send("tool_use_start", `{"id":"t1","name":"pantry_lookup"}`)
			send("tool_use_result", `{"id":"t1","name":"pantry_lookup","resultSummary":"eggs and tomatoes available"}`)
			send("text_delta", `{"delta":"Here is dinner:\n"}`)
			send("text_delta", `{"delta":":::recipe_card\n{\"title\": \"Shakshuka\", \"servings\": 2}\n:::\n"}`)
			send("text_delta", `{"delta":"Enjoy!"}`)
			send("message_complete", fmt.Sprintf(`{"messageId":"m1","content":%q}`, finalText))
		})

		session.Send("What should I cook?")
		waitIdle()

		Expect(session.ConversationID()).To(Equal("c1"))
		messages := session.Messages()
		Expect(messages).To(HaveLen(2))

		assistantMsg := messages[1]
		Expect(assistantMsg.ID).To(Equal("m1"))
		Expect(assistantMsg.Content).To(Equal(finalText))
		Expect(assistantMsg.IsStreaming).To(BeFalse())
		Expect(assistantMsg.ToolUses).To(HaveLen(1))
		Expect(assistantMsg.ToolUses[0].Done).To(BeTrue())

		segments := assistantMsg.DisplaySegments()
		Expect(segments).To(HaveLen(3))
		Expect(segments[0].Plain).To(Equal("Here is dinner:"))
		Expect(segments[1].Block.Type).To(Equal(richblock.TypeRecipeCard))
		Expect(segments[1].Block.Data["title"]).To(Equal("Shakshuka"))
		Expect(segments[2].Plain).To(Equal("Enjoy!"))
	})

	It("should refetch the catalog after completion picks up a new title", func() {
		assistant.addConversation("c7", "")
		assistant.scriptTurn(func(send func(name, data string), req streamRequest) {
			assistant.setTitle("c7", "Weeknight shakshuka")
			send("conversation", `{"id":"c7","title":null}`)
			send("message_complete", `{"messageId":"m1","content":"ok"}`)
		})

		before := directory.List(context.Background())
		Expect(before).To(HaveLen(1))
		Expect(*before[0].Title).To(BeEmpty())

		session.Send("hello")
		waitIdle()

		Eventually(func() string {
			list := directory.List(context.Background())
			if len(list) == 0 || list[0].Title == nil {
				return ""
			}
			return *list[0].Title
		}, 5*time.Second, 10*time.Millisecond).Should(Equal("Weeknight shakshuka"))
	})

	It("should load a stored conversation and continue it", func() {
		history := []chat.Message{
			{ID: "m1", Role: chat.RoleUser, Content: "hi"},
			{ID: "m2", Role: chat.RoleAssistant, Content: "hello"},
		}
		assistant.addConversation("c3", "Greetings", history...)
		assistant.scriptTurn(func(send func(name, data string), req streamRequest) {
			Expect(req.ConversationID).To(Equal("c3"))
			send("text_delta", `{"delta":"again"}`)
			send("message_complete", `{"messageId":"m3","content":"again"}`)
		})

		session.Load(context.Background(), "c3")
		Expect(session.ConversationID()).To(Equal("c3"))
		Expect(session.Messages()).To(HaveLen(2))

		session.Send("hi again")
		waitIdle()

		messages := session.Messages()
		Expect(messages).To(HaveLen(4))
		Expect(messages[3].Content).To(Equal("again"))
	})

	It("should fall back to a fresh conversation when the active one is deleted", func() {
		assistant.addConversation("c4", "Doomed",
			chat.Message{ID: "m1", Role: chat.RoleUser, Content: "hi"},
		)

		session.Load(context.Background(), "c4")
		Expect(session.Messages()).To(HaveLen(1))

		session.Delete(context.Background(), "c4")

		Expect(session.ConversationID()).To(BeEmpty())
		Expect(session.Messages()).To(BeEmpty())
		Expect(directory.List(context.Background())).To(BeEmpty())
	})

	It("should survive a server error and accept the next send", func() {
		assistant.scriptTurn(func(send func(name, data string), req streamRequest) {
			send("error", `{"message":"kitchen on fire"}`)
		})

		session.Send("hello?")
		waitIdle()

		messages := session.Messages()
		Expect(messages[1].Content).To(Equal(chat.ErrorContentPrefix + "kitchen on fire"))

		assistant.scriptTurn(func(send func(name, data string), req streamRequest) {
			send("message_complete", `{"messageId":"m2","content":"all good now"}`)
		})
		session.Send("still there?")
		waitIdle()

		messages = session.Messages()
		Expect(messages).To(HaveLen(4))
		Expect(messages[3].Content).To(Equal("all good now"))
	})
})
