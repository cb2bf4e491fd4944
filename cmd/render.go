package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ladlehq/ladle/pkg/chat"
	"github.com/ladlehq/ladle/pkg/richblock"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	toolStyle   = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("5")).
			Padding(0, 1)
	cardTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	buttonStyle    = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("6")).
			Padding(0, 2)
)

// renderMessage renders a finished message: plain runs as text, rich blocks
// as styled widgets.
func renderMessage(msg chat.Message) string {
	if strings.HasPrefix(msg.Content, chat.ErrorContentPrefix) {
		return errorStyle.Render(msg.Content)
	}

	var parts []string
	for _, segment := range msg.DisplaySegments() {
		if segment.IsBlock() {
			parts = append(parts, renderBlock(*segment.Block))
		} else if segment.Plain != "" {
			parts = append(parts, segment.Plain)
		}
	}
	return strings.Join(parts, "\n\n")
}

func renderHistory(messages []chat.Message) string {
	var lines []string
	for _, msg := range messages {
		if msg.IsUser() {
			lines = append(lines, promptStyle.Render("you> ")+msg.Content)
		} else {
			lines = append(lines, renderMessage(msg))
		}
	}
	return strings.Join(lines, "\n")
}

func renderBlock(block richblock.Block) string {
	switch block.Type {
	case richblock.TypeRecipeCard:
		return cardStyle.Render(renderRecipeCard(block))
	case richblock.TypeIngredientList:
		return cardStyle.Render(renderIngredientList(block))
	case richblock.TypePantrySummary:
		return cardStyle.Render(renderPantrySummary(block))
	case richblock.TypeActionButton:
		return buttonStyle.Render(stringField(block, "label", "Go"))
	}
	return ""
}

func renderRecipeCard(block richblock.Block) string {
	lines := []string{cardTitleStyle.Render(stringField(block, "title", "Recipe"))}
	if servings, ok := block.Data["servings"].(float64); ok {
		lines = append(lines, faintStyle.Render(fmt.Sprintf("serves %d", int(servings))))
	}
	if description := stringField(block, "description", ""); description != "" {
		lines = append(lines, description)
	}
	return strings.Join(lines, "\n")
}

func renderIngredientList(block richblock.Block) string {
	lines := []string{cardTitleStyle.Render("Ingredients")}
	if items, ok := block.Data["items"].([]any); ok {
		for _, item := range items {
			lines = append(lines, fmt.Sprintf("• %v", item))
		}
	}
	return strings.Join(lines, "\n")
}

func renderPantrySummary(block richblock.Block) string {
	lines := []string{cardTitleStyle.Render("Pantry")}
	for _, key := range []string{"ok", "low", "out"} {
		if count, exists := block.Data[key].(float64); exists {
			lines = append(lines, fmt.Sprintf("%s: %d", key, int(count)))
		}
	}
	return strings.Join(lines, "\n")
}

func renderToolUse(use chat.ToolUseStatus) string {
	if !use.Done {
		return fmt.Sprintf("⚙ %s…", use.Name)
	}
	if use.ResultSummary != "" {
		return fmt.Sprintf("⚙ %s: %s", use.Name, use.ResultSummary)
	}
	return fmt.Sprintf("⚙ %s: done", use.Name)
}

func renderConversation(conv chat.Conversation) string {
	title := "(untitled)"
	if conv.Title != nil && *conv.Title != "" {
		title = *conv.Title
	}
	return fmt.Sprintf("%s  %s  %s",
		faintStyle.Render(conv.ID),
		title,
		faintStyle.Render(conv.UpdatedAt.Format("2006-01-02 15:04")))
}

func stringField(block richblock.Block, key, fallback string) string {
	if value, ok := block.Data[key].(string); ok && value != "" {
		return value
	}
	return fallback
}
