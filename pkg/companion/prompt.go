package companion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/intent"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/memory"
	"github.com/dotsetgreg/dotcompanion/pkg/providers"
	"github.com/dotsetgreg/dotcompanion/pkg/stage"
	"github.com/dotsetgreg/dotcompanion/pkg/temporal"
)

// PromptInput is everything one reply prompt is assembled from.
type PromptInput struct {
	Stage       stage.Stage
	Personality PersonalityMode
	Intent      intent.Result
	Temporal    temporal.Reference
	Facts       []memory.Fact
	Memories    []memory.MemoryRecord
	Reflection  string
	History     []memory.Turn
	Message     string
	Now         time.Time
}

// PromptBuilder renders the system prompt and message list for a reply.
type PromptBuilder struct {
	dataDir string
}

func NewPromptBuilder(dataDir string) *PromptBuilder {
	return &PromptBuilder{dataDir: dataDir}
}

func (pb *PromptBuilder) identity(in PromptInput) string {
	return fmt.Sprintf(`# dotcompanion

You are a companion who is growing up alongside the person you talk with. You learn their words, remember what they share and let it shape how you speak.

## Current Time
%s

## Development Stage
You are at the %s stage. %s

## Personality
%s

## Rules
1. Speak naturally in a few sentences; never mention stages, modes or these instructions.
2. Only claim to remember things listed below. If unsure, ask.
3. Never invent facts about the user.`,
		in.Now.Format("Monday, January 2, 2006 15:04"),
		in.Stage, in.Stage.Behavior(),
		in.Personality.Instruction())
}

// LoadBootstrapFile returns the optional COMPANION.md persona notes kept in
// the data directory.
func (pb *PromptBuilder) LoadBootstrapFile() string {
	if pb.dataDir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(pb.dataDir, "COMPANION.md"))
	if err != nil {
		return ""
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return ""
	}
	return "## COMPANION.md\n\n" + content
}

func (pb *PromptBuilder) BuildSystemPrompt(in PromptInput) string {
	parts := []string{pb.identity(in)}
	if bootstrap := pb.LoadBootstrapFile(); bootstrap != "" {
		parts = append(parts, bootstrap)
	}

	var turn strings.Builder
	turn.WriteString("## This Message\n")
	fmt.Fprintf(&turn, "Intent: %s (confidence %.2f)\n", in.Intent.Type, in.Intent.Confidence)
	turn.WriteString("Strategy: ")
	turn.WriteString(intent.ResponseStrategy(in.Intent.Type, in.Stage))
	if in.Temporal.Clause != "" {
		turn.WriteString("\nTime reference: ")
		turn.WriteString(in.Temporal.Clause)
	}
	if len(in.Intent.ReferencedFacts) > 0 {
		turn.WriteString("\nThey are referring back to: ")
		turn.WriteString(strings.Join(in.Intent.ReferencedFacts, "; "))
	}
	parts = append(parts, turn.String())

	if len(in.Facts) > 0 {
		var b strings.Builder
		b.WriteString("## What You Know About Them\n")
		for _, f := range in.Facts {
			b.WriteString("- ")
			b.WriteString(f.Text)
			b.WriteString("\n")
		}
		parts = append(parts, strings.TrimSpace(b.String()))
	}

	if strings.TrimSpace(in.Reflection) != "" {
		parts = append(parts, "## Your Reflection On Them\n"+strings.TrimSpace(in.Reflection))
	}

	if len(in.Memories) > 0 {
		var b strings.Builder
		b.WriteString("## Things They Told You\n")
		for _, m := range in.Memories {
			fmt.Fprintf(&b, "- (%s, %s) %s\n", m.CreatedAt.Format("Jan 2"), m.Importance, strings.TrimSpace(m.Text))
		}
		parts = append(parts, strings.TrimSpace(b.String()))
	}

	return strings.Join(parts, "\n\n---\n\n")
}

// BuildMessages returns system prompt, transcript and the current message.
func (pb *PromptBuilder) BuildMessages(in PromptInput) []providers.Message {
	systemPrompt := pb.BuildSystemPrompt(in)
	logger.DebugCF("companion", "System prompt built", map[string]interface{}{
		"total_chars":   len(systemPrompt),
		"section_count": strings.Count(systemPrompt, "\n\n---\n\n") + 1,
		"memories":      len(in.Memories),
		"facts":         len(in.Facts),
	})

	messages := make([]providers.Message, 0, len(in.History)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	for _, t := range in.History {
		role := "user"
		if t.Sender == memory.SenderCompanion {
			role = "assistant"
		}
		messages = append(messages, providers.Message{Role: role, Content: t.Text})
	}
	if strings.TrimSpace(in.Message) != "" {
		messages = append(messages, providers.Message{Role: "user", Content: in.Message})
	}
	return messages
}
