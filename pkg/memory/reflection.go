package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/stage"
)

// NoMeaningfulChange is the sentinel answer that keeps the current
// reflection as-is.
const NoMeaningfulChange = "NO_MEANINGFUL_CHANGE"

const reflectionSystemPrompt = "You keep a companion's private, evolving reflection about the one person it talks with. " +
	"Write plainly in the third person. Only state what the facts and conversation support; never invent details."

// ReflectionOptions bounds one synthesis call.
type ReflectionOptions struct {
	MaxTokens       int
	Temperature     float64
	Timeout         time.Duration
	TranscriptTurns int
	FactLimit       int
}

func (o ReflectionOptions) withDefaults() ReflectionOptions {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 700
	}
	if o.Temperature <= 0 {
		o.Temperature = 0.3
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.TranscriptTurns <= 0 {
		o.TranscriptTurns = 6
	}
	if o.FactLimit <= 0 {
		o.FactLimit = 40
	}
	return o
}

// ReflectionOutcome describes a successful refresh.
type ReflectionOutcome struct {
	Text string
	// Written is false when the model reported no meaningful change.
	Written bool
	Created bool
}

// Synthesizer rewrites the single reflection record per user. Refreshes for
// the same user are serialized.
type Synthesizer struct {
	store     Store
	completer Completer
	policy    Policy
	locks     *KeyedMutex
	opts      ReflectionOptions
}

func NewSynthesizer(store Store, completer Completer, policy Policy, locks *KeyedMutex, opts ReflectionOptions) *Synthesizer {
	if policy == nil {
		policy = NewDefaultPolicy()
	}
	if locks == nil {
		locks = NewKeyedMutex()
	}
	return &Synthesizer{
		store:     store,
		completer: completer,
		policy:    policy,
		locks:     locks,
		opts:      opts.withDefaults(),
	}
}

// Refresh runs one read-synthesize-upsert cycle. Any error leaves the stored
// reflection exactly as it was.
func (s *Synthesizer) Refresh(ctx context.Context, userID string) (ReflectionOutcome, error) {
	if err := requireUser(userID); err != nil {
		return ReflectionOutcome{}, err
	}
	if s.completer == nil {
		return ReflectionOutcome{}, fmt.Errorf("%w: no completion service configured", ErrSynthesisFailed)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	existing, found, err := s.store.GetReflection(ctx, userID)
	if err != nil {
		return ReflectionOutcome{}, err
	}
	facts, err := s.store.ListFacts(ctx, userID, s.opts.FactLimit)
	if err != nil {
		return ReflectionOutcome{}, err
	}
	turns, err := s.store.ListRecentTurns(ctx, userID, s.opts.TranscriptTurns)
	if err != nil {
		return ReflectionOutcome{}, err
	}
	vocab, err := s.store.CountVocabulary(ctx, userID)
	if err != nil {
		return ReflectionOutcome{}, err
	}
	if !found && len(facts) == 0 && len(turns) == 0 {
		return ReflectionOutcome{}, ErrNoReflectionMaterial
	}

	input := reflectionInput{
		Existing:   existing.Text,
		Facts:      s.meaningfulFacts(facts),
		Turns:      turns,
		Vocabulary: vocab,
	}
	prompt := buildReflectionPrompt(input, found)

	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	started := time.Now()
	raw, err := s.completer.Complete(callCtx, reflectionSystemPrompt, prompt, s.opts.MaxTokens, s.opts.Temperature)
	if err != nil {
		s.metric(ctx, "reflection.failed", userID)
		return ReflectionOutcome{}, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}
	text := cleanReflection(raw)
	if text == "" {
		s.metric(ctx, "reflection.failed", userID)
		return ReflectionOutcome{}, ErrEmptyReflection
	}
	if isNoMeaningfulChange(text) {
		if !found {
			s.metric(ctx, "reflection.failed", userID)
			return ReflectionOutcome{}, ErrEmptyReflection
		}
		s.metric(ctx, "reflection.unchanged", userID)
		return ReflectionOutcome{Text: existing.Text}, nil
	}

	rec, err := s.store.UpsertReflection(ctx, userID, text)
	if err != nil {
		return ReflectionOutcome{}, err
	}
	s.metric(ctx, "reflection.updated", userID)
	logger.DebugCF("reflection", "Reflection refreshed", map[string]interface{}{
		"user_id":     userID,
		"created":     !found,
		"chars":       len(rec.Text),
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return ReflectionOutcome{Text: rec.Text, Written: true, Created: !found}, nil
}

func (s *Synthesizer) meaningfulFacts(facts []Fact) []Fact {
	out := make([]Fact, 0, len(facts))
	for _, f := range facts {
		if s.policy.MeaningfulFact(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s *Synthesizer) metric(ctx context.Context, name, userID string) {
	_ = s.store.AddMetric(context.WithoutCancel(ctx), name, 1, map[string]string{"user_id": userID})
}

type reflectionInput struct {
	Existing   string
	Facts      []Fact
	Turns      []Turn
	Vocabulary int
}

func buildReflectionPrompt(in reflectionInput, integrate bool) string {
	var b strings.Builder
	if integrate {
		b.WriteString("Update the long-lived reflection about this person.\n")
		b.WriteString("Integrate only genuinely new insight from the recent conversation into the existing reflection. ")
		b.WriteString("Refine and correct rather than pad. Keep it under 200 words.\n")
		b.WriteString("If the recent conversation adds nothing meaningful, answer with exactly " + NoMeaningfulChange + ".\n\n")
		b.WriteString("EXISTING REFLECTION:\n")
		b.WriteString(strings.TrimSpace(in.Existing))
		b.WriteString("\n\n")
	} else {
		b.WriteString("Write the first reflection about this person from what is known so far.\n")
		b.WriteString("Cover who they are, what matters to them and how they seem to be feeling. Keep it under 200 words.\n\n")
	}

	b.WriteString("KNOWN FACTS:\n")
	if len(in.Facts) == 0 {
		b.WriteString("(none yet)\n")
	}
	// Facts arrive newest first; present them oldest first.
	for i := len(in.Facts) - 1; i >= 0; i-- {
		b.WriteString("- ")
		b.WriteString(in.Facts[i].Text)
		b.WriteString("\n")
	}

	st := stage.ForVocabulary(in.Vocabulary)
	fmt.Fprintf(&b, "\nVOCABULARY SIZE: %d distinct words (%s stage)\n", in.Vocabulary, st)

	b.WriteString("\nRECENT CONVERSATION:\n")
	if len(in.Turns) == 0 {
		b.WriteString("(no messages yet)\n")
	}
	for _, t := range in.Turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Sender, strings.TrimSpace(t.Text))
	}

	if integrate {
		b.WriteString("\nReturn only the updated reflection or " + NoMeaningfulChange + ".")
	} else {
		b.WriteString("\nReturn only the reflection.")
	}
	return b.String()
}

func cleanReflection(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func isNoMeaningfulChange(text string) bool {
	t := strings.ToUpper(strings.Trim(text, " .\n\t\"'`"))
	return t == NoMeaningfulChange || strings.ReplaceAll(t, " ", "_") == NoMeaningfulChange
}

// IsSoftReflectionError reports whether err came from the model side rather
// than from storage.
func IsSoftReflectionError(err error) bool {
	return errors.Is(err, ErrSynthesisFailed) ||
		errors.Is(err, ErrEmptyReflection) ||
		errors.Is(err, ErrNoReflectionMaterial)
}
