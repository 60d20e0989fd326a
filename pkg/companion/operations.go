package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/memory"
	"github.com/dotsetgreg/dotcompanion/pkg/stage"
	"github.com/samber/lo"
)

const listLimit = 200

type Stats struct {
	UserID          string      `json:"userId"`
	VocabularyCount int         `json:"vocabularyCount"`
	FactCount       int         `json:"factCount"`
	MemoryCount     int         `json:"memoryCount"`
	Stage           stage.Stage `json:"stage"`
	// NextStageThreshold is nil once the final stage is reached.
	NextStageThreshold *int `json:"nextStageThreshold"`
}

func (e *Engine) Stats(ctx context.Context, userID string) (Stats, error) {
	userID = e.resolveUser(userID)
	store := e.memory.Store()

	vocab, err := store.CountVocabulary(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("count vocabulary: %w", err)
	}
	facts, err := store.CountFacts(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("count facts: %w", err)
	}
	memories, err := store.CountMemories(ctx, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("count memories: %w", err)
	}

	out := Stats{
		UserID:          userID,
		VocabularyCount: vocab,
		FactCount:       facts,
		MemoryCount:     memories,
		Stage:           stage.ForVocabulary(vocab),
	}
	if next, ok := stage.NextThreshold(vocab); ok {
		out.NextStageThreshold = &next
	}
	return out, nil
}

// Facts lists meaningful facts, newest first. Never nil.
func (e *Engine) Facts(ctx context.Context, userID string) ([]memory.Fact, error) {
	userID = e.resolveUser(userID)
	facts, err := e.memory.Store().ListFacts(ctx, userID, listLimit)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	policy := e.memory.Policy()
	out := lo.Filter(facts, func(f memory.Fact, _ int) bool { return policy.MeaningfulFact(f) })
	if out == nil {
		out = []memory.Fact{}
	}
	return out, nil
}

// Memories lists memory records newest first, reflection included.
func (e *Engine) Memories(ctx context.Context, userID string) ([]memory.MemoryRecord, error) {
	userID = e.resolveUser(userID)
	recs, err := e.memory.Store().ListMemories(ctx, userID, listLimit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	if recs == nil {
		recs = []memory.MemoryRecord{}
	}
	return recs, nil
}

// WeeklySummary returns the reflection, synthesizing an initial one when
// none exists yet. An empty summary means there is nothing to reflect on or
// synthesis failed; the failure is logged.
func (e *Engine) WeeklySummary(ctx context.Context, userID string) (string, error) {
	userID = e.resolveUser(userID)
	rec, ok, err := e.memory.Store().GetReflection(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load reflection: %w", err)
	}
	if ok {
		return rec.Text, nil
	}

	outcome, err := e.memory.Reflect(ctx, userID)
	switch {
	case err == nil:
		return outcome.Text, nil
	case errors.Is(err, memory.ErrNoReflectionMaterial):
		return "", nil
	case memory.IsSoftReflectionError(err):
		logger.WarnCF("companion", "Initial reflection failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return "", nil
	default:
		return "", fmt.Errorf("generate reflection: %w", err)
	}
}

// SwitchUser empties the identity slot and reseeds it with the new name.
// Vocabulary is kept; it belongs to the companion rather than the person.
func (e *Engine) SwitchUser(ctx context.Context, userID, name string) error {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ErrMissingName
	}
	userID = e.resolveUser(userID)
	unlock := e.turnLocks.Lock(userID)
	defer unlock()
	// A refresh that read the old memories must not write its reflection
	// back after the slot is cleared.
	release := e.memory.HoldReflection(userID)
	defer release()

	store := e.memory.Store()
	if err := store.ClearUser(ctx, userID, memory.ClearOptions{}); err != nil {
		return fmt.Errorf("clear user: %w", err)
	}

	now := e.now()
	text := "Name: " + name
	if err := store.AppendFacts(ctx, []memory.Fact{{
		UserID:    userID,
		Text:      text,
		Category:  memory.CategoryIdentity,
		CreatedAt: now,
	}}); err != nil {
		return fmt.Errorf("seed name fact: %w", err)
	}
	if _, err := store.AppendMemory(ctx, memory.MemoryRecord{
		UserID:     userID,
		Text:       "The person I'm talking with is " + name + ".",
		Category:   memory.CategoryIdentity,
		Importance: memory.ImportanceHigh,
		Tags:       []string{"identity"},
		CreatedAt:  now,
	}); err != nil {
		return fmt.Errorf("seed identity memory: %w", err)
	}
	if err := store.TouchCompanion(ctx, userID); err != nil {
		return fmt.Errorf("touch companion: %w", err)
	}

	logger.InfoCF("companion", "Switched user", map[string]interface{}{"user_id": userID})
	return nil
}

// ResetCompanion wipes everything including vocabulary, returning the
// companion to the first stage.
func (e *Engine) ResetCompanion(ctx context.Context, userID string) error {
	userID = e.resolveUser(userID)
	unlock := e.turnLocks.Lock(userID)
	defer unlock()
	// A refresh that read the old memories must not write its reflection
	// back after the slot is cleared.
	release := e.memory.HoldReflection(userID)
	defer release()

	if err := e.memory.Store().ClearUser(ctx, userID, memory.ClearOptions{Vocabulary: true}); err != nil {
		return fmt.Errorf("reset companion: %w", err)
	}
	logger.InfoCF("companion", "Companion reset", map[string]interface{}{"user_id": userID})
	return nil
}

// RefreshReflection runs one synthesis pass outside of a turn.
func (e *Engine) RefreshReflection(ctx context.Context, userID string) (memory.ReflectionOutcome, error) {
	return e.memory.Reflect(ctx, e.resolveUser(userID))
}

// ActiveUsers lists identity slots with activity after since.
func (e *Engine) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := e.memory.Store().ListActiveCompanions(ctx, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list active companions: %w", err)
	}
	return lo.Map(rows, func(c memory.Companion, _ int) string { return c.UserID }), nil
}
