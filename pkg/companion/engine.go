// Package companion runs chat turns against the adaptive memory engine.
package companion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/intent"
	"github.com/dotsetgreg/dotcompanion/pkg/lexicon"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/memory"
	"github.com/dotsetgreg/dotcompanion/pkg/providers"
	"github.com/dotsetgreg/dotcompanion/pkg/stage"
	"github.com/dotsetgreg/dotcompanion/pkg/temporal"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const (
	factLookupLimit = 500
	factPromptLimit = 30
	excerptLength   = 120
)

type ChatRequest struct {
	// UserID selects the identity slot; empty means the configured default.
	UserID          string `json:"user_id,omitempty"`
	Message         string `json:"message"`
	PersonalityMode string `json:"personalityMode,omitempty"`
}

type ChatResponse struct {
	Reply             string            `json:"reply"`
	Stage             stage.Stage       `json:"stage"`
	StageChanged      bool              `json:"stageChanged"`
	VocabularyCount   int               `json:"vocabularyCount"`
	NewWordsThisTurn  []string          `json:"newWordsThisTurn"`
	FactsLearned      []string          `json:"factsLearned"`
	ReflectionUpdated bool              `json:"reflectionUpdated"`
	ReflectionQueued  bool              `json:"reflectionQueued"`
	Intent            intent.Type       `json:"intent"`
	IntentConfidence  float64           `json:"intentConfidence"`
	Importance        memory.Importance `json:"importance"`
	Tags              []string          `json:"tags"`
	Temporal          temporal.Kind     `json:"temporal"`
	PersonalityMode   PersonalityMode   `json:"personalityMode"`
	FellBack          bool              `json:"fellBack"`
}

// Engine is the turn orchestrator. A turn moves through
// Received -> Enriched -> Persisted -> Replied -> Reflected; turns for the
// same user never overlap.
type Engine struct {
	cfg       *config.Config
	provider  providers.LLMProvider
	model     string
	memory    *memory.Service
	extractor lexicon.FactExtractor
	prompts   *PromptBuilder
	turnLocks *memory.KeyedMutex
	now       func() time.Time
}

type Option func(*Engine)

// WithFactExtractor swaps the fact extraction strategy.
func WithFactExtractor(x lexicon.FactExtractor) Option {
	return func(e *Engine) {
		if x != nil {
			e.extractor = x
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine opens the companion database under the configured data dir.
func NewEngine(cfg *config.Config, provider providers.LLMProvider, opts ...Option) (*Engine, error) {
	model := strings.TrimSpace(cfg.Companion.Model)
	if model == "" && provider != nil {
		model = provider.GetDefaultModel()
	}

	svc, err := memory.NewService(memory.Config{
		DBPath:            cfg.DatabasePath(),
		RecentLimit:       cfg.Memory.RecentLimit,
		HighImportanceMax: cfg.Memory.HighImportanceMax,
		TopicalMax:        cfg.Memory.TopicalMax,
		NoveltyThreshold:  cfg.Memory.NoveltyThreshold,
		Reflection: memory.ReflectionOptions{
			MaxTokens:       cfg.Reflection.MaxTokens,
			Temperature:     cfg.Reflection.Temperature,
			Timeout:         time.Duration(cfg.Reflection.TimeoutSeconds) * time.Second,
			TranscriptTurns: cfg.Reflection.TranscriptTurns,
		},
		AsyncReflection: cfg.AsyncReflection(),
		WorkerPoll:      time.Duration(cfg.Memory.WorkerPollMS) * time.Millisecond,
		WorkerLease:     time.Duration(cfg.Memory.WorkerLeaseSeconds) * time.Second,
	}, newProviderCompleter(provider, model))
	if err != nil {
		return nil, fmt.Errorf("initialize memory service: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		provider:  provider,
		model:     model,
		memory:    svc,
		extractor: lexicon.Default,
		prompts:   NewPromptBuilder(cfg.DataPath()),
		turnLocks: memory.NewKeyedMutex(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Close() error {
	return e.memory.Close()
}

// DefaultUserID is the identity slot used when a request names none.
func (e *Engine) DefaultUserID() string {
	if id := strings.TrimSpace(e.cfg.Companion.UserID); id != "" {
		return id
	}
	return "local"
}

func (e *Engine) resolveUser(userID string) string {
	if id := strings.TrimSpace(userID); id != "" {
		return id
	}
	return e.DefaultUserID()
}

type enrichment struct {
	words    []string
	facts    []lexicon.Fact
	temporal temporal.Reference
	intent   intent.Result
	personal bool
	novel    bool
}

// Chat runs one full turn. Validation errors are returned before anything is
// written; storage errors abort the turn; model failures never do.
func (e *Engine) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return ChatResponse{}, ErrEmptyMessage
	}
	var requested PersonalityMode
	if strings.TrimSpace(req.PersonalityMode) != "" {
		mode, err := ParsePersonalityMode(req.PersonalityMode)
		if err != nil {
			return ChatResponse{}, err
		}
		requested = mode
	}

	userID := e.resolveUser(req.UserID)
	unlock := e.turnLocks.Lock(userID)
	defer unlock()

	started := e.now()
	store := e.memory.Store()

	// Received -> Enriched
	if err := store.TouchCompanion(ctx, userID); err != nil {
		return ChatResponse{}, fmt.Errorf("touch companion: %w", err)
	}
	history, err := store.ListRecentTurns(ctx, userID, e.cfg.Companion.TranscriptWindow)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("load transcript: %w", err)
	}
	knownFacts, err := store.ListFacts(ctx, userID, factLookupLimit)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("load facts: %w", err)
	}
	vocabBefore, err := store.CountVocabulary(ctx, userID)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("count vocabulary: %w", err)
	}
	stageBefore := stage.ForVocabulary(vocabBefore)

	en, err := e.enrich(ctx, userID, message, history, knownFacts, stageBefore, started)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("enrich message: %w", err)
	}

	// Enriched -> Persisted
	newWords, err := store.ObserveWords(ctx, userID, en.words, lexicon.Excerpt(message, excerptLength))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("store vocabulary: %w", err)
	}
	score := memory.ScoreImportance(message, memory.Signals{
		IsFirstMention:       len(newWords) > 0 || en.novel,
		ContainsPersonalInfo: en.personal,
		EmotionalContext:     en.intent.Type,
		UserInitiated:        true,
	})

	mode, modeChanged := e.resolvePersonality(requested, knownFacts)
	newFacts := lo.Map(en.facts, func(f lexicon.Fact, _ int) memory.Fact {
		return memory.Fact{UserID: userID, Text: f.Text(), Category: f.Category, CreatedAt: started}
	})
	if modeChanged {
		newFacts = append(newFacts, memory.Fact{
			UserID:    userID,
			Text:      personalityFactText(mode),
			Category:  memory.FactCategoryPersonalityMode,
			CreatedAt: started,
		})
	}
	if err := store.AppendFacts(ctx, newFacts); err != nil {
		return ChatResponse{}, fmt.Errorf("store facts: %w", err)
	}
	rec, err := store.AppendMemory(ctx, memory.MemoryRecord{
		UserID:     userID,
		Text:       message,
		Category:   memory.CategoryConversation,
		Importance: score.Importance,
		Tags:       score.Tags,
		CreatedAt:  started,
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("store memory: %w", err)
	}
	if _, err := store.AppendTurn(ctx, memory.Turn{UserID: userID, Sender: memory.SenderUser, Text: message, CreatedAt: started}); err != nil {
		return ChatResponse{}, fmt.Errorf("store user turn: %w", err)
	}

	// Persisted -> Replied
	vocabCount, err := store.CountVocabulary(ctx, userID)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("count vocabulary: %w", err)
	}
	st := stage.ForVocabulary(vocabCount)

	promptFacts, err := e.promptFacts(ctx, userID)
	if err != nil {
		return ChatResponse{}, err
	}
	recalled, err := e.memory.Recall(ctx, userID, message)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("recall memories: %w", err)
	}
	recalled = lo.Filter(recalled, func(m memory.MemoryRecord, _ int) bool { return m.ID != rec.ID })
	reflection, _, err := store.GetReflection(ctx, userID)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("load reflection: %w", err)
	}

	messages := e.prompts.BuildMessages(PromptInput{
		Stage:       st,
		Personality: mode,
		Intent:      en.intent,
		Temporal:    en.temporal,
		Facts:       promptFacts,
		Memories:    recalled,
		Reflection:  reflection.Text,
		History:     history,
		Message:     message,
		Now:         started,
	})
	reply, fellBack := e.generateReply(ctx, userID, messages)
	companionTurn, err := store.AppendTurn(ctx, memory.Turn{UserID: userID, Sender: memory.SenderCompanion, Text: reply})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("store companion turn: %w", err)
	}

	// Replied -> Reflected
	updated, queued := e.reflectAfterTurn(ctx, userID, companionTurn.ID)

	_ = store.AddMetric(ctx, "turn.completed", 1, map[string]string{"user_id": userID, "intent": string(en.intent.Type)})
	_ = store.AddMetric(ctx, "turn.new_words", float64(len(newWords)), map[string]string{"user_id": userID})
	if st != stageBefore {
		logger.InfoCF("companion", "Stage advanced", map[string]interface{}{
			"user_id": userID,
			"from":    stageBefore.String(),
			"to":      st.String(),
		})
	}
	logger.InfoCF("companion", "Turn completed", map[string]interface{}{
		"user_id":            userID,
		"intent":             string(en.intent.Type),
		"importance":         string(score.Importance),
		"new_words":          len(newWords),
		"facts":              len(en.facts),
		"reflection_updated": updated,
		"reflection_queued":  queued,
		"fallback":           fellBack,
		"duration_ms":        e.now().Sub(started).Milliseconds(),
	})

	return ChatResponse{
		Reply:             reply,
		Stage:             st,
		StageChanged:      st != stageBefore,
		VocabularyCount:   vocabCount,
		NewWordsThisTurn:  newWords,
		FactsLearned:      lo.Map(en.facts, func(f lexicon.Fact, _ int) string { return f.Text() }),
		ReflectionUpdated: updated,
		ReflectionQueued:  queued,
		Intent:            en.intent.Type,
		IntentConfidence:  en.intent.Confidence,
		Importance:        score.Importance,
		Tags:              score.Tags,
		Temporal:          en.temporal.Kind,
		PersonalityMode:   mode,
		FellBack:          fellBack,
	}, nil
}

// enrich runs the pure analyzers and the novelty lookup concurrently. Each
// goroutine owns one field of the result.
func (e *Engine) enrich(ctx context.Context, userID, message string, history []memory.Turn, facts []memory.Fact, st stage.Stage, now time.Time) (enrichment, error) {
	var out enrichment
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		out.words = lexicon.Vocabulary(message)
		return nil
	})
	g.Go(func() error {
		out.facts = e.extractor.ExtractFacts(message)
		return nil
	})
	g.Go(func() error {
		out.temporal = temporal.Read(message, now)
		return nil
	})
	g.Go(func() error {
		out.intent = intent.Classify(message, intent.Context{
			RecentMessages: userMessages(history),
			KnownFacts:     lo.Map(facts, func(f memory.Fact, _ int) string { return f.Text }),
			Stage:          st,
		})
		return nil
	})
	g.Go(func() error {
		out.personal = memory.ContainsPersonalInfo(message)
		return nil
	})
	g.Go(func() error {
		novel, err := e.memory.IsFirstMention(gctx, userID, message, 0)
		if err != nil {
			return err
		}
		out.novel = novel
		return nil
	})

	if err := g.Wait(); err != nil {
		return enrichment{}, err
	}
	if out.words == nil {
		out.words = []string{}
	}
	return out, nil
}

func userMessages(turns []memory.Turn) []string {
	return lo.FilterMap(turns, func(t memory.Turn, _ int) (string, bool) {
		return t.Text, t.Sender == memory.SenderUser
	})
}

// resolvePersonality picks the requested mode, else the last recorded one,
// else the configured default. changed reports whether a new fact is due.
func (e *Engine) resolvePersonality(requested PersonalityMode, facts []memory.Fact) (PersonalityMode, bool) {
	recorded, hasRecorded := PersonalityMode(""), false
	if f, ok := lo.Find(facts, func(f memory.Fact) bool { return f.Category == memory.FactCategoryPersonalityMode }); ok {
		recorded, hasRecorded = personalityFromFact(f.Text)
	}
	if requested != "" {
		return requested, !hasRecorded || requested != recorded
	}
	if hasRecorded {
		return recorded, false
	}
	if mode, err := ParsePersonalityMode(e.cfg.Companion.PersonalityMode); err == nil {
		return mode, false
	}
	return PersonalitySupportive, false
}

// promptFacts returns meaningful facts, newest assertion per text first.
func (e *Engine) promptFacts(ctx context.Context, userID string) ([]memory.Fact, error) {
	facts, err := e.memory.Store().ListFacts(ctx, userID, factLookupLimit)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	policy := e.memory.Policy()
	out := lo.Filter(facts, func(f memory.Fact, _ int) bool {
		return policy.MeaningfulFact(f) && f.Category != memory.FactCategoryPersonalityMode
	})
	out = lo.UniqBy(out, func(f memory.Fact) string { return strings.ToLower(f.Text) })
	if len(out) > factPromptLimit {
		out = out[:factPromptLimit]
	}
	return out, nil
}

// generateReply calls the completion service once. Any failure yields the
// fixed fallback reply.
func (e *Engine) generateReply(ctx context.Context, userID string, messages []providers.Message) (string, bool) {
	store := e.memory.Store()
	if e.provider == nil {
		_ = store.AddMetric(ctx, "reply.fallback", 1, map[string]string{"user_id": userID, "reason": "no_provider"})
		return FallbackReply, true
	}

	timeout := time.Duration(e.cfg.Companion.ReplyTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := e.provider.Chat(callCtx, messages, e.model, map[string]interface{}{
		"max_tokens":  e.cfg.Companion.ReplyMaxTokens,
		"temperature": e.cfg.Companion.ReplyTemperature,
	})
	if err != nil {
		logger.WarnCF("companion", "Reply generation failed, using fallback", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		_ = store.AddMetric(context.WithoutCancel(ctx), "reply.fallback", 1, map[string]string{"user_id": userID, "reason": "error"})
		return FallbackReply, true
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		_ = store.AddMetric(ctx, "reply.fallback", 1, map[string]string{"user_id": userID, "reason": "empty"})
		return FallbackReply, true
	}
	return reply, false
}

// reflectAfterTurn refreshes the reflection inline or queues it. It never
// fails the turn.
func (e *Engine) reflectAfterTurn(ctx context.Context, userID, turnID string) (updated, queued bool) {
	if e.cfg.AsyncReflection() {
		if err := e.memory.ScheduleReflection(ctx, userID, turnID); err != nil {
			logger.WarnCF("companion", "Failed to queue reflection", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
			return false, false
		}
		return false, true
	}

	if _, err := e.memory.Reflect(ctx, userID); err != nil {
		logger.WarnCF("companion", "Reflection refresh failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return false, false
	}
	return true, false
}
