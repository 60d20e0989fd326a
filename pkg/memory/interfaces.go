package memory

import "context"

// Store provides durable persistence for all companion state.
type Store interface {
	Close() error

	TouchCompanion(ctx context.Context, userID string) error
	ListActiveCompanions(ctx context.Context, sinceMS int64) ([]Companion, error)

	ObserveWords(ctx context.Context, userID string, words []string, excerpt string) (newWords []string, err error)
	CountVocabulary(ctx context.Context, userID string) (int, error)
	ListVocabulary(ctx context.Context, userID string, limit int) ([]VocabularyEntry, error)

	AppendFacts(ctx context.Context, facts []Fact) error
	ListFacts(ctx context.Context, userID string, limit int) ([]Fact, error)
	CountFacts(ctx context.Context, userID string) (int, error)

	AppendMemory(ctx context.Context, rec MemoryRecord) (MemoryRecord, error)
	ListMemories(ctx context.Context, userID string, limit int) ([]MemoryRecord, error)
	ListRecentMemories(ctx context.Context, userID string, limit int) ([]MemoryRecord, error)
	ListMemoriesByImportance(ctx context.Context, userID string, importance Importance, limit int) ([]MemoryRecord, error)
	SearchMemories(ctx context.Context, userID, query string, limit int) ([]MemoryRecord, error)
	CountMemories(ctx context.Context, userID string) (int, error)
	GetReflection(ctx context.Context, userID string) (MemoryRecord, bool, error)
	UpsertReflection(ctx context.Context, userID, text string) (MemoryRecord, error)

	AppendTurn(ctx context.Context, turn Turn) (Turn, error)
	ListRecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error)

	ClearUser(ctx context.Context, userID string, opts ClearOptions) error

	EnqueueJob(ctx context.Context, job Job) error
	ClaimNextJob(ctx context.Context, nowMS, leaseForMS int64) (Job, bool, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, errMsg string) error
	RequeueExpiredJobs(ctx context.Context, nowMS int64) error

	AddMetric(ctx context.Context, metric string, value float64, labels map[string]string) error
}

// Completer is the slice of the completion service the synthesizer needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int, temperature float64) (string, error)
}

// Policy controls which stored rows are worth surfacing.
type Policy interface {
	MeaningfulFact(f Fact) bool
	Surface(recent, important, topical []MemoryRecord, limit int) []MemoryRecord
}
