package memory

import "time"

// Reserved memory categories.
const (
	CategoryConversation = "conversation"
	CategoryReflection   = "reflection"
	CategoryIdentity     = "identity"
)

// Fact categories written outside the lexical extractor.
const (
	FactCategoryPersonalityMode = "personality_mode"
	FactCategoryVoicePreference = "voice_preference"
	FactCategoryEmotionalState  = "emotional_state"
)

type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

func (i Importance) Rank() int {
	switch i {
	case ImportanceHigh:
		return 2
	case ImportanceMedium:
		return 1
	default:
		return 0
	}
}

type Sender string

const (
	SenderUser      Sender = "user"
	SenderCompanion Sender = "companion"
)

// VocabularyEntry is one learned word. Word is unique per user and
// Frequency never decreases.
type VocabularyEntry struct {
	UserID      string    `json:"user_id"`
	Word        string    `json:"word"`
	Frequency   int       `json:"frequency"`
	Excerpt     string    `json:"excerpt,omitempty"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Fact is an append-only assertion about the user.
type Fact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryRecord is a stored note. At most one record per user carries
// CategoryReflection.
type MemoryRecord struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Text       string     `json:"text"`
	Category   string     `json:"category"`
	Importance Importance `json:"importance"`
	Tags       []string   `json:"tags"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (m MemoryRecord) IsReflection() bool { return m.Category == CategoryReflection }

// Turn is one transcript line. Seq is assigned by the store.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Seq       int64     `json:"seq"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Companion is the per-user row; stage is always derived from vocabulary.
type Companion struct {
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

type Job struct {
	ID            string
	JobType       string
	UserID        string
	Status        string
	Priority      int
	Payload       map[string]string
	Error         string
	RunAfterMS    int64
	LeaseUntilMS  int64
	CreatedAtMS   int64
	UpdatedAtMS   int64
	CompletedAtMS int64
}

const (
	JobReflect = "reflect"

	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// ClearOptions scopes ClearUser.
type ClearOptions struct {
	Vocabulary bool
}
