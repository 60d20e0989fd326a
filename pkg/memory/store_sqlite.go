package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical persistent companion storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the companion database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create companion db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS companions (
			user_id TEXT PRIMARY KEY,
			created_at_ms INTEGER NOT NULL,
			last_active_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS vocabulary (
			user_id TEXT NOT NULL,
			word TEXT NOT NULL,
			frequency INTEGER NOT NULL DEFAULT 1,
			excerpt TEXT NOT NULL DEFAULT '',
			first_seen_at_ms INTEGER NOT NULL,
			last_seen_at_ms INTEGER NOT NULL,
			PRIMARY KEY(user_id, word)
		);`,
		`CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS facts_user_idx ON facts(user_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			category TEXT NOT NULL,
			importance TEXT NOT NULL DEFAULT 'low',
			tags_json TEXT NOT NULL DEFAULT '[]',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS memories_user_idx ON memories(user_id, created_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS memories_importance_idx ON memories(user_id, importance, created_at_ms DESC);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS memories_reflection_singleton ON memories(user_id) WHERE category = 'reflection';`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS turns_user_seq_idx ON turns(user_id, seq);`,
		`CREATE TABLE IF NOT EXISTS companion_jobs (
			id TEXT PRIMARY KEY,
			job_type TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 100,
			payload_json TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			run_after_ms INTEGER NOT NULL,
			lease_until_ms INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			completed_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS companion_jobs_claim_idx ON companion_jobs(status, run_after_ms, lease_until_ms, priority, created_at_ms);`,
		`CREATE TABLE IF NOT EXISTS companion_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			labels_json TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS companion_metrics_metric_idx ON companion_metrics(metric, created_at_ms DESC);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(memory_id UNINDEXED, text, tokenize='unicode61 remove_diacritics 2');`,
		`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
			INSERT INTO memories_fts(rowid, memory_id, text) VALUES (new.rowid, new.id, new.text);
		END;`,
		// memories_fts keeps its own copy of the text, so stale rows are removed
		// by rowid. Older databases carried 'delete'-command triggers that only
		// work on external-content tables; they are replaced here.
		`DROP TRIGGER IF EXISTS memories_au;`,
		`DROP TRIGGER IF EXISTS memories_ad;`,
		`CREATE TRIGGER memories_au AFTER UPDATE OF text ON memories BEGIN
			DELETE FROM memories_fts WHERE rowid = old.rowid;
			INSERT INTO memories_fts(rowid, memory_id, text) VALUES(new.rowid, new.id, new.text);
		END;`,
		`CREATE TRIGGER memories_ad AFTER DELETE ON memories BEGIN
			DELETE FROM memories_fts WHERE rowid = old.rowid;
		END;`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMap(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeTags(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserRequired
	}
	return nil
}

func (s *SQLiteStore) TouchCompanion(ctx context.Context, userID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	now := nowMS()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO companions(user_id, created_at_ms, last_active_at_ms)
VALUES(?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET last_active_at_ms = excluded.last_active_at_ms`, userID, now, now)
	if err != nil {
		return fmt.Errorf("touch companion: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListActiveCompanions(ctx context.Context, sinceMS int64) ([]Companion, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, created_at_ms, last_active_at_ms
FROM companions
WHERE last_active_at_ms >= ?
ORDER BY last_active_at_ms DESC`, sinceMS)
	if err != nil {
		return nil, fmt.Errorf("list active companions: %w", err)
	}
	defer rows.Close()

	out := []Companion{}
	for rows.Next() {
		var c Companion
		var createdMS, activeMS int64
		if err := rows.Scan(&c.UserID, &createdMS, &activeMS); err != nil {
			return nil, fmt.Errorf("scan companion: %w", err)
		}
		c.CreatedAt = time.UnixMilli(createdMS)
		c.LastActiveAt = time.UnixMilli(activeMS)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companions: %w", err)
	}
	return out, nil
}

// ObserveWords records one sighting of each word and reports which words
// were stored for the first time. Duplicates in words count once.
func (s *SQLiteStore) ObserveWords(ctx context.Context, userID string, words []string, excerpt string) ([]string, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return []string{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("observe words begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMS()
	seen := make(map[string]struct{}, len(words))
	newWords := []string{}
	for _, word := range words {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" {
			continue
		}
		if _, ok := seen[word]; ok {
			continue
		}
		seen[word] = struct{}{}

		var freq int
		if err := tx.QueryRowContext(ctx, `
INSERT INTO vocabulary(user_id, word, frequency, excerpt, first_seen_at_ms, last_seen_at_ms)
VALUES(?, ?, 1, ?, ?, ?)
ON CONFLICT(user_id, word) DO UPDATE SET
	frequency = vocabulary.frequency + 1,
	last_seen_at_ms = excluded.last_seen_at_ms
RETURNING frequency`, userID, word, excerpt, now, now).Scan(&freq); err != nil {
			return nil, fmt.Errorf("observe word %q: %w", word, err)
		}
		if freq == 1 {
			newWords = append(newWords, word)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("observe words commit: %w", err)
	}
	return newWords, nil
}

func (s *SQLiteStore) CountVocabulary(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vocabulary WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vocabulary: %w", err)
	}
	return n, nil
}

// ListVocabulary returns the most frequent words first.
func (s *SQLiteStore) ListVocabulary(ctx context.Context, userID string, limit int) ([]VocabularyEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, word, frequency, excerpt, first_seen_at_ms, last_seen_at_ms
FROM vocabulary
WHERE user_id = ?
ORDER BY frequency DESC, first_seen_at_ms ASC, word ASC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list vocabulary: %w", err)
	}
	defer rows.Close()

	out := []VocabularyEntry{}
	for rows.Next() {
		var v VocabularyEntry
		var firstMS, lastMS int64
		if err := rows.Scan(&v.UserID, &v.Word, &v.Frequency, &v.Excerpt, &firstMS, &lastMS); err != nil {
			return nil, fmt.Errorf("scan vocabulary: %w", err)
		}
		v.FirstSeenAt = time.UnixMilli(firstMS)
		v.LastSeenAt = time.UnixMilli(lastMS)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vocabulary: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) AppendFacts(ctx context.Context, facts []Fact) error {
	if len(facts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append facts begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, f := range facts {
		if err := requireUser(f.UserID); err != nil {
			return err
		}
		if strings.TrimSpace(f.Text) == "" {
			return fmt.Errorf("append facts: empty text")
		}
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO facts(id, user_id, text, category, created_at_ms)
VALUES(?, ?, ?, ?, ?)`, f.ID, f.UserID, f.Text, f.Category, f.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("append fact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append facts commit: %w", err)
	}
	return nil
}

// ListFacts returns facts newest first.
func (s *SQLiteStore) ListFacts(ctx context.Context, userID string, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, text, category, created_at_ms
FROM facts
WHERE user_id = ?
ORDER BY created_at_ms DESC, rowid DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	out := []Fact{}
	for rows.Next() {
		var f Fact
		var createdMS int64
		if err := rows.Scan(&f.ID, &f.UserID, &f.Text, &f.Category, &createdMS); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountFacts(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return n, nil
}

// AppendMemory inserts a non-reflection record. Reflections go through
// UpsertReflection so the singleton index is never tripped.
func (s *SQLiteStore) AppendMemory(ctx context.Context, rec MemoryRecord) (MemoryRecord, error) {
	if err := requireUser(rec.UserID); err != nil {
		return MemoryRecord{}, err
	}
	if rec.IsReflection() {
		return MemoryRecord{}, fmt.Errorf("append memory: reflection records must use UpsertReflection")
	}
	if strings.TrimSpace(rec.Text) == "" {
		return MemoryRecord{}, fmt.Errorf("append memory: empty text")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Category == "" {
		rec.Category = CategoryConversation
	}
	if rec.Importance == "" {
		rec.Importance = ImportanceLow
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = rec.CreatedAt

	_, err := s.db.ExecContext(ctx, `
INSERT INTO memories(id, user_id, text, category, importance, tags_json, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.UserID,
		rec.Text,
		rec.Category,
		string(rec.Importance),
		encodeTags(rec.Tags),
		rec.CreatedAt.UnixMilli(),
		rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("append memory: %w", err)
	}
	return rec, nil
}

const memoryColumns = `m.id, m.user_id, m.text, m.category, m.importance, m.tags_json, m.created_at_ms, m.updated_at_ms`

// ListMemories returns every record for the user, reflection included,
// newest first.
func (s *SQLiteStore) ListMemories(ctx context.Context, userID string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+memoryColumns+`
FROM memories m
WHERE m.user_id = ?
ORDER BY m.created_at_ms DESC, m.rowid DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemoryRecords(rows)
}

// ListRecentMemories skips the reflection record.
func (s *SQLiteStore) ListRecentMemories(ctx context.Context, userID string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+memoryColumns+`
FROM memories m
WHERE m.user_id = ? AND m.category != ?
ORDER BY m.created_at_ms DESC, m.rowid DESC
LIMIT ?`, userID, CategoryReflection, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent memories: %w", err)
	}
	defer rows.Close()
	return scanMemoryRecords(rows)
}

func (s *SQLiteStore) ListMemoriesByImportance(ctx context.Context, userID string, importance Importance, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+memoryColumns+`
FROM memories m
WHERE m.user_id = ? AND m.importance = ? AND m.category != ?
ORDER BY m.created_at_ms DESC, m.rowid DESC
LIMIT ?`, userID, string(importance), CategoryReflection, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories by importance: %w", err)
	}
	defer rows.Close()
	return scanMemoryRecords(rows)
}

// SearchMemories ranks non-reflection records against query with bm25.
// Query is free text; it is reduced to OR-ed quoted terms first.
func (s *SQLiteStore) SearchMemories(ctx context.Context, userID, query string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 3
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+memoryColumns+`
FROM memories_fts f
JOIN memories m ON m.id = f.memory_id
WHERE memories_fts MATCH ?
AND m.user_id = ?
AND m.category != ?
ORDER BY bm25(memories_fts), m.created_at_ms DESC
LIMIT ?`, match, userID, CategoryReflection, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()
	return scanMemoryRecords(rows)
}

func ftsQuery(query string) string {
	terms := tokenize(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	seen := map[string]struct{}{}
	for _, t := range terms {
		if len(t) < 3 {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func (s *SQLiteStore) CountMemories(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) GetReflection(ctx context.Context, userID string) (MemoryRecord, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+memoryColumns+`
FROM memories m
WHERE m.user_id = ? AND m.category = ?
LIMIT 1`, userID, CategoryReflection)
	if err != nil {
		return MemoryRecord{}, false, fmt.Errorf("get reflection: %w", err)
	}
	defer rows.Close()
	recs, err := scanMemoryRecords(rows)
	if err != nil {
		return MemoryRecord{}, false, err
	}
	if len(recs) == 0 {
		return MemoryRecord{}, false, nil
	}
	return recs[0], true, nil
}

// UpsertReflection creates the user's reflection or overwrites its text in
// place. The partial unique index guarantees a single row per user.
func (s *SQLiteStore) UpsertReflection(ctx context.Context, userID, text string) (MemoryRecord, error) {
	if err := requireUser(userID); err != nil {
		return MemoryRecord{}, err
	}
	if strings.TrimSpace(text) == "" {
		return MemoryRecord{}, ErrEmptyReflection
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("upsert reflection begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMS()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO memories(id, user_id, text, category, importance, tags_json, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, '[]', ?, ?)
ON CONFLICT(user_id) WHERE category = 'reflection' DO UPDATE SET
	text = excluded.text,
	updated_at_ms = excluded.updated_at_ms`,
		uuid.NewString(), userID, text, CategoryReflection, string(ImportanceHigh), now, now); err != nil {
		return MemoryRecord{}, fmt.Errorf("upsert reflection: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
SELECT `+memoryColumns+`
FROM memories m
WHERE m.user_id = ? AND m.category = ?`, userID, CategoryReflection)
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("read upserted reflection: %w", err)
	}
	recs, err := scanMemoryRecords(rows)
	rows.Close()
	if err != nil {
		return MemoryRecord{}, err
	}
	if len(recs) != 1 {
		return MemoryRecord{}, fmt.Errorf("read upserted reflection: expected 1 row, got %d", len(recs))
	}

	if err := tx.Commit(); err != nil {
		return MemoryRecord{}, fmt.Errorf("upsert reflection commit: %w", err)
	}
	return recs[0], nil
}

func scanMemoryRecords(rows *sql.Rows) ([]MemoryRecord, error) {
	out := []MemoryRecord{}
	for rows.Next() {
		var rec MemoryRecord
		var importance, tagsRaw string
		var createdMS, updatedMS int64
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Text, &rec.Category, &importance, &tagsRaw, &createdMS, &updatedMS); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		rec.Importance = Importance(importance)
		rec.Tags = decodeTags(tagsRaw)
		rec.CreatedAt = time.UnixMilli(createdMS)
		rec.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return out, nil
}

// AppendTurn assigns the next per-user sequence number inside the insert
// transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn Turn) (Turn, error) {
	if err := requireUser(turn.UserID); err != nil {
		return Turn{}, err
	}
	if turn.Sender != SenderUser && turn.Sender != SenderCompanion {
		return Turn{}, fmt.Errorf("append turn: invalid sender %q", turn.Sender)
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Turn{}, fmt.Errorf("append turn begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE user_id = ?`, turn.UserID).Scan(&turn.Seq); err != nil {
		return Turn{}, fmt.Errorf("append turn next seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO turns(id, user_id, seq, sender, text, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?)`, turn.ID, turn.UserID, turn.Seq, string(turn.Sender), turn.Text, turn.CreatedAt.UnixMilli()); err != nil {
		return Turn{}, fmt.Errorf("append turn insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Turn{}, fmt.Errorf("append turn commit: %w", err)
	}
	return turn, nil
}

// ListRecentTurns returns the last limit turns in chronological order.
func (s *SQLiteStore) ListRecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, seq, sender, text, created_at_ms
FROM turns
WHERE user_id = ?
ORDER BY seq DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer rows.Close()

	out := make([]Turn, 0, limit)
	for rows.Next() {
		var t Turn
		var sender string
		var createdMS int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Seq, &sender, &t.Text, &createdMS); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Sender = Sender(sender)
		t.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ClearUser removes the user's facts, memories (reflection included),
// turns and pending jobs. Vocabulary is removed only when asked.
func (s *SQLiteStore) ClearUser(ctx context.Context, userID string, opts ClearOptions) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear user begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`DELETE FROM facts WHERE user_id = ?`,
		`DELETE FROM memories WHERE user_id = ?`,
		`DELETE FROM turns WHERE user_id = ?`,
		`DELETE FROM companion_jobs WHERE user_id = ? AND status IN ('pending', 'running')`,
	}
	if opts.Vocabulary {
		stmts = append(stmts, `DELETE FROM vocabulary WHERE user_id = ?`)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
			return fmt.Errorf("clear user failed on %q: %w", trimSQL(stmt), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear user commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EnqueueJob(ctx context.Context, job Job) error {
	now := nowMS()
	if job.ID == "" {
		job.ID = "job-" + uuid.NewString()
	}
	if job.Status == "" {
		job.Status = JobPending
	}
	if job.Priority == 0 {
		job.Priority = 100
	}
	if job.RunAfterMS == 0 {
		job.RunAfterMS = now
	}
	if job.CreatedAtMS == 0 {
		job.CreatedAtMS = now
	}
	if job.UpdatedAtMS == 0 {
		job.UpdatedAtMS = now
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO companion_jobs(id, job_type, user_id, status, priority, payload_json, error, run_after_ms, lease_until_ms, created_at_ms, updated_at_ms, completed_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	priority = excluded.priority,
	payload_json = excluded.payload_json,
	error = excluded.error,
	run_after_ms = excluded.run_after_ms,
	lease_until_ms = excluded.lease_until_ms,
	updated_at_ms = excluded.updated_at_ms,
	completed_at_ms = excluded.completed_at_ms`,
		job.ID,
		job.JobType,
		job.UserID,
		job.Status,
		job.Priority,
		encodeMap(job.Payload),
		job.Error,
		job.RunAfterMS,
		job.LeaseUntilMS,
		job.CreatedAtMS,
		job.UpdatedAtMS,
		job.CompletedAtMS,
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClaimNextJob(ctx context.Context, nowMS, leaseForMS int64) (Job, bool, error) {
	if leaseForMS <= 0 {
		leaseForMS = 60_000
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, false, fmt.Errorf("claim next job begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT id, job_type, user_id, status, priority, payload_json, error, run_after_ms, lease_until_ms, created_at_ms, updated_at_ms, completed_at_ms
FROM companion_jobs
WHERE run_after_ms <= ?
AND (status = ? OR (status = ? AND lease_until_ms <= ?))
ORDER BY priority ASC, created_at_ms ASC
LIMIT 1`, nowMS, JobPending, JobRunning, nowMS)

	var job Job
	var payloadRaw string
	if err := row.Scan(&job.ID, &job.JobType, &job.UserID, &job.Status, &job.Priority, &payloadRaw, &job.Error, &job.RunAfterMS, &job.LeaseUntilMS, &job.CreatedAtMS, &job.UpdatedAtMS, &job.CompletedAtMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, false, nil
		}
		return Job{}, false, fmt.Errorf("claim next job select: %w", err)
	}

	leaseUntil := nowMS + leaseForMS
	res, err := tx.ExecContext(ctx, `
UPDATE companion_jobs
SET status = ?, lease_until_ms = ?, updated_at_ms = ?, error = ''
WHERE id = ? AND (status = ? OR (status = ? AND lease_until_ms <= ?))`, JobRunning, leaseUntil, nowMS, job.ID, JobPending, JobRunning, nowMS)
	if err != nil {
		return Job{}, false, fmt.Errorf("claim next job update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return Job{}, false, nil
	}

	if err := tx.Commit(); err != nil {
		return Job{}, false, fmt.Errorf("claim next job commit: %w", err)
	}

	job.Status = JobRunning
	job.LeaseUntilMS = leaseUntil
	job.UpdatedAtMS = nowMS
	job.Payload = decodeMap(payloadRaw)
	return job, true, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string) error {
	now := nowMS()
	_, err := s.db.ExecContext(ctx, `
UPDATE companion_jobs
SET status = ?, completed_at_ms = ?, updated_at_ms = ?, lease_until_ms = 0
WHERE id = ?`, JobCompleted, now, now, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, id, errMsg string) error {
	now := nowMS()
	_, err := s.db.ExecContext(ctx, `
UPDATE companion_jobs
SET status = ?, error = ?, updated_at_ms = ?, lease_until_ms = 0
WHERE id = ?`, JobFailed, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RequeueExpiredJobs(ctx context.Context, nowMS int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE companion_jobs
SET status = ?, updated_at_ms = ?, error = ''
WHERE status = ? AND lease_until_ms > 0 AND lease_until_ms <= ?`, JobPending, nowMS, JobRunning, nowMS)
	if err != nil {
		return fmt.Errorf("requeue expired jobs: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AddMetric(ctx context.Context, metric string, value float64, labels map[string]string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO companion_metrics(metric, value, labels_json, created_at_ms)
VALUES(?, ?, ?, ?)`, metric, value, encodeMap(labels), nowMS())
	if err != nil {
		return fmt.Errorf("add metric: %w", err)
	}
	return nil
}

// SumMetric totals a counter since sinceMS. Used by status output and tests.
func (s *SQLiteStore) SumMetric(ctx context.Context, metric string, sinceMS int64) (float64, error) {
	var total float64
	if err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(value), 0) FROM companion_metrics
WHERE metric = ? AND created_at_ms >= ?`, metric, sinceMS).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum metric: %w", err)
	}
	return total, nil
}

// CountJobs reports queue depth for a status.
func (s *SQLiteStore) CountJobs(ctx context.Context, status string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM companion_jobs WHERE status = ?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}
