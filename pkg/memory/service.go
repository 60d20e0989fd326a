package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

// Config configures the memory subsystem.
type Config struct {
	DBPath            string
	RecentLimit       int
	HighImportanceMax int
	TopicalMax        int
	NoveltyThreshold  float64
	Reflection        ReflectionOptions
	// AsyncReflection starts the background worker that drains queued
	// reflection jobs.
	AsyncReflection bool
	WorkerLease     time.Duration
	WorkerPoll      time.Duration
}

func (c Config) withDefaults() Config {
	if c.RecentLimit <= 0 {
		c.RecentLimit = 5
	}
	if c.HighImportanceMax <= 0 {
		c.HighImportanceMax = 5
	}
	if c.TopicalMax <= 0 {
		c.TopicalMax = 3
	}
	if c.WorkerLease <= 0 {
		c.WorkerLease = 60 * time.Second
	}
	if c.WorkerPoll <= 0 {
		c.WorkerPoll = 700 * time.Millisecond
	}
	return c
}

// Service owns the store, the reflection synthesizer and the async worker.
type Service struct {
	cfg         Config
	store       Store
	policy      Policy
	novelty     *NoveltyDetector
	synthesizer *Synthesizer

	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewService opens the SQLite store at cfg.DBPath.
func NewService(cfg Config, completer Completer) (*Service, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, fmt.Errorf("memory database path is required")
	}
	store, err := NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return NewServiceWithStore(cfg, store, completer), nil
}

// NewServiceWithStore wires a service around an existing store.
func NewServiceWithStore(cfg Config, store Store, completer Completer) *Service {
	cfg = cfg.withDefaults()
	policy := NewDefaultPolicy()
	svc := &Service{
		cfg:         cfg,
		store:       store,
		policy:      policy,
		novelty:     NewNoveltyDetector(NewChargramEmbedder(), cfg.NoveltyThreshold),
		synthesizer: NewSynthesizer(store, completer, policy, NewKeyedMutex(), cfg.Reflection),
		stopCh:      make(chan struct{}),
	}
	if cfg.AsyncReflection {
		svc.wg.Add(1)
		go svc.runWorker()
	}
	return svc
}

func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

func (s *Service) Store() Store   { return s.store }
func (s *Service) Policy() Policy { return s.policy }

// Reflect refreshes the reflection inline.
func (s *Service) Reflect(ctx context.Context, userID string) (ReflectionOutcome, error) {
	return s.synthesizer.Refresh(ctx, userID)
}

// HoldReflection blocks reflection refreshes for userID until the returned
// func is called. An in-flight refresh finishes first.
func (s *Service) HoldReflection(userID string) func() {
	return s.synthesizer.locks.Lock(userID)
}

// ScheduleReflection queues a refresh for the worker. Repeated calls for the
// same turn collapse into one job.
func (s *Service) ScheduleReflection(ctx context.Context, userID, turnID string) error {
	now := time.Now().UnixMilli()
	return s.store.EnqueueJob(ctx, Job{
		ID:          maintenanceJobID(JobReflect, userID, turnID),
		JobType:     JobReflect,
		UserID:      userID,
		Status:      JobPending,
		Priority:    50,
		Payload:     map[string]string{"turn_id": turnID},
		RunAfterMS:  now,
		CreatedAtMS: now,
		UpdatedAtMS: now,
	})
}

// IsFirstMention compares text against the user's recent memories.
func (s *Service) IsFirstMention(ctx context.Context, userID, text string, newWords int) (bool, error) {
	if newWords > 0 {
		return true, nil
	}
	prior, err := s.store.ListRecentMemories(ctx, userID, s.cfg.RecentLimit*4)
	if err != nil {
		return false, err
	}
	return s.novelty.IsFirstMention(text, newWords, prior), nil
}

// Recall gathers the memories worth surfacing for a prompt: the most recent
// ones, every recent high-importance one, and topical matches for query.
func (s *Service) Recall(ctx context.Context, userID, query string) ([]MemoryRecord, error) {
	recent, err := s.store.ListRecentMemories(ctx, userID, s.cfg.RecentLimit)
	if err != nil {
		return nil, err
	}
	important, err := s.store.ListMemoriesByImportance(ctx, userID, ImportanceHigh, s.cfg.HighImportanceMax)
	if err != nil {
		return nil, err
	}
	topical, err := s.store.SearchMemories(ctx, userID, query, s.cfg.TopicalMax)
	if err != nil {
		// FTS syntax problems should not cost the turn its context.
		logger.WarnCF("memory", "Topical recall failed", map[string]interface{}{"error": err.Error(), "user_id": userID})
		topical = nil
	}
	limit := s.cfg.RecentLimit + s.cfg.HighImportanceMax + s.cfg.TopicalMax
	out := s.policy.Surface(recent, important, topical, limit)
	_ = s.store.AddMetric(ctx, "memory.recall.records", float64(len(out)), map[string]string{"user_id": userID})
	return out, nil
}

func (s *Service) runWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.WorkerPoll)
	defer ticker.Stop()

	// Drain anything left over from a previous process first.
	s.processPendingJobs()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.processPendingJobs()
		}
	}
}

func (s *Service) processPendingJobs() {
	const maxBatch = 32
	ctx := context.Background()
	_ = s.store.RequeueExpiredJobs(ctx, time.Now().UnixMilli())

	leaseForMS := s.cfg.WorkerLease.Milliseconds()
	for i := 0; i < maxBatch; i++ {
		select {
		case <-s.stopCh:
			return
		default:
		}
		job, ok, err := s.store.ClaimNextJob(ctx, time.Now().UnixMilli(), leaseForMS)
		if err != nil || !ok {
			return
		}

		if err := s.handleJob(ctx, job); err != nil {
			logger.WarnCF("memory", "Background job failed", map[string]interface{}{
				"job_id":  job.ID,
				"type":    job.JobType,
				"user_id": job.UserID,
				"error":   err.Error(),
			})
			_ = s.store.FailJob(ctx, job.ID, err.Error())
			_ = s.store.AddMetric(ctx, "memory.job.failed", 1, map[string]string{"type": job.JobType})
			continue
		}
		_ = s.store.CompleteJob(ctx, job.ID)
		_ = s.store.AddMetric(ctx, "memory.job.completed", 1, map[string]string{"type": job.JobType})
	}
}

func (s *Service) handleJob(ctx context.Context, job Job) error {
	switch job.JobType {
	case JobReflect:
		if strings.TrimSpace(job.UserID) == "" {
			return fmt.Errorf("invalid reflect job payload")
		}
		_, err := s.synthesizer.Refresh(ctx, job.UserID)
		return err
	default:
		return fmt.Errorf("unknown memory job type: %s", job.JobType)
	}
}

func maintenanceJobID(jobType, userID, turnID string) string {
	h := sha1.Sum([]byte(jobType + "|" + userID + "|" + turnID))
	return "job-" + hex.EncodeToString(h[:8])
}
