package companion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/memory"
	"golang.org/x/sync/errgroup"
)

const (
	digestConcurrency = 2
	digestLookback    = 7 * 24 * time.Hour
)

// DigestTarget is what the digest scheduler refreshes.
type DigestTarget interface {
	ActiveUsers(ctx context.Context, since time.Time) ([]string, error)
	RefreshReflection(ctx context.Context, userID string) (memory.ReflectionOutcome, error)
}

type DigestResult struct {
	Users     int
	Updated   int
	Unchanged int
	Failed    int
}

// Digest periodically refreshes the reflection of every user active since
// the previous run, on a cron schedule.
type Digest struct {
	target  DigestTarget
	expr    string
	lastRun time.Time
	now     func() time.Time
}

func NewDigest(target DigestTarget, expr string) (*Digest, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid digest cron expression %q", expr)
	}
	now := time.Now
	return &Digest{target: target, expr: expr, now: now, lastRun: now().Add(-digestLookback)}, nil
}

// Next returns the first tick strictly after ref.
func (d *Digest) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(d.expr, ref, false)
}

// Run blocks until ctx is cancelled.
func (d *Digest) Run(ctx context.Context) error {
	logger.InfoCF("digest", "Reflection digest scheduled", map[string]interface{}{"cron": d.expr})
	for {
		next, err := d.Next(d.now())
		if err != nil {
			return fmt.Errorf("next digest tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if _, err := d.RunOnce(ctx); err != nil {
			logger.ErrorCF("digest", "Digest run failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Start runs the scheduler in the background. The returned channel closes
// once Run has returned, after any digest pass in flight.
func (d *Digest) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.Run(ctx); err != nil {
			logger.ErrorCF("digest", "Digest scheduler stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	return done
}

// RunOnce refreshes every user active since the previous run. Individual
// synthesis failures are counted, not returned.
func (d *Digest) RunOnce(ctx context.Context) (DigestResult, error) {
	started := d.now()
	users, err := d.target.ActiveUsers(ctx, d.lastRun)
	if err != nil {
		return DigestResult{}, err
	}

	outcomes := make([]error, len(users))
	written := make([]bool, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(digestConcurrency)
	for i, userID := range users {
		g.Go(func() error {
			out, err := d.target.RefreshReflection(gctx, userID)
			outcomes[i] = err
			written[i] = out.Written
			return nil
		})
	}
	_ = g.Wait()

	res := DigestResult{Users: len(users)}
	for i, err := range outcomes {
		switch {
		case err == nil && written[i]:
			res.Updated++
		case err == nil, errors.Is(err, memory.ErrNoReflectionMaterial):
			res.Unchanged++
		default:
			res.Failed++
			logger.WarnCF("digest", "Reflection refresh failed", map[string]interface{}{
				"user_id": users[i],
				"error":   err.Error(),
			})
		}
	}
	d.lastRun = started

	logger.InfoCF("digest", "Digest run complete", map[string]interface{}{
		"users":     res.Users,
		"updated":   res.Updated,
		"unchanged": res.Unchanged,
		"failed":    res.Failed,
	})
	return res, nil
}
