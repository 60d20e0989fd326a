package companion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChatter struct {
	mu   sync.Mutex
	seen []ChatRequest
	err  error
}

func (s *stubChatter) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	s.mu.Lock()
	s.seen = append(s.seen, req)
	s.mu.Unlock()
	if s.err != nil {
		return ChatResponse{}, s.err
	}
	return ChatResponse{Reply: "echo: " + req.Message}, nil
}

func runGateway(t *testing.T, chatter Chatter) (*bus.MessageBus, context.CancelFunc) {
	t.Helper()
	mb := bus.NewMessageBus()
	gw := NewGateway(mb, chatter)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = gw.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		mb.Close()
	})
	return mb, cancel
}

func TestGateway_RoutesReplyToChannel(t *testing.T) {
	chatter := &stubChatter{}
	mb, _ := runGateway(t, chatter)

	require.True(t, mb.PublishInbound(bus.InboundMessage{
		Channel:  "discord",
		SenderID: "42",
		ChatID:   "chan-1",
		Content:  "hi there",
		UserID:   "discord:42",
		Metadata: map[string]string{"message_id": "m-1"},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, ok := mb.SubscribeOutbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "discord", out.Channel)
	assert.Equal(t, "chan-1", out.ChatID)
	assert.Equal(t, "echo: hi there", out.Content)
	assert.Equal(t, "m-1", out.ReplyTo)

	chatter.mu.Lock()
	defer chatter.mu.Unlock()
	require.Len(t, chatter.seen, 1)
	assert.Equal(t, "discord:42", chatter.seen[0].UserID)
}

func TestGateway_ErrorsBecomeFriendlyReplies(t *testing.T) {
	chatter := &stubChatter{err: errors.New("disk full")}
	mb, _ := runGateway(t, chatter)

	require.True(t, mb.PublishInbound(bus.InboundMessage{Channel: "discord", ChatID: "c", Content: "hello", UserID: "discord:1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, ok := mb.SubscribeOutbound(ctx)
	require.True(t, ok)
	assert.Equal(t, FallbackReply, out.Content)
}

func TestGateway_DrivesEngine(t *testing.T) {
	e := newTestEngine(t, &fakeProvider{replies: []string{"Nice to meet you, Sam."}})
	mb, _ := runGateway(t, e)

	require.True(t, mb.PublishInbound(bus.InboundMessage{Channel: "discord", ChatID: "c", Content: "My name is Sam", UserID: "discord:7"}))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	out, ok := mb.SubscribeOutbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "Nice to meet you, Sam.", out.Content)

	facts, err := e.Facts(context.Background(), "discord:7")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Name: Sam", facts[0].Text)
}

type fakeDigestTarget struct {
	mu       sync.Mutex
	users    []string
	since    time.Time
	outcomes map[string]error
	written  map[string]bool
	calls    []string
}

func (f *fakeDigestTarget) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	f.since = since
	return f.users, nil
}

func (f *fakeDigestTarget) RefreshReflection(ctx context.Context, userID string) (memory.ReflectionOutcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userID)
	f.mu.Unlock()
	return memory.ReflectionOutcome{Written: f.written[userID]}, f.outcomes[userID]
}

func TestDigest_RejectsBadCron(t *testing.T) {
	_, err := NewDigest(&fakeDigestTarget{}, "every sunday")
	require.Error(t, err)
}

func TestDigest_NextTick(t *testing.T) {
	d, err := NewDigest(&fakeDigestTarget{}, "0 3 * * 0")
	require.NoError(t, err)

	// Thursday 2026-10-15 -> Sunday 2026-10-18 03:00.
	ref := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	next, err := d.Next(ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC), next.UTC())
}

func TestDigest_RunOnceCountsOutcomes(t *testing.T) {
	target := &fakeDigestTarget{
		users:    []string{"a", "b", "c", "d"},
		written:  map[string]bool{"a": true},
		outcomes: map[string]error{"c": memory.ErrSynthesisFailed, "d": memory.ErrNoReflectionMaterial},
	}
	d, err := NewDigest(target, "0 3 * * 0")
	require.NoError(t, err)

	firstSince := d.lastRun
	res, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DigestResult{Users: 4, Updated: 1, Unchanged: 2, Failed: 1}, res)
	assert.ElementsMatch(t, target.users, target.calls)
	assert.Equal(t, firstSince, target.since)

	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, target.since.After(firstSince))
}

// slowDigestTarget holds every refresh until release is closed.
type slowDigestTarget struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowDigestTarget) ActiveUsers(ctx context.Context, since time.Time) ([]string, error) {
	return []string{"u1"}, nil
}

func (s *slowDigestTarget) RefreshReflection(ctx context.Context, userID string) (memory.ReflectionOutcome, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return memory.ReflectionOutcome{}, nil
}

func TestDigest_StartWaitsForInflightPass(t *testing.T) {
	target := &slowDigestTarget{entered: make(chan struct{}), release: make(chan struct{})}
	d, err := NewDigest(target, "0 3 * * 0")
	require.NoError(t, err)
	// A clock stuck in the past makes every tick already due.
	d.now = func() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := d.Start(ctx)
	select {
	case <-target.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("digest pass never started")
	}

	cancel()
	select {
	case <-done:
		t.Fatalf("scheduler reported done while a refresh was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(target.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop after the refresh finished")
	}
}
