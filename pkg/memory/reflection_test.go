package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	prompts []string
}

func (c *scriptedCompleter) Complete(ctx context.Context, system, prompt string, maxTokens int, temperature float64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	i := len(c.prompts) - 1
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.replies) {
		return c.replies[i], nil
	}
	return "", nil
}

func (c *scriptedCompleter) lastPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prompts) == 0 {
		return ""
	}
	return c.prompts[len(c.prompts)-1]
}

func seedTurn(t *testing.T, store *SQLiteStore, user, userText, reply string) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.AppendTurn(ctx, Turn{UserID: user, Sender: SenderUser, Text: userText}); err != nil {
		t.Fatalf("append user turn: %v", err)
	}
	if _, err := store.AppendTurn(ctx, Turn{UserID: user, Sender: SenderCompanion, Text: reply}); err != nil {
		t.Fatalf("append companion turn: %v", err)
	}
}

func TestSynthesizer_InitialPromptCarriesFacts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.AppendFacts(ctx, []Fact{{UserID: "u1", Text: "Pet: cat named Miso", Category: "pets"}}); err != nil {
		t.Fatalf("append facts: %v", err)
	}
	seedTurn(t, store, "u1", "I just adopted a cat named Miso", "Miso is a lovely name!")

	llm := &scriptedCompleter{replies: []string{"They recently adopted a cat called Miso."}}
	syn := NewSynthesizer(store, llm, nil, nil, ReflectionOptions{})

	out, err := syn.Refresh(ctx, "u1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !out.Written || !out.Created {
		t.Fatalf("expected a created reflection, got %#v", out)
	}

	prompt := llm.lastPrompt()
	if !strings.Contains(prompt, "Pet: cat named Miso") {
		t.Fatalf("expected pet fact in prompt, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Write the first reflection") {
		t.Fatalf("expected initial prompt, got:\n%s", prompt)
	}

	rec, ok, err := store.GetReflection(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("get reflection: ok=%v err=%v", ok, err)
	}
	if rec.Text != "They recently adopted a cat called Miso." {
		t.Fatalf("unexpected reflection %q", rec.Text)
	}
}

func TestSynthesizer_FailureLeavesReflectionUntouched(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedTurn(t, store, "u1", "My sister visits next week", "That sounds exciting.")

	llm := &scriptedCompleter{
		replies: []string{"They are close with their sister.", "", ""},
		errs:    []error{nil, errors.New("upstream 503"), nil},
	}
	syn := NewSynthesizer(store, llm, nil, nil, ReflectionOptions{})

	if _, err := syn.Refresh(ctx, "u1"); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	before, _, _ := store.GetReflection(ctx, "u1")

	seedTurn(t, store, "u1", "Work has been stressful", "I'm sorry to hear that.")
	_, err := syn.Refresh(ctx, "u1")
	if err == nil {
		t.Fatalf("expected provider failure to surface")
	}
	if !IsSoftReflectionError(err) {
		t.Fatalf("expected soft reflection error, got %v", err)
	}

	_, err = syn.Refresh(ctx, "u1")
	if !errors.Is(err, ErrEmptyReflection) {
		t.Fatalf("expected empty reflection error, got %v", err)
	}

	after, ok, _ := store.GetReflection(ctx, "u1")
	if !ok {
		t.Fatalf("reflection vanished after failed refresh")
	}
	if after.Text != before.Text || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("reflection changed after failure: %q -> %q", before.Text, after.Text)
	}
}

func TestSynthesizer_NoMeaningfulChangeKeepsText(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if _, err := store.UpsertReflection(ctx, "u1", "They garden on weekends."); err != nil {
		t.Fatalf("seed reflection: %v", err)
	}
	seedTurn(t, store, "u1", "ok", "Okay!")

	llm := &scriptedCompleter{replies: []string{"no meaningful change."}}
	syn := NewSynthesizer(store, llm, nil, nil, ReflectionOptions{})
	out, err := syn.Refresh(ctx, "u1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if out.Written {
		t.Fatalf("expected no write, got %#v", out)
	}
	if out.Text != "They garden on weekends." {
		t.Fatalf("unexpected outcome text %q", out.Text)
	}
	if !strings.Contains(llm.lastPrompt(), "EXISTING REFLECTION:\nThey garden on weekends.") {
		t.Fatalf("expected integrate prompt, got:\n%s", llm.lastPrompt())
	}
}

func TestSynthesizer_NothingToReflectOn(t *testing.T) {
	store := newTestStore(t)
	llm := &scriptedCompleter{}
	syn := NewSynthesizer(store, llm, nil, nil, ReflectionOptions{})
	if _, err := syn.Refresh(context.Background(), "u1"); !errors.Is(err, ErrNoReflectionMaterial) {
		t.Fatalf("expected ErrNoReflectionMaterial, got %v", err)
	}
	if len(llm.prompts) != 0 {
		t.Fatalf("completion should not be called without material")
	}
}

type blockingCompleter struct{}

func (blockingCompleter) Complete(ctx context.Context, system, prompt string, maxTokens int, temperature float64) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestSynthesizer_TimeoutIsSoftFailure(t *testing.T) {
	store := newTestStore(t)
	seedTurn(t, store, "u1", "hello there", "hi!")
	syn := NewSynthesizer(store, blockingCompleter{}, nil, nil, ReflectionOptions{Timeout: 50 * time.Millisecond})

	_, err := syn.Refresh(context.Background(), "u1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !IsSoftReflectionError(err) {
		t.Fatalf("timeout should be a soft reflection error")
	}
	if _, ok, _ := store.GetReflection(context.Background(), "u1"); ok {
		t.Fatalf("no reflection should exist after a timed out first refresh")
	}
}

func TestKeyedMutex_SerializesAndCleansUp(t *testing.T) {
	km := NewKeyedMutex()
	var mu sync.Mutex
	active, peak := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("u1")
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Fatalf("expected at most one holder, saw %d", peak)
	}
	if km.size() != 0 {
		t.Fatalf("expected lock entries to be released, got %d", km.size())
	}
}
