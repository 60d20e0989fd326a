package channels

import (
	"context"
	"sync"
	"time"
)

// typingIndicator keeps a "typing..." hint alive per chat while replies are
// pending. Each begin is matched by one end; the refresh loop stops when the
// count drops to zero.
type typingIndicator struct {
	interval time.Duration
	ping     func(chatID string)

	mu      sync.Mutex
	pending map[string]*pendingTyping
}

type pendingTyping struct {
	count  int
	cancel context.CancelFunc
}

func newTypingIndicator(interval time.Duration, ping func(chatID string)) *typingIndicator {
	return &typingIndicator{interval: interval, ping: ping, pending: make(map[string]*pendingTyping)}
}

func (t *typingIndicator) begin(chatID string) {
	if chatID == "" {
		return
	}
	t.mu.Lock()
	if p, ok := t.pending[chatID]; ok {
		p.count++
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.pending[chatID] = &pendingTyping{count: 1, cancel: cancel}
	t.mu.Unlock()

	t.ping(chatID)
	go t.refresh(ctx, chatID)
}

func (t *typingIndicator) refresh(ctx context.Context, chatID string) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.ping(chatID)
		}
	}
}

func (t *typingIndicator) end(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[chatID]
	if !ok {
		return
	}
	if p.count--; p.count > 0 {
		return
	}
	delete(t.pending, chatID)
	p.cancel()
}

func (t *typingIndicator) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for chatID, p := range t.pending {
		p.cancel()
		delete(t.pending, chatID)
	}
}

func (t *typingIndicator) active(chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[chatID]
	return ok
}
