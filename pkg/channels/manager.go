package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

// Manager owns the chat channels and delivers companion replies to them.
type Manager struct {
	bus *bus.MessageBus

	mu       sync.RWMutex
	channels map[string]Channel
	stop     context.CancelFunc
	stopped  chan struct{}
}

// NewManager builds every channel that has credentials configured. Having
// none is fine; the HTTP API and CLI still work.
func NewManager(cfg *config.Config, messageBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{bus: messageBus, channels: make(map[string]Channel)}

	if strings.TrimSpace(cfg.Channels.Discord.Token) != "" {
		discord, err := NewDiscordChannel(cfg.Channels.Discord, messageBus)
		if err != nil {
			return nil, fmt.Errorf("initialize discord channel: %w", err)
		}
		m.channels[discord.Name()] = discord
	}

	logger.InfoCF("channels", "Chat channels configured", map[string]interface{}{
		"channels": m.EnabledChannels(),
	})
	return m, nil
}

func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// StartAll starts every channel concurrently. If any fails, the ones that
// did start are stopped again and no replies are dispatched.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	all := lo.Values(m.channels)
	m.mu.RUnlock()
	if len(all) == 0 {
		logger.InfoC("channels", "No chat channels enabled")
		return nil
	}

	var (
		startedMu sync.Mutex
		started   []Channel
		g         errgroup.Group
	)
	for _, ch := range all {
		g.Go(func() error {
			if err := ch.Start(ctx); err != nil {
				return fmt.Errorf("%s: %w", ch.Name(), err)
			}
			startedMu.Lock()
			started = append(started, ch)
			startedMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, ch := range started {
			if stopErr := ch.Stop(ctx); stopErr != nil {
				logger.WarnCF("channels", "Rollback stop failed", map[string]interface{}{
					"channel": ch.Name(),
					"error":   stopErr.Error(),
				})
			}
		}
		return fmt.Errorf("start channels: %w", err)
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	m.mu.Lock()
	if m.stop != nil {
		m.stop()
	}
	m.stop, m.stopped = cancel, stopped
	m.mu.Unlock()

	go m.dispatch(dispatchCtx, stopped)
	logger.InfoCF("channels", "Chat channels started", map[string]interface{}{"count": len(started)})
	return nil
}

// StopAll halts reply dispatch, then every running channel. Channel stop
// errors are logged, not returned.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	cancel, stopped := m.stop, m.stopped
	m.stop, m.stopped = nil, nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-stopped
	}

	m.mu.RLock()
	running := lo.Filter(lo.Values(m.channels), func(ch Channel, _ int) bool { return ch.IsRunning() })
	m.mu.RUnlock()
	for _, ch := range running {
		if err := ch.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Channel stop failed", map[string]interface{}{
				"channel": ch.Name(),
				"error":   err.Error(),
			})
		}
	}
	return nil
}

func (m *Manager) dispatch(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		m.deliver(ctx, msg)
	}
}

func (m *Manager) deliver(ctx context.Context, msg bus.OutboundMessage) {
	m.mu.RLock()
	ch, ok := m.channels[msg.Channel]
	m.mu.RUnlock()
	if !ok {
		logger.WarnCF("channels", "Reply for unknown channel dropped", map[string]interface{}{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
		})
		return
	}
	if err := ch.Send(ctx, msg); err != nil {
		logger.ErrorCF("channels", "Reply delivery failed", map[string]interface{}{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
			"error":   err.Error(),
		})
	}
}

// EnabledChannels lists channel names in sorted order.
func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	names := lo.Keys(m.channels)
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.MapValues(m.channels, func(ch Channel, _ string) bool { return ch.IsRunning() })
}
