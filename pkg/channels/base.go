package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, messageBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       messageBus,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

// IsAllowed accepts everyone when the allow-list is empty. Entries may name
// the sender id or the username part of a compound "id|username" sender.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart, userPart, _ := strings.Cut(senderID, "|")
	for _, allowed := range c.allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(allowed, "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID || candidate == idPart || (userPart != "" && candidate == userPart) {
			return true
		}
	}
	return false
}

// UserSlot maps a channel sender to a companion identity slot.
func UserSlot(channel, senderID string) string {
	idPart, _, _ := strings.Cut(senderID, "|")
	return channel + ":" + idPart
}

// HandleMessage publishes an allowed sender's text to the bus.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, metadata map[string]string) bool {
	if !c.IsAllowed(senderID) {
		return false
	}
	if strings.TrimSpace(content) == "" {
		return false
	}
	return c.bus.PublishInbound(bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		UserID:   UserSlot(c.name, senderID),
		Metadata: metadata,
	})
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}
