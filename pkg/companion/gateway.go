package companion

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

// Chatter is the part of the engine the gateway drives.
type Chatter interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Gateway feeds inbound channel messages through the engine and publishes
// the replies. Each message runs on its own goroutine; the engine serializes
// turns per user.
type Gateway struct {
	bus     *bus.MessageBus
	chatter Chatter
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewGateway(mb *bus.MessageBus, chatter Chatter) *Gateway {
	return &Gateway{bus: mb, chatter: chatter}
}

// Run blocks until ctx is cancelled or the bus is closed, then waits for
// in-flight turns.
func (g *Gateway) Run(ctx context.Context) error {
	g.running.Store(true)
	defer g.running.Store(false)
	defer g.wg.Wait()

	for {
		msg, ok := g.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		g.wg.Add(1)
		go func(msg bus.InboundMessage) {
			defer g.wg.Done()
			g.handle(ctx, msg)
		}(msg)
	}
}

func (g *Gateway) IsRunning() bool {
	return g.running.Load()
}

func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	resp, err := g.chatter.Chat(ctx, ChatRequest{UserID: msg.UserID, Message: msg.Content})
	reply := resp.Reply
	if err != nil {
		if !IsValidationError(err) {
			logger.ErrorCF("gateway", "Turn failed", map[string]interface{}{
				"channel": msg.Channel,
				"user_id": msg.UserID,
				"error":   err.Error(),
			})
			reply = FallbackReply
		} else {
			reply = "I didn't catch that. Could you say it again?"
		}
	}
	if reply == "" {
		return
	}
	if !g.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
		ReplyTo: msg.Metadata["message_id"],
	}) {
		logger.WarnCF("gateway", "Dropped outbound reply", map[string]interface{}{
			"channel": msg.Channel,
			"chat_id": msg.ChatID,
		})
	}
}
