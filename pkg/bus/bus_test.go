package bus

import (
	"context"
	"testing"
	"time"
)

func TestMessageBus_PublishInboundDropsWhenBufferFull(t *testing.T) {
	mb := NewMessageBusWithBuffer(4)
	defer mb.Close()

	for i := 0; i < cap(mb.inbound); i++ {
		if !mb.PublishInbound(InboundMessage{Channel: "test", SenderID: "u", ChatID: "c", Content: "msg"}) {
			t.Fatalf("publish %d should fit in buffer", i)
		}
	}

	if mb.PublishInbound(InboundMessage{Channel: "test", SenderID: "u", ChatID: "c", Content: "overflow"}) {
		t.Fatalf("overflow publish should report false")
	}
	if got := mb.Stats().DroppedInbound; got != 1 {
		t.Fatalf("expected dropped inbound count 1, got %d", got)
	}
}

func TestMessageBus_PublishOutboundDropsWhenBufferFull(t *testing.T) {
	mb := NewMessageBusWithBuffer(2)
	defer mb.Close()

	for i := 0; i < cap(mb.outbound); i++ {
		mb.PublishOutbound(OutboundMessage{Channel: "test", ChatID: "c", Content: "msg"})
	}

	mb.PublishOutbound(OutboundMessage{Channel: "test", ChatID: "c", Content: "overflow"})
	stats := mb.Stats()
	if stats.DroppedOutbound != 1 {
		t.Fatalf("expected dropped outbound count 1, got %d", stats.DroppedOutbound)
	}
	if stats.OutboundQueued != 2 {
		t.Fatalf("expected 2 queued outbound, got %d", stats.OutboundQueued)
	}
}

func TestMessageBus_RoundTrip(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	mb.PublishInbound(InboundMessage{Channel: "discord", ChatID: "c1", UserID: "discord:42", Content: "hi"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatalf("expected a message")
	}
	if msg.UserID != "discord:42" || msg.Content != "hi" {
		t.Fatalf("unexpected message %#v", msg)
	}
}

func TestMessageBus_ConsumeHonoursContext(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatalf("expected cancelled consume to return ok=false")
	}
}

func TestMessageBus_ClosedChannelsReturnFalse(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()
	mb.Close()

	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatalf("expected closed inbound consume to return ok=false")
	}
	if _, ok := mb.SubscribeOutbound(context.Background()); ok {
		t.Fatalf("expected closed outbound subscribe to return ok=false")
	}
	if mb.PublishInbound(InboundMessage{Content: "late"}) {
		t.Fatalf("publish after close should report false")
	}
}
