package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBuffer  = 100
	publishTimeout = 100 * time.Millisecond
)

// MessageBus decouples channel adapters from the turn processor. Publishing
// never blocks for longer than publishTimeout; overflow is counted and dropped.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	closed   bool
	dropped  droppedCounters
	mu       sync.RWMutex
}

type droppedCounters struct {
	inbound  atomic.Uint64
	outbound atomic.Uint64
}

// Stats is a point-in-time view of queue depth and drops.
type Stats struct {
	InboundQueued   int    `json:"inbound_queued"`
	OutboundQueued  int    `json:"outbound_queued"`
	DroppedInbound  uint64 `json:"dropped_inbound"`
	DroppedOutbound uint64 `json:"dropped_outbound"`
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithBuffer(defaultBuffer)
}

func NewMessageBusWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultBuffer
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, size),
		outbound: make(chan OutboundMessage, size),
	}
}

func (mb *MessageBus) PublishInbound(msg InboundMessage) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return false
	}
	if publish(mb.inbound, msg) {
		return true
	}
	mb.dropped.inbound.Add(1)
	return false
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return consume(ctx, mb.inbound)
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return false
	}
	if publish(mb.outbound, msg) {
		return true
	}
	mb.dropped.outbound.Add(1)
	return false
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return consume(ctx, mb.outbound)
}

func publish[T any](ch chan T, msg T) bool {
	select {
	case ch <- msg:
		return true
	default:
	}
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case ch <- msg:
		return true
	case <-timer.C:
		return false
	}
}

func consume[T any](ctx context.Context, ch chan T) (T, bool) {
	var zero T
	select {
	case msg, ok := <-ch:
		if !ok {
			return zero, false
		}
		return msg, true
	case <-ctx.Done():
		return zero, false
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}

func (mb *MessageBus) Stats() Stats {
	return Stats{
		InboundQueued:   len(mb.inbound),
		OutboundQueued:  len(mb.outbound),
		DroppedInbound:  mb.dropped.inbound.Load(),
		DroppedOutbound: mb.dropped.outbound.Load(),
	}
}
