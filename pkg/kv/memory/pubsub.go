package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/arbi/kvengine/pkg/kv"
)

// subscriptionBuffer is the per-subscriber backlog. Slow subscribers drop
// messages instead of stalling publishers.
const subscriptionBuffer = 100

// subscription is an in-process kv.Subscription
type subscription struct {
	channels map[string]bool
	msgChan  chan *kv.Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newSubscription(channels []string) *subscription {
	channelMap := make(map[string]bool, len(channels))
	for _, ch := range channels {
		channelMap[ch] = true
	}
	return &subscription{
		channels: channelMap,
		msgChan:  make(chan *kv.Message, subscriptionBuffer),
		closeCh:  make(chan struct{}),
	}
}

func (sub *subscription) Channel() <-chan *kv.Message {
	return sub.msgChan
}

func (sub *subscription) Close() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.closeCh)
		close(sub.msgChan)
	}
	return nil
}

// deliver sends msg without blocking and reports whether it was queued
func (sub *subscription) deliver(msg *kv.Message) bool {
	sub.mu.RLock()
	defer sub.mu.RUnlock()
	if sub.closed || !sub.channels[msg.Channel] {
		return false
	}
	select {
	case sub.msgChan <- msg:
		return true
	default:
		return false
	}
}

// hub fans published messages out to subscriptions
type hub struct {
	subscribers map[string][]*subscription
	mu          sync.RWMutex
}

func newHub() *hub {
	return &hub{subscribers: make(map[string][]*subscription)}
}

func (h *hub) subscribe(ctx context.Context, channels []string) *subscription {
	sub := newSubscription(channels)

	h.mu.Lock()
	for channel := range sub.channels {
		h.subscribers[channel] = append(h.subscribers[channel], sub)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}
		h.unsubscribe(sub)
	}()
	return sub
}

func (h *hub) unsubscribe(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel := range sub.channels {
		subscribers := h.subscribers[channel]
		for i, s := range subscribers {
			if s == sub {
				h.subscribers[channel] = append(subscribers[:i:i], subscribers[i+1:]...)
				break
			}
		}
		if len(h.subscribers[channel]) == 0 {
			delete(h.subscribers, channel)
		}
	}
}

// publish returns the number of subscriptions that accepted the message
func (h *hub) publish(channel string, payload []byte) int64 {
	h.mu.RLock()
	subscribers := make([]*subscription, len(h.subscribers[channel]))
	copy(subscribers, h.subscribers[channel])
	h.mu.RUnlock()

	var n int64
	for _, sub := range subscribers {
		if sub.deliver(&kv.Message{Channel: channel, Payload: cloneBytes(payload)}) {
			n++
		}
	}
	return n
}

func (h *hub) close() {
	h.mu.RLock()
	var all []*subscription
	for _, subs := range h.subscribers {
		all = append(all, subs...)
	}
	h.mu.RUnlock()
	for _, sub := range all {
		sub.Close()
	}
}

// Pub/Sub

// Publish delivers payload to current subscribers of channel and returns how
// many received it. Messages are not retained.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	n := s.hub.publish(channel, payload)
	s.stats.published.Add(1)
	return n, nil
}

// Subscribe opens a subscription that lives until Close or ctx is done
func (s *Store) Subscribe(ctx context.Context, channels ...string) (kv.Subscription, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: subscribe needs at least one channel", kv.ErrSyntax)
	}
	return s.hub.subscribe(ctx, channels), nil
}
