package kv

import (
	"errors"
	"sync"

	"github.com/marcopiovanello/stein-dl/internal"
)

var (
	ErrSubscriberClosed = errors.New("subscriber closed")
	ErrSubscriberFull   = errors.New("subscriber buffer full")
)

// Subscriber receives every registry event. A non-nil error removes the
// subscriber from the active set.
type Subscriber interface {
	Send(ev internal.Event) error
}

// Handle identifies one subscription.
type Handle uint64

type closer interface {
	Close()
}

func closeSubscriber(s Subscriber) {
	if c, ok := s.(closer); ok {
		c.Close()
	}
}

type chanSubscriber struct {
	mu     sync.Mutex
	ch     chan internal.Event
	closed bool
}

func (c *chanSubscriber) Send(ev internal.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrSubscriberClosed
	}

	select {
	case c.ch <- ev:
		return nil
	default:
		return ErrSubscriberFull
	}
}

func (c *chanSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
