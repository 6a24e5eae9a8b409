// Package bus fans local document change events out to independent
// subscribers over bounded channels.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
)

// Origin tells local writes apart from writes applied by replication.
type Origin string

const (
	OriginLocal       Origin = "local"
	OriginReplication Origin = "replication"
)

type ChangeEvent struct {
	Collection string
	Operation  Operation
	Origin     Origin
	Document   models.Document
}

type Filter func(ChangeEvent) bool

var ErrClosed = errors.New("bus: closed")

const DefaultBuffer = 256

type subscription struct {
	ch     chan ChangeEvent
	filter Filter
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) cancel() {
	s.once.Do(func() { close(s.done) })
}

// Bus delivers every published event to each matching subscriber. A full
// subscriber channel blocks the publisher until there is room, the
// subscriber goes away or the publish context ends.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	buffer int
	closed bool
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[int]*subscription),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes; the
// channel is never closed, so readers should also watch their own context.
func (b *Bus) Subscribe(filter Filter) (<-chan ChangeEvent, func()) {
	sub := &subscription{
		ch:     make(chan ChangeEvent, b.buffer),
		filter: filter,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.cancel()
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		sub.cancel()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(ctx context.Context, ev ChangeEvent) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter == nil || sub.filter(ev) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close drops all subscribers and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.cancel()
		delete(b.subs, id)
	}
}

// ForCollection matches events of one collection.
func ForCollection(name string, ops ...Operation) Filter {
	return func(ev ChangeEvent) bool {
		if ev.Collection != name {
			return false
		}
		if len(ops) == 0 {
			return true
		}
		for _, op := range ops {
			if ev.Operation == op {
				return true
			}
		}
		return false
	}
}
