/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package hub fans events out to every connected observer.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrClosed         = errors.New("subscriber is closed")
	ErrSlowSubscriber = errors.New("subscriber send buffer is full")
)

// Subscriber is one observer connection. Send must not block; a failed
// Send gets the subscriber dropped.
type Subscriber interface {
	ID() string
	Send(data []byte) error
	Close()
}

// SnapshotFunc builds the message a new subscriber receives before any
// broadcast.
type SnapshotFunc func() any

type Hub struct {
	mu   sync.RWMutex
	subs map[string]Subscriber

	// serializes deliveries so every subscriber sees broadcasts in call order
	sendMu sync.Mutex

	snapshot SnapshotFunc
	log      zerolog.Logger
}

func New(snapshot SnapshotFunc, log zerolog.Logger) *Hub {
	return &Hub{
		subs:     make(map[string]Subscriber),
		snapshot: snapshot,
		log:      log,
	}
}

// Subscribe registers sub and sends it the current snapshot. If that
// first send fails the subscriber is closed and not registered.
func (h *Hub) Subscribe(sub Subscriber) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	if h.snapshot != nil {
		data, err := json.Marshal(h.snapshot())
		if err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}

		if err := sub.Send(data); err != nil {
			sub.Close()
			return fmt.Errorf("failed to send snapshot: %w", err)
		}
	}

	h.mu.Lock()
	h.subs[sub.ID()] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.log.Debug().Str("subscriber", sub.ID()).Int("subscribers", n).Msg("subscriber joined")

	return nil
}

// Unsubscribe removes sub if present. It does not close it.
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub.ID()]
	if ok {
		delete(h.subs, sub.ID())
	}
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.log.Debug().Str("subscriber", sub.ID()).Int("subscribers", n).Msg("subscriber left")
	}
}

// Broadcast delivers msg to every subscriber. Subscribers that fail are
// removed and closed once the sweep is over; the rest still get msg.
func (h *Hub) Broadcast(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast: %w", err)
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	var failed []Subscriber
	for _, sub := range targets {
		if err := sub.Send(data); err != nil {
			h.log.Debug().Err(err).Str("subscriber", sub.ID()).Msg("delivery failed")
			failed = append(failed, sub)
		}
	}

	if len(failed) == 0 {
		return nil
	}

	h.mu.Lock()
	for _, sub := range failed {
		if h.subs[sub.ID()] == sub {
			delete(h.subs, sub.ID())
		}
	}
	h.mu.Unlock()

	for _, sub := range failed {
		sub.Close()
	}

	return nil
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// CloseAll removes and closes every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]Subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
