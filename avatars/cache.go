/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package avatars resolves participant avatars through a bounded in-memory
// tier backed by a persistent Store.
package avatars

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const DefaultCapacity = 50

// Fetcher produces an avatar reference on a full cache miss. An empty
// result or an error means no avatar is available.
type Fetcher func(ctx context.Context) (string, error)

type entry struct {
	participantID string
	avatarURL     string
}

// Cache evicts in insertion order; lookups do not refresh an entry.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List

	// storeMu orders store writes against the memory tier, so an eviction
	// never deletes the copy of a participant that was just promoted back.
	storeMu sync.Mutex
	store   Store
	sf      singleflight.Group
	log     zerolog.Logger
}

func NewCache(capacity int, store Store, log zerolog.Logger) *Cache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		store:    store,
		log:      log,
	}
}

// Resolve returns the avatar for participantID, calling fetch only when
// neither tier holds it.
func (c *Cache) Resolve(ctx context.Context, participantID string, fetch Fetcher) (string, bool) {
	if participantID == "" {
		return "", false
	}

	if url, ok := c.lookup(participantID); ok {
		return url, true
	}

	v, _, _ := c.sf.Do(participantID, func() (any, error) {
		if url, ok := c.lookup(participantID); ok {
			return url, nil
		}

		if url, ok := c.promote(ctx, participantID); ok {
			return url, nil
		}

		if fetch == nil {
			return "", nil
		}

		url, err := fetch(ctx)
		if err != nil {
			c.log.Debug().Err(err).Str("participant", participantID).Msg("avatar fetch failed")
			return "", nil
		}
		if url == "" {
			return "", nil
		}

		c.remember(ctx, participantID, url)

		return url, nil
	})

	url, _ := v.(string)

	return url, url != ""
}

// promote moves a persisted avatar into the memory tier.
func (c *Cache) promote(ctx context.Context, participantID string) (string, bool) {
	if c.store == nil {
		return "", false
	}

	c.storeMu.Lock()

	url, err := c.store.Get(ctx, Key(participantID))
	if err != nil {
		c.storeMu.Unlock()
		if !errors.Is(err, ErrMiss) {
			c.log.Warn().Err(err).Str("participant", participantID).Msg("avatar store read failed")
		}
		return "", false
	}

	evicted := c.insert(participantID, url)
	c.storeMu.Unlock()

	c.forget(ctx, evicted)

	return url, true
}

// remember stores a freshly fetched avatar in both tiers.
func (c *Cache) remember(ctx context.Context, participantID, url string) {
	if c.store == nil {
		c.insert(participantID, url)
		return
	}

	c.storeMu.Lock()

	// write the shadow before the memory insert so a later eviction always finds it
	if err := c.store.Put(ctx, Key(participantID), url); err != nil {
		c.log.Warn().Err(err).Str("participant", participantID).Msg("avatar store write failed")
	}

	evicted := c.insert(participantID, url)
	c.storeMu.Unlock()

	c.forget(ctx, evicted)
}

// forget removes the persisted copies of evicted participants. A participant
// that made it back into memory in the meantime keeps its copy.
func (c *Cache) forget(ctx context.Context, evicted []string) {
	for _, id := range evicted {
		c.storeMu.Lock()
		if _, ok := c.lookup(id); !ok {
			if err := c.store.Delete(ctx, Key(id)); err != nil {
				c.log.Warn().Err(err).Str("participant", id).Msg("failed to remove evicted avatar")
			}
		}
		c.storeMu.Unlock()
	}
}

func (c *Cache) lookup(participantID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[participantID]
	if !ok {
		return "", false
	}

	return el.Value.(*entry).avatarURL, true
}

// insert adds to the memory tier and returns the participants it evicted.
func (c *Cache) insert(participantID, url string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[participantID]; ok {
		el.Value.(*entry).avatarURL = url
		return nil
	}

	var evicted []string
	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		e := c.order.Remove(oldest).(*entry)
		delete(c.entries, e.participantID)
		evicted = append(evicted, e.participantID)
	}

	c.entries[participantID] = c.order.PushBack(&entry{participantID: participantID, avatarURL: url})

	return evicted
}

// Len reports the size of the memory tier.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}

// Purge empties both tiers.
func (c *Cache) Purge(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}

	return c.store.Purge(ctx)
}
