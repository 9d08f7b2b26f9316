/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package intake feeds guesses to the ranking service one at a time, in
// arrival order, under a concurrency cap and a dispatch throttle.
package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Seednode/livecontexto/live"
)

const (
	DefaultConcurrency = 3
	DefaultInterval    = 100 * time.Millisecond
)

var ErrClosed = errors.New("intake queue is closed")

// Item is one normalized guess waiting to be scored.
type Item struct {
	User       live.User
	Word       string
	AvatarURL  string
	EnqueuedAt time.Time
}

// Result is what Resolve learned about an item. RoundID is the round the
// distance belongs to, which may no longer be current by the time Apply
// runs.
type Result struct {
	RoundID  int
	Distance int
}

// Processor does the per-item work. Resolve may run concurrently with
// other Resolve calls; Apply is called from a single goroutine, in the
// order items were dequeued, and only for items whose Resolve succeeded.
type Processor interface {
	Resolve(ctx context.Context, item Item) (Result, error)
	Apply(ctx context.Context, item Item, res Result)
}

type Options struct {
	Concurrency int
	Interval    time.Duration
}

type slot struct {
	item     Item
	sentinel bool
}

type pending struct {
	item Item
	res  Result
	err  error
	done chan struct{}
}

type Queue struct {
	proc    Processor
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	width   int
	log     zerolog.Logger

	mu       sync.Mutex
	items    []slot
	closed   bool
	running  bool
	inflight int
	wake     chan struct{}
	finished chan struct{}
}

func New(proc Processor, opts Options, log zerolog.Logger) *Queue {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	return &Queue{
		proc:     proc,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter:  rate.NewLimiter(rate.Every(opts.Interval), 1),
		width:    opts.Concurrency,
		log:      log,
		wake:     make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
}

// Enqueue appends item and returns immediately. It only fails once Close
// has been called.
func (q *Queue) Enqueue(item Item) error {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	if !q.push(slot{item: item}) {
		return ErrClosed
	}

	q.log.Debug().
		Str("word", item.Word).
		Str("user", item.User.DisplayName()).
		Int("pending", q.Len()).
		Msg("queued guess")

	return nil
}

func (q *Queue) push(s slot) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if s.sentinel {
		q.closed = true
	}
	q.items = append(q.items, s)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return true
}

func (q *Queue) pop(ctx context.Context) (slot, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			s := q.items[0]
			q.items[0] = slot{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return s, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return slot{}, ctx.Err()
		}
	}
}

// Len reports items waiting to be dispatched.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if q.closed && n > 0 {
		n--
	}

	return n
}

// InFlight reports dispatched items whose Resolve has not returned yet.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.inflight
}

// Run is the worker loop. It returns nil after Close once everything
// queued before it has been applied, or ctx.Err() if ctx ends first.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errors.New("intake queue is already running")
	}
	q.running = true
	q.mu.Unlock()

	defer close(q.finished)

	ordered := make(chan *pending, q.width)
	applied := make(chan struct{})

	go q.applyLoop(ctx, ordered, applied)

	err := q.dispatchLoop(ctx, ordered)

	close(ordered)
	<-applied

	return err
}

func (q *Queue) dispatchLoop(ctx context.Context, ordered chan<- *pending) error {
	for {
		s, err := q.pop(ctx)
		if err != nil {
			return err
		}
		if s.sentinel {
			return nil
		}

		if err := q.sem.Acquire(ctx, 1); err != nil {
			return err
		}

		if err := q.limiter.Wait(ctx); err != nil {
			q.sem.Release(1)
			return err
		}

		p := &pending{item: s.item, done: make(chan struct{})}

		q.mu.Lock()
		q.inflight++
		q.mu.Unlock()

		go q.resolve(ctx, p)

		ordered <- p
	}
}

func (q *Queue) resolve(ctx context.Context, p *pending) {
	defer func() {
		if r := recover(); r != nil {
			p.err = fmt.Errorf("resolve panicked: %v", r)
		}

		q.mu.Lock()
		q.inflight--
		q.mu.Unlock()

		q.sem.Release(1)
		close(p.done)
	}()

	p.res, p.err = q.proc.Resolve(ctx, p.item)
}

func (q *Queue) applyLoop(ctx context.Context, ordered <-chan *pending, applied chan<- struct{}) {
	defer close(applied)

	for p := range ordered {
		<-p.done

		if p.err != nil {
			q.log.Warn().
				Err(p.err).
				Str("word", p.item.Word).
				Str("user", p.item.User.DisplayName()).
				Msg("dropped guess")
			continue
		}

		q.apply(ctx, p)
	}
}

func (q *Queue) apply(ctx context.Context, p *pending) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().
				Interface("panic", r).
				Str("word", p.item.Word).
				Msg("apply panicked")
		}
	}()

	q.proc.Apply(ctx, p.item, p.res)
}

// Close stops accepting items and blocks until the worker has applied
// everything queued before the call. It returns at once if Run was never
// started.
func (q *Queue) Close() {
	q.push(slot{sentinel: true})

	q.mu.Lock()
	running := q.running
	q.mu.Unlock()

	if !running {
		return
	}

	<-q.finished
}
