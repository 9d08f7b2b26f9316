/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package round holds the authoritative state of the current guessing round.
package round

import (
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
)

// DefaultMaxRoundID is the highest round id known to the ranking service.
const DefaultMaxRoundID = 1184

var ErrRoundClosed = errors.New("round is not accepting guesses")

type Phase int

const (
	Idle Phase = iota
	Active
	Won
)

func (p Phase) String() string {
	switch p {
	case Active:
		return "active"
	case Won:
		return "won"
	default:
		return "idle"
	}
}

// Outcome is the result of RecordGuess.
type Outcome int

const (
	Accepted Outcome = iota
	Duplicate
	RoundClosed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	default:
		return "round-closed"
	}
}

type GuessRecord struct {
	Word      string
	Distance  int
	User      string
	UserID    string
	AvatarURL string
}

// Snapshot is a point-in-time copy of the round, safe to hand to other goroutines.
type Snapshot struct {
	RoundID int
	Phase   Phase
	Guesses []GuessRecord // insertion order
}

type State struct {
	mu sync.RWMutex

	maxRoundID int
	intn       func(n int) int

	roundID int
	phase   Phase
	guesses map[string]GuessRecord
	order   []string
}

type Option func(*State)

// WithRandom replaces the source used to pick round ids. intn must return
// a value in [0, n).
func WithRandom(intn func(n int) int) Option {
	return func(s *State) {
		s.intn = intn
	}
}

func New(maxRoundID int, opts ...Option) *State {
	if maxRoundID < 1 {
		maxRoundID = DefaultMaxRoundID
	}

	s := &State{
		maxRoundID: maxRoundID,
		intn:       rand.IntN,
		guesses:    make(map[string]GuessRecord),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// StartNewRound replaces the current round with an empty one and returns its id.
func (s *State) StartNewRound() int {
	id := s.intn(s.maxRoundID) + 1

	s.mu.Lock()
	defer s.mu.Unlock()

	s.roundID = id
	s.phase = Active
	s.guesses = make(map[string]GuessRecord)
	s.order = nil

	return id
}

// RecordGuess stores rec for round roundID. A word already recorded is never
// overwritten, even when the new distance differs.
func (s *State) RecordGuess(roundID int, rec GuessRecord) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if roundID == s.roundID {
		if _, ok := s.guesses[rec.Word]; ok {
			return Duplicate
		}
	}

	if s.phase != Active || roundID != s.roundID || rec.Distance < 0 {
		return RoundClosed
	}

	s.guesses[rec.Word] = rec
	s.order = append(s.order, rec.Word)

	if rec.Distance == 0 {
		s.phase = Won
	}

	return Accepted
}

// Leaderboard returns up to limit guesses, closest first. Ties keep insertion order.
func (s *State) Leaderboard(limit int) []GuessRecord {
	s.mu.RLock()
	records := s.recordsLocked()
	s.mu.RUnlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Distance < records[j].Distance
	})

	if limit >= 0 && len(records) > limit {
		records = records[:limit]
	}

	return records
}

// HintTarget returns the current round id and its hint distance: half of
// the closest distance so far, never below 1. Both are read under one lock
// so they always belong to the same round. ok is false while the round has
// no guesses.
func (s *State) HintTarget() (roundID, distance int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	distance, ok = s.hintDistanceLocked()

	return s.roundID, distance, ok
}

func (s *State) hintDistanceLocked() (int, bool) {
	if len(s.guesses) == 0 {
		return 0, false
	}

	lowest := -1
	for _, rec := range s.guesses {
		if lowest < 0 || rec.Distance < lowest {
			lowest = rec.Distance
		}
	}

	return max(1, lowest/2), true
}

func (s *State) IsGuessed(word string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.guesses[word]

	return ok
}

func (s *State) Lookup(word string) (GuessRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.guesses[word]

	return rec, ok
}

func (s *State) RoundID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.roundID
}

func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.phase
}

// Current returns the round id together with the phase, read atomically.
func (s *State) Current() (int, Phase) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.roundID, s.phase
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		RoundID: s.roundID,
		Phase:   s.phase,
		Guesses: s.recordsLocked(),
	}
}

func (s *State) recordsLocked() []GuessRecord {
	records := make([]GuessRecord, 0, len(s.order))
	for _, w := range s.order {
		records = append(records, s.guesses[w])
	}

	return records
}
