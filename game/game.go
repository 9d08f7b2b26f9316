/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package game wires live events, observer commands and scored guesses
// into the round state and the broadcasts observers see.
package game

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Seednode/livecontexto/avatars"
	"github.com/Seednode/livecontexto/intake"
	"github.com/Seednode/livecontexto/live"
	"github.com/Seednode/livecontexto/message"
	"github.com/Seednode/livecontexto/ranking"
	"github.com/Seednode/livecontexto/round"
	"github.com/Seednode/livecontexto/words"
)

const (
	DefaultUsername = "@isaackogz"
	DefaultWinDelay = 10 * time.Second

	freeHintGifter = "Game Master (Free)"
	leaderboardLen = 3
)

type Ranker interface {
	FetchDistance(ctx context.Context, roundID int, word string) (ranking.Distance, error)
	FetchHint(ctx context.Context, roundID, distance int) (string, error)
}

type Broadcaster interface {
	Broadcast(msg any) error
}

type AvatarResolver interface {
	Resolve(ctx context.Context, participantID string, fetch avatars.Fetcher) (string, bool)
}

type Enqueuer interface {
	Enqueue(item intake.Item) error
}

// FetcherFor builds the fetch used on a full avatar cache miss.
type FetcherFor func(urls []string) avatars.Fetcher

type Config struct {
	DefaultUsername string
	WinDelay        time.Duration
	GiftAutoGuess   bool
	Normalizer      words.Normalizer
}

type Deps struct {
	Round   *round.State
	Ranker  Ranker
	Hub     Broadcaster
	Avatars AvatarResolver
	Fetch   FetcherFor
	Source  live.Source
}

type Game struct {
	cfg     Config
	round   *round.State
	ranker  Ranker
	hub     Broadcaster
	avatars AvatarResolver
	fetch   FetcherFor
	source  live.Source
	log     zerolog.Logger

	// ctx bounds work started by live events and observer commands,
	// which arrive without a context of their own.
	ctx context.Context

	mu    sync.Mutex
	queue Enqueuer

	connMu sync.Mutex

	timerMu sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

func New(ctx context.Context, cfg Config, deps Deps, log zerolog.Logger) *Game {
	if cfg.DefaultUsername == "" {
		cfg.DefaultUsername = DefaultUsername
	}
	if cfg.WinDelay <= 0 {
		cfg.WinDelay = DefaultWinDelay
	}
	if deps.Fetch == nil {
		deps.Fetch = firstURL
	}

	return &Game{
		cfg:     cfg,
		round:   deps.Round,
		ranker:  deps.Ranker,
		hub:     deps.Hub,
		avatars: deps.Avatars,
		fetch:   deps.Fetch,
		source:  deps.Source,
		log:     log,
		ctx:     ctx,
		timers:  make(map[*time.Timer]struct{}),
	}
}

// AttachQueue sets where comments are sent for scoring. The queue in turn
// uses the Game as its Processor, so the two are linked after construction.
func (g *Game) AttachQueue(q Enqueuer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queue = q
}

func (g *Game) enqueuer() Enqueuer {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.queue
}

// Start opens the first round.
func (g *Game) Start() int {
	id := g.round.StartNewRound()

	g.log.Info().Int("round", id).Msg("round started")

	return id
}

// Snapshot is the game_state message sent to each new observer.
func (g *Game) Snapshot() any {
	snap := g.round.Snapshot()

	return message.NewGameState(snap.RoundID, guessMap(snap.Guesses))
}

func (g *Game) broadcast(msg any) {
	if err := g.hub.Broadcast(msg); err != nil {
		g.log.Error().Err(err).Msg("broadcast failed")
	}
}

func (g *Game) newRound() {
	id := g.round.StartNewRound()

	g.log.Info().Int("round", id).Msg("round started")

	g.broadcast(message.NewGameStart(id))
}

func (g *Game) avatarFor(ctx context.Context, u live.User) string {
	if g.avatars == nil || u.ID == "" {
		return ""
	}

	url, _ := g.avatars.Resolve(ctx, u.ID, g.fetch(u.AvatarURLs))

	return url
}

// firstURL is the fallback fetch: it references the first avatar URL as is.
func firstURL(urls []string) avatars.Fetcher {
	return func(context.Context) (string, error) {
		for _, u := range urls {
			if u != "" {
				return u, nil
			}
		}

		return "", avatars.ErrNoAvatar
	}
}

func guessMap(records []round.GuessRecord) map[string]message.Guess {
	out := make(map[string]message.Guess, len(records))
	for _, r := range records {
		out[r.Word] = message.Guess{
			Distance:  r.Distance,
			User:      r.User,
			UserID:    r.UserID,
			AvatarURL: message.Avatar(r.AvatarURL),
		}
	}

	return out
}

func (g *Game) guessUpdate() message.GuessUpdate {
	return message.NewGuessUpdate(guessMap(g.round.Snapshot().Guesses))
}

// Close cancels every pending round restart.
func (g *Game) Close() {
	g.timerMu.Lock()
	defer g.timerMu.Unlock()

	g.stopped = true
	for t := range g.timers {
		t.Stop()
		delete(g.timers, t)
	}
}
