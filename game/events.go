/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"context"
	"time"

	"github.com/Seednode/livecontexto/intake"
	"github.com/Seednode/livecontexto/live"
	"github.com/Seednode/livecontexto/message"
	"github.com/Seednode/livecontexto/round"
)

// HandleEvent is the live.Sink for the livestream source. Events are
// handled one at a time in delivery order.
func (g *Game) HandleEvent(ev live.Event) {
	ctx := g.ctx

	switch e := ev.(type) {
	case live.Connected:
		g.onConnected(e)
	case live.Disconnected:
		g.log.Info().Msg("livestream disconnected")
		g.broadcast(message.NewSystem("Disconnected from livestream"))
	case live.Comment:
		g.onComment(ctx, e)
	case live.Gift:
		g.onGift(ctx, e)
	case live.Follow:
		g.log.Debug().Str("user", e.User.DisplayName()).Msg("new follower")
		g.broadcast(message.NewFollow(e.User.DisplayName(), g.avatarFor(ctx, e.User)))
	case live.Share:
		g.log.Debug().Str("user", e.User.DisplayName()).Msg("stream shared")
		g.broadcast(message.NewShare(e.User.DisplayName()))
	default:
		g.log.Debug().Type("event", ev).Msg("ignoring unknown event")
	}
}

func (g *Game) onConnected(e live.Connected) {
	id := g.round.StartNewRound()

	g.log.Info().Str("streamer", e.UniqueID).Int("round", id).Msg("connected, round started")

	g.broadcast(message.NewSystem("Connected to @" + e.UniqueID))
	g.broadcast(message.NewGameStart(id))
}

func (g *Game) onComment(ctx context.Context, e live.Comment) {
	word, ok := g.cfg.Normalizer.Normalize(e.Text)
	if !ok {
		return
	}

	if rec, ok := g.round.Lookup(word); ok {
		g.log.Debug().Str("word", word).Str("user", e.User.DisplayName()).Msg("word already guessed")
		g.broadcast(message.NewAlreadyGuessed(e.User.DisplayName(), word, rec.Distance, g.avatarFor(ctx, e.User)))
		return
	}

	q := g.enqueuer()
	if q == nil {
		g.log.Warn().Str("word", word).Msg("no intake queue attached, dropping guess")
		return
	}

	item := intake.Item{
		User:       e.User,
		Word:       word,
		AvatarURL:  g.avatarFor(ctx, e.User),
		EnqueuedAt: time.Now(),
	}

	if err := q.Enqueue(item); err != nil {
		g.log.Warn().Err(err).Str("word", word).Msg("failed to queue guess")
	}
}

// onGift reveals a hint halfway between the best guess and the target,
// then records the hint word as a guess by the gifter.
func (g *Game) onGift(ctx context.Context, e live.Gift) {
	if e.Streakable && e.Streaking {
		return
	}

	gifter := e.User.DisplayName()

	roundID, distance, ok := g.round.HintTarget()
	if !ok {
		g.log.Info().Str("gifter", gifter).Msg("gift received but no guesses yet")
		return
	}

	word, err := g.ranker.FetchHint(ctx, roundID, distance)
	if err != nil {
		g.log.Warn().Err(err).Int("distance", distance).Msg("failed to fetch gift hint")
		return
	}

	g.log.Info().Str("gifter", gifter).Str("word", word).Int("distance", distance).Msg("hint revealed")

	g.broadcast(message.NewHint(word, distance, gifter))

	if !g.cfg.GiftAutoGuess || g.round.IsGuessed(word) {
		return
	}

	rec := round.GuessRecord{
		Word:      word,
		Distance:  distance,
		User:      gifter,
		UserID:    e.User.ID,
		AvatarURL: g.avatarFor(ctx, e.User),
	}

	if outcome := g.round.RecordGuess(roundID, rec); outcome != round.Accepted {
		g.log.Debug().Stringer("outcome", outcome).Str("word", word).Msg("hint auto-guess not recorded")
		return
	}

	g.broadcast(g.guessUpdate())
}
