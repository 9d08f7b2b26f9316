/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"context"
	"fmt"
	"time"

	"github.com/Seednode/livecontexto/intake"
	"github.com/Seednode/livecontexto/message"
	"github.com/Seednode/livecontexto/round"
)

// Resolve scores item against the round that is current at dispatch time.
func (g *Game) Resolve(ctx context.Context, item intake.Item) (intake.Result, error) {
	roundID, phase := g.round.Current()
	if phase != round.Active {
		return intake.Result{}, fmt.Errorf("%w: %s", round.ErrRoundClosed, phase)
	}

	d, err := g.ranker.FetchDistance(ctx, roundID, item.Word)
	if err != nil {
		return intake.Result{}, err
	}

	return intake.Result{RoundID: roundID, Distance: d.Distance}, nil
}

// Apply records a scored guess and tells observers about it.
func (g *Game) Apply(_ context.Context, item intake.Item, res intake.Result) {
	user := item.User.DisplayName()

	rec := round.GuessRecord{
		Word:      item.Word,
		Distance:  res.Distance,
		User:      user,
		UserID:    item.User.ID,
		AvatarURL: item.AvatarURL,
	}

	switch g.round.RecordGuess(res.RoundID, rec) {
	case round.Duplicate:
		existing, _ := g.round.Lookup(item.Word)
		g.broadcast(message.NewAlreadyGuessed(user, item.Word, existing.Distance, item.AvatarURL))
		return
	case round.RoundClosed:
		g.log.Debug().Str("word", item.Word).Int("round", res.RoundID).Msg("guess arrived after its round closed")
		return
	}

	g.log.Info().
		Str("user", user).
		Str("word", item.Word).
		Int("distance", res.Distance).
		Dur("waited", time.Since(item.EnqueuedAt)).
		Msg("guess scored")

	g.broadcast(message.NewGuessNotification(user, item.Word, res.Distance, item.AvatarURL))

	if res.Distance == 0 {
		g.announceWinner(res.RoundID, rec)
		return
	}

	g.broadcast(g.guessUpdate())
}

func (g *Game) announceWinner(roundID int, rec round.GuessRecord) {
	top := g.round.Leaderboard(leaderboardLen)

	board := make([]message.LeaderboardEntry, 0, len(top))
	for _, r := range top {
		board = append(board, message.LeaderboardEntry{
			Word:      r.Word,
			User:      r.User,
			Distance:  r.Distance,
			AvatarURL: message.Avatar(r.AvatarURL),
		})
	}

	g.log.Info().Str("user", rec.User).Str("word", rec.Word).Int("round", roundID).Msg("round won")

	g.broadcast(message.NewWinner(rec.Word, rec.User, rec.AvatarURL, board))

	g.scheduleRestart(roundID)
}

// scheduleRestart opens a new round after the win delay, unless the won
// round has been replaced in the meantime.
func (g *Game) scheduleRestart(wonRound int) {
	g.timerMu.Lock()
	defer g.timerMu.Unlock()

	if g.stopped {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(g.cfg.WinDelay, func() {
		g.timerMu.Lock()
		_, pending := g.timers[t]
		delete(g.timers, t)
		g.timerMu.Unlock()

		if !pending {
			return
		}

		if id, phase := g.round.Current(); id != wonRound || phase != round.Won {
			g.log.Debug().Int("round", wonRound).Msg("skipping restart, round already replaced")
			return
		}

		g.newRound()
	})

	g.timers[t] = struct{}{}
}
