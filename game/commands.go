/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Seednode/livecontexto/live"
	"github.com/Seednode/livecontexto/message"
)

// HandleCommand runs a control command from an observer. Unknown actions
// are ignored.
func (g *Game) HandleCommand(ctrl message.Control) {
	switch ctrl.Action {
	case message.ActionConnect:
		username := strings.TrimSpace(ctrl.Username)
		if username == "" {
			username = g.cfg.DefaultUsername
		}
		g.connect(username)
	case message.ActionDisconnect:
		g.disconnect()
	case message.ActionResetGame:
		g.newRound()
	case message.ActionFreeHint:
		g.freeHint()
	default:
		g.log.Debug().Str("action", ctrl.Action).Msg("ignoring unknown action")
	}
}

func (g *Game) connect(username string) {
	if g.source == nil {
		g.broadcast(message.NewError("No livestream source configured"))
		return
	}

	g.connMu.Lock()
	defer g.connMu.Unlock()

	g.broadcast(message.NewStatus("connecting", fmt.Sprintf("Connecting to %s...", username)))

	err := g.source.Connect(g.ctx, username, g.HandleEvent)
	if err == nil {
		return
	}

	g.log.Warn().Err(err).Str("username", username).Msg("failed to connect to livestream")

	var relayErr *live.RelayError
	if errors.As(err, &relayErr) {
		g.broadcast(message.NewError(relayErr.Message))
		return
	}

	g.broadcast(message.NewError(fmt.Sprintf("Error connecting to %s: %v", username, err)))
}

func (g *Game) disconnect() {
	if g.source == nil {
		return
	}

	g.connMu.Lock()
	defer g.connMu.Unlock()

	err := g.source.Disconnect()
	switch {
	case err == nil:
		g.broadcast(message.NewSystem("Disconnected from livestream"))
	case errors.Is(err, live.ErrNotConnected):
	default:
		g.log.Warn().Err(err).Msg("failed to disconnect from livestream")
		g.broadcast(message.NewSystem(fmt.Sprintf("Error disconnecting: %v", err)))
	}
}

// Disconnect drops the livestream connection, if any, without telling
// observers. Used on shutdown.
func (g *Game) Disconnect() {
	if g.source == nil || !g.source.Connected() {
		return
	}

	g.connMu.Lock()
	defer g.connMu.Unlock()

	if err := g.source.Disconnect(); err != nil && !errors.Is(err, live.ErrNotConnected) {
		g.log.Warn().Err(err).Msg("failed to disconnect from livestream")
	}
}

func (g *Game) freeHint() {
	roundID, distance, ok := g.round.HintTarget()
	if !ok {
		g.broadcast(message.NewSystem("No guesses yet! Need at least one guess for a hint."))
		return
	}

	word, err := g.ranker.FetchHint(g.ctx, roundID, distance)
	if err != nil {
		g.log.Warn().Err(err).Int("distance", distance).Msg("failed to fetch free hint")
		g.broadcast(message.NewSystem("Failed to get hint from API. Try again!"))
		return
	}

	g.log.Info().Str("word", word).Int("distance", distance).Msg("free hint revealed")

	g.broadcast(message.NewHint(word, distance, freeHintGifter))
}
