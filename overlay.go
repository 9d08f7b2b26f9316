/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/livecontexto/hub"
	"github.com/Seednode/livecontexto/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWebsocket attaches an observer: it gets the current round first,
// then every broadcast, and may send control commands back.
func serveWebsocket(a *app) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		logger := logging.Ctx(r.Context(), a.log)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := hub.NewClient(conn, hub.DefaultClientConfig(), logger)

		if err := a.hub.Subscribe(client); err != nil {
			logger.Debug().Err(err).Msg("failed to subscribe observer")
			_ = conn.Close()
			return
		}

		logger.Info().Str("subscriber", client.ID()).Int("observers", a.hub.Len()).Msg("observer connected")

		go client.WritePump()
		client.ReadPump(a.game.HandleCommand)

		a.hub.Unsubscribe(client)
		client.Close()

		logger.Info().Str("subscriber", client.ID()).Int("observers", a.hub.Len()).Msg("observer disconnected")
	}
}

// serveQR renders a PNG QR code pointing at the overlay, for adding it to
// broadcast software from a phone.
func serveQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		path := strings.TrimSuffix(r.URL.Path, "/qr") + "/"

		url := scheme + "://" + r.Host + path

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}
