/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package live

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	handshakeTimeout = 10 * time.Second
	closeGracePeriod = time.Second
)

var (
	ErrNotConnected = errors.New("not connected to a livestream")
	ErrHandshake    = errors.New("relay did not confirm the connection")
)

type session struct {
	conn    *websocket.Conn
	done    chan struct{}
	closing bool
}

// Relay is a Source backed by a websocket relay that forwards a
// livestream's events as JSON frames.
type Relay struct {
	url    string
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu      sync.Mutex
	current *session
}

func NewRelay(relayURL string, log zerolog.Logger) *Relay {
	return &Relay{
		url: relayURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		log: log,
	}
}

func (r *Relay) endpoint(username string) (string, error) {
	u, err := url.Parse(r.url)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}

	q := u.Query()
	q.Set("unique_id", strings.TrimPrefix(username, "@"))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Connect replaces any existing connection. It returns once the relay has
// confirmed the stream with a connect frame; that event is delivered to
// sink before any other.
func (r *Relay) Connect(ctx context.Context, username string, sink Sink) error {
	if r.Connected() {
		if err := r.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
			r.log.Warn().Err(err).Msg("failed to close previous relay connection")
		}
	}

	endpoint, err := r.endpoint(username)
	if err != nil {
		return err
	}

	conn, _, err := r.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to reach relay: %w", err)
	}

	first, err := r.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	s := &session{conn: conn, done: make(chan struct{})}

	r.mu.Lock()
	r.current = s
	r.mu.Unlock()

	r.log.Info().Str("streamer", first.UniqueID).Msg("connected to livestream")

	sink(first)

	go r.readLoop(s, sink)

	return nil
}

func (r *Relay) handshake(ctx context.Context, conn *websocket.Conn) (Connected, error) {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	_, data, err := conn.ReadMessage()
	if err != nil {
		return Connected{}, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	_ = conn.SetReadDeadline(time.Time{})

	ev, err := Decode(data)
	if err != nil {
		return Connected{}, err
	}

	c, ok := ev.(Connected)
	if !ok {
		return Connected{}, fmt.Errorf("%w: first frame was %T", ErrHandshake, ev)
	}

	return c, nil
}

func (r *Relay) readLoop(s *session, sink Sink) {
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			intentional := s.closing
			if r.current == s {
				r.current = nil
			}
			r.mu.Unlock()

			_ = s.conn.Close()

			if !intentional {
				r.log.Warn().Err(err).Msg("livestream feed dropped")
				sink(Disconnected{})
			}

			return
		}

		ev, err := Decode(data)
		if err != nil {
			r.log.Debug().Err(err).Msg("skipping relay frame")
			continue
		}

		if _, ok := ev.(Disconnected); ok {
			r.mu.Lock()
			s.closing = true
			if r.current == s {
				r.current = nil
			}
			r.mu.Unlock()

			sink(ev)

			_ = s.conn.Close()

			continue
		}

		sink(ev)
	}
}

func (r *Relay) Disconnect() error {
	r.mu.Lock()
	s := r.current
	if s == nil {
		r.mu.Unlock()
		return ErrNotConnected
	}
	s.closing = true
	r.current = nil
	r.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))

	select {
	case <-s.done:
	case <-time.After(closeGracePeriod):
		_ = s.conn.Close()
		<-s.done
	}

	r.log.Info().Msg("disconnected from livestream")

	return nil
}

func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.current != nil
}
