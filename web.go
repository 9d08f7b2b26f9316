/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"github.com/Seednode/livecontexto/avatars"
	"github.com/Seednode/livecontexto/game"
	"github.com/Seednode/livecontexto/hub"
	"github.com/Seednode/livecontexto/intake"
	"github.com/Seednode/livecontexto/live"
	"github.com/Seednode/livecontexto/logging"
	"github.com/Seednode/livecontexto/ranking"
	"github.com/Seednode/livecontexto/round"
	"github.com/Seednode/livecontexto/words"
)

const (
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

// humanReadableSize formats n bytes with SI units.
func humanReadableSize(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d B", n)
	}

	size := float64(n)
	for _, unit := range "kMGTPE" {
		size /= 1000
		if size < 1000 {
			return fmt.Sprintf("%.1f %cB", size, unit)
		}
	}

	return fmt.Sprintf("%.1f EB", size)
}

func serveVersion(cfg *Config, logger zerolog.Logger, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("livecontexto v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		logger.Debug().
			Str("size", humanReadableSize(int64(written))).
			Str("client", realIP(r)).
			Dur("elapsed", time.Since(startTime).Round(time.Microsecond)).
			Msg("served version page")
	}
}

func servePanic(cfg *Config, logger zerolog.Logger) func(http.ResponseWriter, *http.Request, any) {
	return func(w http.ResponseWriter, r *http.Request, i any) {
		l := logging.Ctx(r.Context(), logger)
		l.Error().Interface("panic", i).Msg("handler panicked")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again."))
	}
}

// app holds every long-lived component of a running server.
type app struct {
	cfg *Config
	log zerolog.Logger

	round *round.State
	hub   *hub.Hub
	cache *avatars.Cache
	store avatars.Store
	queue *intake.Queue
	game  *game.Game
	relay *live.Relay

	cancel    context.CancelFunc
	queueDone chan error
}

func newStore(ctx context.Context, cfg *Config) (avatars.Store, error) {
	switch cfg.avatarStore {
	case "redis":
		return avatars.NewRedisStore(ctx, avatars.RedisConfig{
			Address:  cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
			Prefix:   cfg.redisPrefix,
			TTL:      cfg.redisTTL,
		})
	case "none":
		return nil, nil
	default:
		return avatars.NewFileStore(nil, cfg.avatarDir)
	}
}

func newApp(ctx context.Context, cfg *Config, logger zerolog.Logger) (*app, error) {
	policy, err := words.ParsePolicy(cfg.wordPolicy)
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// background work outlives the request that triggered it, and is only
	// cancelled once the queue has drained on shutdown
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	a := &app{
		cfg:       cfg,
		log:       logger,
		round:     round.New(cfg.maxRound),
		store:     store,
		cancel:    cancel,
		queueDone: make(chan error, 1),
	}

	a.cache = avatars.NewCache(cfg.avatarCapacity, store, logging.Component(logger, "avatars"))

	fetcher := avatars.NewImageFetcher(nil, cfg.avatarSize)

	ranker := ranking.New(cfg.rankingURL, cfg.rankingTimeout,
		ranking.WithLogger(logging.Component(logger, "ranking")))

	a.relay = live.NewRelay(cfg.relayURL, logging.Component(logger, "live"))

	// the hub asks the game for snapshots, and the game broadcasts through
	// the hub, so the snapshot func resolves a.game lazily
	a.hub = hub.New(func() any { return a.game.Snapshot() }, logging.Component(logger, "hub"))

	a.game = game.New(workCtx, game.Config{
		DefaultUsername: cfg.defaultUsername,
		WinDelay:        cfg.winDelay,
		GiftAutoGuess:   cfg.giftAutoGuess,
		Normalizer:      words.Normalizer{Policy: policy},
	}, game.Deps{
		Round:   a.round,
		Ranker:  ranker,
		Hub:     a.hub,
		Avatars: a.cache,
		Fetch:   fetcher.For,
		Source:  a.relay,
	}, logging.Component(logger, "game"))

	a.queue = intake.New(a.game, intake.Options{
		Concurrency: cfg.queueConcurrency,
		Interval:    cfg.queueInterval,
	}, logging.Component(logger, "intake"))

	a.game.AttachQueue(a.queue)
	a.game.Start()

	go func() {
		a.queueDone <- a.queue.Run(workCtx)
	}()

	return a, nil
}

// shutdown stops components in dependency order: no new live events, then
// drain the queue, then drop observers and cached avatars.
func (a *app) shutdown(ctx context.Context) {
	a.game.Disconnect()

	a.log.Info().
		Int("pending", a.queue.Len()).
		Int("in_flight", a.queue.InFlight()).
		Msg("draining intake queue")

	a.queue.Close()
	if err := <-a.queueDone; err != nil {
		a.log.Warn().Err(err).Msg("intake queue stopped early")
	}
	a.cancel()

	a.game.Close()
	a.hub.CloseAll()

	if err := a.cache.Purge(ctx); err != nil {
		a.log.Warn().Err(err).Msg("failed to purge avatar store")
	}

	if c, ok := a.store.(io.Closer); ok {
		_ = c.Close()
	}
}

func (a *app) routes(mux *httprouter.Router, errs chan<- error) {
	cfg := a.cfg

	mux.GET(cfg.prefix+"/", serveHomePage(cfg, errs))

	mux.GET(cfg.prefix+"/assets/*asset", serveAssets(cfg, errs))

	mux.GET(cfg.prefix+"/ws", serveWebsocket(a))

	mux.GET(cfg.prefix+"/qr", serveQR(cfg))

	mux.GET(cfg.prefix+"/favicons/*favicon", serveFavicons(cfg, errs))

	mux.GET(cfg.prefix+"/favicon.svg", serveFavicons(cfg, errs))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, errs))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, a.log, errs))

	if cfg.profile {
		registerProfileHandlers(cfg, mux, a.log)
	}
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logger := logging.New(logging.Config{
		Level:   cfg.level(),
		Pretty:  cfg.logPretty,
		Service: "livecontexto",
	})
	logging.BridgeStdlib(logger)

	logger.Info().Str("version", releaseVersion).Msg("starting livecontexto")

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	mux := httprouter.New()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           logging.Middleware(logging.Component(logger, "http"))(mux),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	mux.PanicHandler = servePanic(cfg, logger)

	errs := make(chan error, 64)
	go func() {
		for err := range errs {
			logger.Debug().Err(err).Msg("failed to write response")
		}
	}()

	a.routes(mux, errs)

	go func() {
		var err error
		logger.Info().Msgf("listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	a.shutdown(shutdownCtx)

	return nil
}
