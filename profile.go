/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"net/http/pprof"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

var profiles = []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"}

// registerProfileHandlers exposes pprof under <prefix>/pprof/. The queue
// worker and relay read loop are the goroutines worth looking at here.
func registerProfileHandlers(cfg *Config, mux *httprouter.Router, logger zerolog.Logger) {
	base := cfg.prefix + "/pprof/"

	mux.HandlerFunc(http.MethodGet, base, pprof.Index)

	for _, name := range profiles {
		mux.Handler(http.MethodGet, base+name, pprof.Handler(name))
	}

	mux.HandlerFunc(http.MethodGet, base+"cmdline", pprof.Cmdline)
	mux.HandlerFunc(http.MethodGet, base+"profile", pprof.Profile)
	mux.HandlerFunc(http.MethodGet, base+"symbol", pprof.Symbol)
	mux.HandlerFunc(http.MethodGet, base+"trace", pprof.Trace)

	logger.Info().Str("path", base).Msg("registered profiling handlers")
}
