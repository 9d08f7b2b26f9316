/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Seednode/livecontexto/avatars"
	"github.com/Seednode/livecontexto/game"
	"github.com/Seednode/livecontexto/intake"
	"github.com/Seednode/livecontexto/ranking"
	"github.com/Seednode/livecontexto/round"
	"github.com/Seednode/livecontexto/words"
)

type Config struct {
	bind      string
	port      int
	prefix    string
	profile   bool
	tlsCert   string
	tlsKey    string
	verbose   bool
	version   bool
	logLevel  string
	logPretty bool

	rankingURL     string
	rankingTimeout time.Duration
	maxRound       int

	queueConcurrency int
	queueInterval    time.Duration

	winDelay        time.Duration
	wordPolicy      string
	giftAutoGuess   bool
	relayURL        string
	defaultUsername string

	avatarCapacity int
	avatarStore    string
	avatarDir      string
	avatarSize     int

	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string
	redisTTL      time.Duration
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if _, err := words.ParsePolicy(c.wordPolicy); err != nil {
		return err
	}
	if c.queueConcurrency < 1 {
		return fmt.Errorf("invalid queue concurrency (must be at least 1): %d", c.queueConcurrency)
	}
	if c.queueInterval < 0 {
		return fmt.Errorf("invalid queue interval (must not be negative): %s", c.queueInterval)
	}
	if c.rankingTimeout <= 0 {
		return fmt.Errorf("invalid ranking timeout (must be positive): %s", c.rankingTimeout)
	}
	if c.maxRound < 1 {
		return fmt.Errorf("invalid max round (must be at least 1): %d", c.maxRound)
	}
	if c.avatarCapacity < 1 {
		return fmt.Errorf("invalid avatar capacity (must be at least 1): %d", c.avatarCapacity)
	}
	if _, err := url.ParseRequestURI(c.rankingURL); err != nil {
		return fmt.Errorf("invalid ranking url: %w", err)
	}
	if _, err := url.ParseRequestURI(c.relayURL); err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}

	switch c.avatarStore {
	case "file":
		if c.avatarDir == "" {
			return errors.New("--avatar-dir is required when --avatar-store=file")
		}
	case "redis":
		if c.redisAddr == "" {
			return errors.New("--redis-addr is required when --avatar-store=redis")
		}
	case "none":
	default:
		return fmt.Errorf("invalid avatar store (must be one of file, redis, none): %q", c.avatarStore)
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) level() string {
	if c.logLevel != "" {
		return c.logLevel
	}
	if c.verbose {
		return "debug"
	}
	return "info"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("LIVECONTEXTO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "livecontexto",
		Short:         "Play Contexto with a livestream's chat, with a live overlay for the stream.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: LIVECONTEXTO_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: LIVECONTEXTO_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: LIVECONTEXTO_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: LIVECONTEXTO_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: LIVECONTEXTO_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: LIVECONTEXTO_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: LIVECONTEXTO_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: LIVECONTEXTO_VERSION)")
	fs.StringVar(&cfg.logLevel, "log-level", "", "log level, overrides --verbose (env: LIVECONTEXTO_LOG_LEVEL)")
	fs.BoolVar(&cfg.logPretty, "log-pretty", false, "human-readable console logs instead of json (env: LIVECONTEXTO_LOG_PRETTY)")

	fs.StringVar(&cfg.rankingURL, "ranking-url", ranking.DefaultBaseURL, "base url of the ranking service (env: LIVECONTEXTO_RANKING_URL)")
	fs.DurationVar(&cfg.rankingTimeout, "ranking-timeout", ranking.DefaultTimeout, "timeout for each ranking service request (env: LIVECONTEXTO_RANKING_TIMEOUT)")
	fs.IntVar(&cfg.maxRound, "max-round", round.DefaultMaxRoundID, "highest round id to pick from (env: LIVECONTEXTO_MAX_ROUND)")
	fs.IntVar(&cfg.queueConcurrency, "queue-concurrency", intake.DefaultConcurrency, "maximum concurrent ranking requests (env: LIVECONTEXTO_QUEUE_CONCURRENCY)")
	fs.DurationVar(&cfg.queueInterval, "queue-interval", intake.DefaultInterval, "minimum time between ranking requests (env: LIVECONTEXTO_QUEUE_INTERVAL)")
	fs.DurationVar(&cfg.winDelay, "win-delay", game.DefaultWinDelay, "time to show the winner before starting a new round (env: LIVECONTEXTO_WIN_DELAY)")
	fs.StringVar(&cfg.wordPolicy, "word-policy", "single", "how comments become guesses: single or first (env: LIVECONTEXTO_WORD_POLICY)")
	fs.BoolVar(&cfg.giftAutoGuess, "gift-auto-guess", true, "record each gift hint as a guess by the gifter (env: LIVECONTEXTO_GIFT_AUTO_GUESS)")
	fs.StringVar(&cfg.relayURL, "relay-url", "ws://127.0.0.1:8081/live", "websocket relay forwarding livestream events (env: LIVECONTEXTO_RELAY_URL)")
	fs.StringVar(&cfg.defaultUsername, "default-username", game.DefaultUsername, "streamer to connect to when none is given (env: LIVECONTEXTO_DEFAULT_USERNAME)")

	fs.IntVar(&cfg.avatarCapacity, "avatar-capacity", avatars.DefaultCapacity, "avatars kept in memory (env: LIVECONTEXTO_AVATAR_CAPACITY)")
	fs.StringVar(&cfg.avatarStore, "avatar-store", "file", "persistent avatar store: file, redis or none (env: LIVECONTEXTO_AVATAR_STORE)")
	fs.StringVar(&cfg.avatarDir, "avatar-dir", "avatar_cache", "directory for the file avatar store (env: LIVECONTEXTO_AVATAR_DIR)")
	fs.IntVar(&cfg.avatarSize, "avatar-size", avatars.DefaultThumbnailSize, "avatar thumbnail size in pixels (env: LIVECONTEXTO_AVATAR_SIZE)")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "", "redis address for the redis avatar store (env: LIVECONTEXTO_REDIS_ADDR)")
	fs.StringVar(&cfg.redisPassword, "redis-password", "", "redis password (env: LIVECONTEXTO_REDIS_PASSWORD)")
	fs.IntVar(&cfg.redisDB, "redis-db", 0, "redis database number (env: LIVECONTEXTO_REDIS_DB)")
	fs.StringVar(&cfg.redisPrefix, "redis-prefix", "livecontexto:avatar", "redis key prefix (env: LIVECONTEXTO_REDIS_PREFIX)")
	fs.DurationVar(&cfg.redisTTL, "redis-ttl", 24*time.Hour, "expiry of redis avatar entries, 0 to keep forever (env: LIVECONTEXTO_REDIS_TTL)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("livecontexto v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
