/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package ranking talks to the external word-ranking service that scores
// guesses against the hidden word of a round.
package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.contexto.me/machado/en"
	DefaultTimeout = 5 * time.Second

	maxBodySize = 64 << 10
)

var (
	ErrTimeout   = errors.New("ranking service timed out")
	ErrFailure   = errors.New("ranking service request failed")
	ErrMalformed = errors.New("ranking service returned a malformed response")
)

// Distance is the service's verdict on a single word.
type Distance struct {
	Word     string
	Distance int
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
		log:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type distanceResponse struct {
	Distance *int    `json:"distance"`
	Word     *string `json:"word"`
}

type tipResponse struct {
	Word *string `json:"word"`
}

// FetchDistance scores word against round roundID.
func (c *Client) FetchDistance(ctx context.Context, roundID int, word string) (Distance, error) {
	var resp distanceResponse

	path := "/game/" + strconv.Itoa(roundID) + "/" + url.PathEscape(word)
	if err := c.get(ctx, path, &resp); err != nil {
		return Distance{}, err
	}

	if resp.Distance == nil || resp.Word == nil || *resp.Distance < 0 {
		return Distance{}, fmt.Errorf("%w: missing distance or word for %q", ErrMalformed, word)
	}

	return Distance{Word: *resp.Word, Distance: *resp.Distance}, nil
}

// FetchHint asks for the word sitting at the given distance in round roundID.
func (c *Client) FetchHint(ctx context.Context, roundID, distance int) (string, error) {
	var resp tipResponse

	path := "/tip/" + strconv.Itoa(roundID) + "/" + strconv.Itoa(distance)
	if err := c.get(ctx, path, &resp); err != nil {
		return "", err
	}

	if resp.Word == nil || *resp.Word == "" {
		return "", fmt.Errorf("%w: missing tip word", ErrMalformed)
	}

	return *resp.Word, nil
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailure, err)
	}
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.log.Warn().Str("path", path).Dur("timeout", c.timeout).Msg("ranking request timed out")
			return fmt.Errorf("%w: %s", ErrTimeout, path)
		}
		c.log.Warn().Err(err).Str("path", path).Msg("ranking request failed")
		return fmt.Errorf("%w: %w", ErrFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %s", ErrTimeout, path)
		}
		return fmt.Errorf("%w: reading body: %w", ErrFailure, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().
			Int("status", resp.StatusCode).
			Str("path", path).
			Str("body", string(body)).
			Msg("ranking service returned non-OK status")
		return fmt.Errorf("%w: status %d for %s", ErrFailure, resp.StatusCode, path)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	c.log.Debug().
		Str("path", path).
		Dur("latency", time.Since(startTime)).
		Msg("ranking request completed")

	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}
