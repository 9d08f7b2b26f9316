/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package message defines every event sent to observers. Each carries its
// type name and a unix timestamp in seconds.
package message

import "time"

const (
	TypeSystem            = "system"
	TypeStatus            = "status"
	TypeError             = "error"
	TypeGameStart         = "game_start"
	TypeGameState         = "game_state"
	TypeGuessNotification = "guess_notification"
	TypeAlreadyGuessed    = "already_guessed"
	TypeGuessUpdate       = "guess_update"
	TypeWinner            = "winner"
	TypeHint              = "hint"
	TypeFollow            = "follow"
	TypeShare             = "share"
)

// Clock is swapped out in tests.
var Clock = time.Now

func now() float64 {
	return float64(Clock().UnixMicro()) / 1e6
}

// Guess is one entry of the guesses mapping, keyed by word.
type Guess struct {
	Distance  int     `json:"distance"`
	User      string  `json:"user"`
	UserID    string  `json:"user_id"`
	AvatarURL *string `json:"avatar_url"`
}

type LeaderboardEntry struct {
	Word      string  `json:"word"`
	User      string  `json:"user"`
	Distance  int     `json:"distance"`
	AvatarURL *string `json:"avatar_url"`
}

type System struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

type Status struct {
	Type      string  `json:"type"`
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

type Error struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

type GameStart struct {
	Type       string  `json:"type"`
	GameNumber int     `json:"game_number"`
	Timestamp  float64 `json:"timestamp"`
}

// GameState is sent once to each new observer.
type GameState struct {
	Type       string           `json:"type"`
	GameNumber int              `json:"game_number"`
	Guesses    map[string]Guess `json:"guesses"`
	Timestamp  float64          `json:"timestamp"`
}

// GuessNotification and AlreadyGuessed share a shape; only Type differs.
type GuessNotification struct {
	Type      string  `json:"type"`
	User      string  `json:"user"`
	Word      string  `json:"word"`
	Distance  int     `json:"distance"`
	AvatarURL *string `json:"avatar_url"`
	Timestamp float64 `json:"timestamp"`
}

type GuessUpdate struct {
	Type      string           `json:"type"`
	Guesses   map[string]Guess `json:"guesses"`
	Timestamp float64          `json:"timestamp"`
}

type Winner struct {
	Type        string             `json:"type"`
	Word        string             `json:"word"`
	User        string             `json:"user"`
	AvatarURL   *string            `json:"avatar_url"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Timestamp   float64            `json:"timestamp"`
}

type Hint struct {
	Type      string  `json:"type"`
	Word      string  `json:"word"`
	Distance  int     `json:"distance"`
	Gifter    string  `json:"gifter"`
	Timestamp float64 `json:"timestamp"`
}

type Follow struct {
	Type      string  `json:"type"`
	User      string  `json:"user"`
	AvatarURL *string `json:"avatar_url"`
	Timestamp float64 `json:"timestamp"`
}

type Share struct {
	Type      string  `json:"type"`
	User      string  `json:"user"`
	Timestamp float64 `json:"timestamp"`
}

// Avatar converts an optional avatar into its wire form, where a missing
// avatar is null.
func Avatar(url string) *string {
	if url == "" {
		return nil
	}

	return &url
}

func NewSystem(msg string) System {
	return System{Type: TypeSystem, Message: msg, Timestamp: now()}
}

func NewStatus(status, msg string) Status {
	return Status{Type: TypeStatus, Status: status, Message: msg, Timestamp: now()}
}

func NewError(msg string) Error {
	return Error{Type: TypeError, Message: msg, Timestamp: now()}
}

func NewGameStart(gameNumber int) GameStart {
	return GameStart{Type: TypeGameStart, GameNumber: gameNumber, Timestamp: now()}
}

func NewGameState(gameNumber int, guesses map[string]Guess) GameState {
	if guesses == nil {
		guesses = map[string]Guess{}
	}

	return GameState{Type: TypeGameState, GameNumber: gameNumber, Guesses: guesses, Timestamp: now()}
}

func NewGuessNotification(user, word string, distance int, avatarURL string) GuessNotification {
	return GuessNotification{
		Type:      TypeGuessNotification,
		User:      user,
		Word:      word,
		Distance:  distance,
		AvatarURL: Avatar(avatarURL),
		Timestamp: now(),
	}
}

func NewAlreadyGuessed(user, word string, distance int, avatarURL string) GuessNotification {
	n := NewGuessNotification(user, word, distance, avatarURL)
	n.Type = TypeAlreadyGuessed

	return n
}

func NewGuessUpdate(guesses map[string]Guess) GuessUpdate {
	if guesses == nil {
		guesses = map[string]Guess{}
	}

	return GuessUpdate{Type: TypeGuessUpdate, Guesses: guesses, Timestamp: now()}
}

func NewWinner(word, user, avatarURL string, leaderboard []LeaderboardEntry) Winner {
	if leaderboard == nil {
		leaderboard = []LeaderboardEntry{}
	}

	return Winner{
		Type:        TypeWinner,
		Word:        word,
		User:        user,
		AvatarURL:   Avatar(avatarURL),
		Leaderboard: leaderboard,
		Timestamp:   now(),
	}
}

func NewHint(word string, distance int, gifter string) Hint {
	return Hint{Type: TypeHint, Word: word, Distance: distance, Gifter: gifter, Timestamp: now()}
}

func NewFollow(user, avatarURL string) Follow {
	return Follow{Type: TypeFollow, User: user, AvatarURL: Avatar(avatarURL), Timestamp: now()}
}

func NewShare(user string) Share {
	return Share{Type: TypeShare, User: user, Timestamp: now()}
}

// Control is an inbound command from an observer.
type Control struct {
	Action   string `json:"action"`
	Username string `json:"username,omitempty"`
}

const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionResetGame  = "reset_game"
	ActionFreeHint   = "free_hint"
)
