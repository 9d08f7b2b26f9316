/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package live normalizes a livestream's chat events into one canonical
// shape at the boundary, so nothing past it ever inspects raw payloads.
package live

import "context"

// User is a livestream participant. ID is stable across events; Nickname
// is what gets displayed. AvatarURLs may be empty.
type User struct {
	ID         string
	Nickname   string
	AvatarURLs []string
}

// DisplayName falls back to the id for participants with no nickname.
func (u User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}

	return u.ID
}

// Event is implemented by every canonical event kind below.
type Event interface {
	isEvent()
}

type Connected struct {
	UniqueID string
}

type Disconnected struct{}

type Comment struct {
	User User
	Text string
}

// Gift carries a streak flag: a streakable gift emits one event per
// increment while Streaking is true, and a final one when the streak ends.
type Gift struct {
	User       User
	Name       string
	Streakable bool
	Streaking  bool
}

type Follow struct {
	User User
}

type Share struct {
	User User
}

func (Connected) isEvent()    {}
func (Disconnected) isEvent() {}
func (Comment) isEvent()      {}
func (Gift) isEvent()         {}
func (Follow) isEvent()       {}
func (Share) isEvent()        {}

// Sink receives events in the order the source produced them.
type Sink func(Event)

// Source is a connection to a livestream's event feed.
type Source interface {
	// Connect blocks until the feed is established or refused, then
	// delivers events to sink from a background goroutine.
	Connect(ctx context.Context, username string, sink Sink) error
	Disconnect() error
	Connected() bool
}
