/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownFrame = errors.New("unknown frame type")

// frame is the JSON shape the relay forwards. Every field except Type is
// optional and may be absent depending on the event.
type frame struct {
	Type      string     `json:"type"`
	UniqueID  string     `json:"unique_id,omitempty"`
	User      *frameUser `json:"user,omitempty"`
	Comment   string     `json:"comment,omitempty"`
	Gift      *frameGift `json:"gift,omitempty"`
	Streaking *bool      `json:"streaking,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type frameUser struct {
	UniqueID    string      `json:"unique_id"`
	UserID      string      `json:"user_id,omitempty"`
	Nickname    string      `json:"nickname,omitempty"`
	AvatarThumb *frameImage `json:"avatar_thumb,omitempty"`
}

type frameImage struct {
	URLList []string `json:"url_list"`
}

type frameGift struct {
	Name       string `json:"name"`
	Streakable bool   `json:"streakable"`
}

func (u *frameUser) user() User {
	if u == nil {
		return User{}
	}

	id := u.UniqueID
	if id == "" {
		id = u.UserID
	}

	nickname := u.Nickname
	if nickname == "" {
		nickname = id
	}

	var urls []string
	if u.AvatarThumb != nil {
		for _, url := range u.AvatarThumb.URLList {
			if url = strings.TrimSpace(url); url != "" {
				urls = append(urls, url)
			}
		}
	}

	return User{ID: id, Nickname: nickname, AvatarURLs: urls}
}

// Decode turns one relay frame into a canonical event. Error frames are
// returned as an error carrying the relay's message.
func Decode(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch f.Type {
	case "connect":
		return Connected{UniqueID: strings.TrimPrefix(f.UniqueID, "@")}, nil
	case "disconnect":
		return Disconnected{}, nil
	case "comment":
		return Comment{User: f.User.user(), Text: f.Comment}, nil
	case "gift":
		g := Gift{User: f.User.user(), Streaking: true}
		if f.Gift != nil {
			g.Name = f.Gift.Name
			g.Streakable = f.Gift.Streakable
		}
		if f.Streaking != nil {
			g.Streaking = *f.Streaking
		}
		return g, nil
	case "follow":
		return Follow{User: f.User.user()}, nil
	case "share":
		return Share{User: f.User.user()}, nil
	case "error":
		msg := f.Message
		if msg == "" {
			msg = "relay reported an error"
		}
		return nil, &RelayError{Message: msg}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
}

// RelayError is a failure reported in-band by the relay, such as the
// requested streamer not being live.
type RelayError struct {
	Message string
}

func (e *RelayError) Error() string {
	return e.Message
}
