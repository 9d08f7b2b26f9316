/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package words turns raw chat text into candidate guesses.
package words

import (
	"fmt"
	"strings"
	"unicode"
)

// Policy decides which part of a comment is considered the guess.
type Policy int

const (
	// SingleToken rejects anything that is not exactly one word.
	SingleToken Policy = iota
	// FirstToken keeps the first word of the first sentence.
	FirstToken
)

const minLength = 2

func (p Policy) String() string {
	switch p {
	case SingleToken:
		return "single"
	case FirstToken:
		return "first"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration value onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single":
		return SingleToken, nil
	case "first":
		return FirstToken, nil
	default:
		return SingleToken, fmt.Errorf("invalid word policy %q (must be one of: single, first)", s)
	}
}

type Normalizer struct {
	Policy Policy
}

// Normalize returns the lowercase ASCII word contained in raw, or false
// if raw does not hold an acceptable guess.
func (n Normalizer) Normalize(raw string) (string, bool) {
	text := strings.TrimSpace(raw)

	var token string
	switch n.Policy {
	case FirstToken:
		if i := strings.IndexAny(text, ".!?"); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			return "", false
		}
		token = fields[0]
	default:
		fields := strings.Fields(text)
		if len(fields) != 1 {
			return "", false
		}
		token = fields[0]
	}

	var b strings.Builder
	b.Grow(len(token))

	for _, r := range token {
		if unicode.IsDigit(r) {
			return "", false
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(unicode.ToLower(r))
		}
	}

	if b.Len() < minLength {
		return "", false
	}

	return b.String(), true
}
