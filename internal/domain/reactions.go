package domain

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

const maxEmojiLen = 32

// Reactions maps an emoji to the users currently reacting with it. A user holds at
// most one emoji per message and no emoji maps to an empty set.
type Reactions map[string][]string

func (r Reactions) Clone() Reactions {
	out := make(Reactions, len(r))
	for emoji, users := range r {
		out[emoji] = slices.Clone(users)
	}
	return out
}

// EmojiOf returns the emoji userID is currently reacting with.
func (r Reactions) EmojiOf(userID string) (string, bool) {
	for emoji, users := range r {
		if slices.Contains(users, userID) {
			return emoji, true
		}
	}
	return "", false
}

// Toggle returns the reactions after userID selects emoji. Selecting the active emoji
// removes it; selecting another one replaces it. r is not modified.
func (r Reactions) Toggle(userID, emoji string) Reactions {
	out := r.Clone()
	current, had := out.EmojiOf(userID)
	if had {
		out.remove(current, userID)
	}
	if had && current == emoji {
		return out
	}
	out[emoji] = append(out[emoji], userID)
	return out
}

func (r Reactions) remove(emoji, userID string) {
	users := slices.DeleteFunc(r[emoji], func(u string) bool { return u == userID })
	if len(users) == 0 {
		delete(r, emoji)
		return
	}
	r[emoji] = users
}

// ValidateEmoji rejects values that cannot be stored as a reaction key.
func ValidateEmoji(emoji string) error {
	if emoji == "" || strings.TrimSpace(emoji) != emoji {
		return fmt.Errorf("%w: emoji is required", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(emoji) > maxEmojiLen || strings.ContainsAny(emoji, ".$") {
		return fmt.Errorf("%w: invalid emoji %q", ErrInvalidArgument, emoji)
	}
	return nil
}
