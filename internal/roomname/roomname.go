// Package roomname sanitizes and validates room identifiers shared by
// storage and presence.
package roomname

import "strings"

// MaxLength bounds a sanitized room name.
const MaxLength = 64

// AIDMRoom is the designated local-only room; it is never shared.
const AIDMRoom = "ai-dm"

// Sanitize lowercases the input and keeps only alphanumerics, '-' and
// '_', truncated to MaxLength. An empty result falls back to "general".
func Sanitize(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
		if b.Len() >= MaxLength {
			break
		}
	}
	out := b.String()
	if out == "" {
		return "general"
	}
	return out
}

// IsLocal reports whether room is the local-only ai-dm room.
func IsLocal(room string) bool {
	return Sanitize(room) == AIDMRoom
}
