// Package turn decides which agent answers a user utterance.
//
// An utterance that names a role or a persona is routed to that agent out of
// rotation order; anything else falls back to round-robin over the roster.
package turn

import (
	"strings"
	"unicode/utf8"

	"yuzu/meeting/internal/types"
)

// minWordLen is the length a role word must exceed to count as a reference
// on its own ("VP of Sales" matches on "sales" but not on "of").
const minWordLen = 2

// Decision is the outcome of one scheduling step.
type Decision struct {
	Role      types.Role
	Explicit  bool
	NextIndex int
	Found     bool
}

// SelectResponder returns the first role the text refers to, scanning roles
// in roster order and then persona names in the given order.
func SelectResponder(text string, roles []types.Role, personas []types.Persona) (types.Role, bool) {
	norm := normalize(text)
	if norm == "" {
		return "", false
	}
	for _, r := range roles {
		if refers(norm, string(r)) {
			return r, true
		}
	}
	for _, p := range personas {
		if p.Name == "" {
			continue
		}
		if refers(norm, p.Name) {
			return p.Role, true
		}
	}
	return "", false
}

// Decide combines explicit-reference detection with round-robin fallback.
// index is the current rotation position; an out-of-range index is reduced
// modulo the roster length.
func Decide(text string, roles []types.Role, personas []types.Persona, index int) Decision {
	if len(roles) == 0 {
		return Decision{}
	}
	index = Wrap(index, len(roles))
	if r, ok := SelectResponder(text, roles, personas); ok {
		return Decision{Role: r, Explicit: true, NextIndex: index, Found: true}
	}
	return Decision{Role: roles[index], NextIndex: Wrap(index+1, len(roles)), Found: true}
}

// Wrap maps i into [0, n). n must be positive.
func Wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

func refers(text, name string) bool {
	n := normalize(name)
	if n == "" {
		return false
	}
	if strings.Contains(text, n) {
		return true
	}
	for _, w := range strings.Fields(n) {
		if utf8.RuneCountInString(w) > minWordLen && strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
