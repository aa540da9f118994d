// Package authz implements the Authorizer: a flat bearer-token
// allow-list checked in constant time. It is the one place in the service
// allowed to look at a raw token; it never logs the value it was given.
package authz

import (
	"crypto/subtle"

	"github.com/cryptolab/rune-vault/internal/vaulterr"
)

// Authorizer holds the configured token allow-list. It is immutable after
// construction and safe for concurrent use from both transports.
type Authorizer struct {
	tokens [][]byte
}

// New builds an Authorizer from the configured allow-list. The process must
// refuse to start with an empty list; callers enforce that before calling
// New (an Authorizer with no tokens rejects every request, silently).
func New(tokens []string) *Authorizer {
	a := &Authorizer{tokens: make([][]byte, len(tokens))}
	for i, t := range tokens {
		a.tokens[i] = []byte(t)
	}
	return a
}

// Check compares token against every entry in the allow-list using
// crypto/subtle and combines the results without branching on a match, so
// neither the number of configured tokens nor which one matched is
// observable through timing. A single Unauthorized covers "missing",
// "malformed", and "not on the list" alike; the caller never learns which.
func (a *Authorizer) Check(token string) error {
	tb := []byte(token)
	var matched int
	for _, candidate := range a.tokens {
		// ConstantTimeCompare returns 0 outright on a length mismatch, which
		// leaks nothing secret (candidate lengths are configuration, not
		// attacker-controlled); every candidate is still compared in full
		// regardless of earlier matches, so position in the list isn't
		// observable either.
		matched |= subtle.ConstantTimeCompare(tb, candidate)
	}
	if matched == 1 {
		return nil
	}
	return &vaulterr.Unauthorized{}
}
