// Package token stores security tokens and drives their time-based
// lifecycle: expiry scheduling, deduplicated renewal, renewal throttling,
// and reconciliation with concurrent mutations from other execution
// contexts sharing the same storage.
package token

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind discriminates the three token categories the manager handles.
type Kind string

const (
	// KindID is an OpenID Connect ID token.
	KindID Kind = "idToken"
	// KindAccess is an OAuth2 access token.
	KindAccess Kind = "accessToken"
	// KindRefresh is an OAuth2 refresh token.
	KindRefresh Kind = "refreshToken"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{KindID, KindAccess, KindRefresh}

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	return k == KindID || k == KindAccess || k == KindRefresh
}

// DefaultKey is the storage key a token of the given kind lives under when
// the caller has not chosen an override.
func DefaultKey(k Kind) string {
	return string(k)
}

// Token is one stored credential. ExpiresAt is absolute epoch seconds; zero
// means the provider asserted no expiry.
type Token struct {
	Kind      Kind           `json:"kind"`
	Value     string         `json:"value"`
	ExpiresAt int64          `json:"expiresAt"`
	Scopes    []string       `json:"scopes"`
	Issuer    string         `json:"issuer,omitempty"`
	Claims    map[string]any `json:"claims,omitempty"`
}

// Validate checks the shape constraints every stored token must satisfy:
// a recognizable kind, a scope list, and a non-negative expiry.
func (t *Token) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil token", ErrTokenInvalid)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: unrecognized kind %q", ErrTokenInvalid, t.Kind)
	}
	if t.Value == "" {
		return fmt.Errorf("%w: empty value", ErrTokenInvalid)
	}
	if t.Scopes == nil {
		return fmt.Errorf("%w: missing scopes", ErrTokenInvalid)
	}
	if t.ExpiresAt < 0 {
		return fmt.Errorf("%w: negative expiresAt", ErrTokenInvalid)
	}
	return nil
}

func sameSerialized(a, b *Token) bool {
	if a == nil || b == nil {
		return a == b
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Bag groups at most one token of each kind. It is the unit of atomic
// multi-token writes and of exchange / refresh-grant results.
type Bag struct {
	ID      *Token `json:"idToken,omitempty"`
	Access  *Token `json:"accessToken,omitempty"`
	Refresh *Token `json:"refreshToken,omitempty"`
}

// Get returns the bag's token of the given kind, or nil.
func (b *Bag) Get(k Kind) *Token {
	if b == nil {
		return nil
	}
	switch k {
	case KindID:
		return b.ID
	case KindAccess:
		return b.Access
	case KindRefresh:
		return b.Refresh
	}
	return nil
}

// Set stores tok under its kind slot.
func (b *Bag) Set(tok *Token) {
	if tok == nil {
		return
	}
	switch tok.Kind {
	case KindID:
		b.ID = tok
	case KindAccess:
		b.Access = tok
	case KindRefresh:
		b.Refresh = tok
	}
}

// Empty reports whether the bag holds no tokens.
func (b *Bag) Empty() bool {
	return b == nil || (b.ID == nil && b.Access == nil && b.Refresh == nil)
}
