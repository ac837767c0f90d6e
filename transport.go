package goidx

import (
	"context"

	"github.com/idxlabs/goidx/token"
)

// InteractRequest starts a new transaction at the provider.
type InteractRequest struct {
	State  string
	Scopes []string

	// SSO asks the provider to honor an existing session instead of
	// prompting for credentials.
	SSO bool
}

// IntrospectRequest fetches the current state of a transaction.
type IntrospectRequest struct {
	InteractionHandle string
	SSO               bool
}

// ExchangeRequest trades an interaction code for tokens.
type ExchangeRequest struct {
	InteractionCode string
	ClientID        string
	CodeVerifier    string
	RedirectURI     string
	Scopes          []string

	// IgnoreSignature skips JWT signature verification on returned tokens;
	// test environments only.
	IgnoreSignature bool
}

// Transport performs the provider round trips. Implementations own HTTP,
// endpoints, and credentials; this library never opens a connection itself.
type Transport interface {
	// Interact begins a transaction and returns its interaction handle.
	Interact(ctx context.Context, req InteractRequest) (string, error)

	// Introspect returns the raw response body for the handle's current
	// state.
	Introspect(ctx context.Context, req IntrospectRequest) ([]byte, error)

	// Proceed submits data to a remediation step and returns the raw body
	// of the resulting state.
	Proceed(ctx context.Context, step *RemediationStep, data map[string]any) ([]byte, error)

	// InvokeAction invokes a named top-level action on the current state.
	InvokeAction(ctx context.Context, resp *Response, name string, params map[string]any) ([]byte, error)

	// ExchangeCode trades the interaction code for a token set.
	ExchangeCode(ctx context.Context, req ExchangeRequest) (*token.Bag, error)
}
