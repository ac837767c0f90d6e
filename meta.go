package goidx

import "context"

// TransactionMeta is the persisted state that lets a multi-call flow resume
// across invocations and execution contexts. Everything cross-call lives
// here; the client itself holds no per-transaction state.
type TransactionMeta struct {
	// State is the opaque value correlating this transaction end to end.
	State string `json:"state"`

	// InteractionHandle identifies the transaction at the provider.
	InteractionHandle string `json:"interactionHandle"`

	// CodeVerifier is the PKCE verifier supplied by the caller's OAuth
	// layer; it is stored, never generated, here.
	CodeVerifier string `json:"codeVerifier,omitempty"`

	ClientID    string   `json:"clientId,omitempty"`
	RedirectURI string   `json:"redirectUri,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`

	// Flow is the identifier the transaction was started with; a resumed
	// call with a different flow discards this meta and starts fresh.
	Flow FlowIdentifier `json:"flow,omitempty"`

	// SSO marks a transaction begun with an existing-session hint.
	SSO bool `json:"sso,omitempty"`

	// RawResponse caches the last provider response so a resumed call can
	// skip the introspect round trip.
	RawResponse []byte `json:"rawResponse,omitempty"`

	// CompletedActions and CompletedSteps record what the flow's monitor
	// has observed, persisted so monitor state survives resumption.
	CompletedActions []string `json:"completedActions,omitempty"`
	CompletedSteps   []string `json:"completedSteps,omitempty"`
}

// ClearOptions controls how much saved state Clear removes.
type ClearOptions struct {
	// SharedStorage also clears meta visible to other execution contexts.
	// Local-only clearing is used on terminal responses, where siblings may
	// still need the shared handle.
	SharedStorage bool
}

// MetaStore persists TransactionMeta between calls. Implementations decide
// scoping; the redis store keeps a per-instance local slot plus a shared
// slot so concurrent contexts can hand a transaction off.
type MetaStore interface {
	// SavedTransactionMeta returns the stored meta, or nil when none is
	// usable. A non-empty state must match the stored meta's state.
	SavedTransactionMeta(ctx context.Context, state string) (*TransactionMeta, error)

	// SaveTransactionMeta stores meta, replacing any previous value.
	SaveTransactionMeta(ctx context.Context, meta *TransactionMeta) error

	// SaveResponse updates only the cached raw response of the stored meta.
	SaveResponse(ctx context.Context, raw []byte) error

	// Clear removes stored meta per opts.
	Clear(ctx context.Context, opts ClearOptions) error
}
