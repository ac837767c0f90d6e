// Package goidx drives interaction-code ("IDX") authentication conversations
// against an OAuth2/OIDC identity provider and manages the lifecycle of the
// resulting tokens.
//
// Callers supply user-entered values and a desired flow (authenticate,
// register, recover password); the engine interacts with the provider,
// interprets the server's required remediation steps, decides which step the
// supplied values can satisfy, and eventually exchanges the interaction code
// for tokens. Tokens are handed to the token subpackage's Manager, which owns
// expiry timers, deduplicated renewal, renewal throttling, and cross-context
// storage reconciliation.
//
// The package is designed for concurrent use: Client methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goidx is the public surface. It exposes [Client], [Builder], [Config],
// [Transaction], and the collaborator contracts ([Transport], [MetaStore]).
// Step-handler dispatch lives under internal/ and is never exported. Token
// lifecycle management lives in the token subpackage; persistence adapters in
// the storage subpackage.
//
// # What this package must NOT do
//
//   - Perform HTTP itself. All provider calls go through the [Transport] and
//     token.Transport collaborators supplied at build time.
//   - Render UI. Transactions carry NextStep descriptors; presentation is the
//     caller's concern.
//   - Generate PKCE material. The code verifier arrives in [RunOptions] and
//     is persisted with the transaction until code exchange.
package goidx
