package token

import "context"

// Storage is the durable key-to-token mapping the manager owns. Reads and
// writes are whole-mapping operations; implementations decide durability
// (memory, redis, ...). Writes are last-write-wins: the manager does not
// assume transactional isolation against concurrent external mutation, and
// relies on change notifications to repair its view after the fact.
type Storage interface {
	GetStorage(ctx context.Context) (map[string]*Token, error)
	SetStorage(ctx context.Context, mapping map[string]*Token) error
	ClearStorage(ctx context.Context) error
}

// ChangeEvent reports that the serialized token mapping stored under Key
// changed in another execution context.
type ChangeEvent struct {
	Key      string
	OldValue string
	NewValue string
}

// Watcher delivers external mutations of the shared storage.
type Watcher interface {
	// Watch returns a channel of change events. The channel is closed when
	// ctx is done.
	Watch(ctx context.Context) (<-chan ChangeEvent, error)

	// Unreliable reports whether the underlying medium may deliver change
	// events for this context's own writes or deliver them late; the
	// manager applies a larger default reconciliation delay when true.
	Unreliable() bool
}

// Transport performs the provider calls token renewal needs.
type Transport interface {
	// RefreshGrant exchanges a refresh token for a fresh token set limited
	// to the given scopes.
	RefreshGrant(ctx context.Context, refresh *Token, scopes []string) (*Bag, error)

	// RenewToken re-acquires a single token without a refresh token.
	RenewToken(ctx context.Context, tok *Token) (*Token, error)
}
