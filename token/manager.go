package token

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultStorageKey is the change-notification key the manager listens
	// on when the caller has not configured one.
	DefaultStorageKey = "goidx-tokens"

	// DefaultExpireEarly is how long before nominal expiry a token is
	// treated as expired, absorbing clock skew and renewal latency.
	DefaultExpireEarly = 30 * time.Second

	// DefaultUnreliableSyncDelay is the reconciliation delay applied when
	// the watcher reports unreliable delivery and no delay is configured.
	DefaultUnreliableSyncDelay = time.Second

	renewThrottleAttempts = 10
	renewThrottleWindow   = 30 * time.Second
)

// Config controls the manager's lifecycle behavior.
type Config struct {
	// StorageKey is the key change notifications are filtered on. Must
	// match the adapter's notification key. Defaults to DefaultStorageKey.
	StorageKey string

	// AutoRenew renews tokens when their expiry timer fires. Renewal
	// failures surface only through error events.
	AutoRenew bool

	// AutoRemove removes tokens on expiry when AutoRenew is off.
	AutoRemove bool

	// ExpireEarly shifts expiry handling earlier than the token's nominal
	// ExpiresAt. Defaults to DefaultExpireEarly when zero.
	ExpireEarly time.Duration

	// SyncStorage enables cross-context reconciliation through the Watcher.
	SyncStorage bool

	// SyncDelay postpones reconciliation after a change notification. Zero
	// means immediate, unless the watcher is unreliable (see
	// DefaultUnreliableSyncDelay).
	SyncDelay time.Duration
}

// Deps are the collaborators a Manager consumes.
type Deps struct {
	Storage   Storage
	Transport Transport
	Clock     Clock   // SystemClock() when nil
	Watcher   Watcher // required only when Config.SyncStorage is set
}

// SetCallbacks are optional per-kind hooks invoked by SetTokens after the
// storage write, alongside the corresponding events.
type SetCallbacks struct {
	OnAdded   func(Kind, *Token)
	OnRemoved func(Kind, *Token)
}

// Manager owns token storage plus the process-local lifecycle state: expiry
// timers, in-flight renewals, and the renewal throttle window. At most one
// pending timer and one in-flight renewal exist per storage key; every
// mutation path goes through the same clear-then-set discipline.
type Manager struct {
	cfg       Config
	clock     Clock
	storage   Storage
	transport Transport
	watcher   Watcher
	events    emitter

	mu           sync.Mutex
	expireTimers map[string]Timer
	closed       bool
	watchCancel  context.CancelFunc

	renewGroup singleflight.Group

	throttleMu    sync.Mutex
	renewAttempts []time.Time
}

// NewManager allocates a manager. No storage I/O happens until Start.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Storage == nil {
		return nil, errors.New("token: Deps.Storage is required")
	}
	if cfg.SyncStorage && deps.Watcher == nil {
		return nil, errors.New("token: Config.SyncStorage requires Deps.Watcher")
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = DefaultStorageKey
	}
	if cfg.ExpireEarly == 0 {
		cfg.ExpireEarly = DefaultExpireEarly
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}

	m := &Manager{
		cfg:          cfg,
		clock:        clock,
		storage:      deps.Storage,
		transport:    deps.Transport,
		watcher:      deps.Watcher,
		expireTimers: make(map[string]Timer),
	}

	// Expiry handling is wired at construction so callers cannot observe a
	// window where timers fire with nobody listening.
	m.events.subscribe(EventExpired, m.onExpired)

	return m, nil
}

// Start schedules expiry timers for tokens already in storage and, when
// configured, begins consuming cross-context change notifications.
func (m *Manager) Start(ctx context.Context) error {
	mapping, err := m.storage.GetStorage(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for key, tok := range mapping {
		m.scheduleExpiryLocked(key, tok)
	}
	m.mu.Unlock()

	if m.cfg.SyncStorage && m.watcher != nil {
		watchCtx, cancel := context.WithCancel(context.Background())
		ch, err := m.watcher.Watch(watchCtx)
		if err != nil {
			cancel()
			return err
		}
		m.mu.Lock()
		m.watchCancel = cancel
		m.mu.Unlock()
		go m.watchLoop(ch)
	}
	return nil
}

// Close stops the watcher and cancels every pending expiry timer.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel := m.watchCancel
	m.clearAllTimersLocked()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Subscribe registers a handler for one event type and returns a
// subscription id for Unsubscribe.
func (m *Manager) Subscribe(t EventType, h Handler) int {
	return m.events.subscribe(t, h)
}

// Unsubscribe removes a handler previously registered for t.
func (m *Manager) Unsubscribe(t EventType, id int) {
	m.events.unsubscribe(t, id)
}

// HasExpired reports whether tok is inside the early-expiry horizon.
func (m *Manager) HasExpired(tok *Token) bool {
	if tok == nil {
		return true
	}
	return m.clock.Now().Unix()+int64(m.cfg.ExpireEarly/time.Second) >= tok.ExpiresAt
}

// Add validates and stores a token under key, emits an added event, and
// (re)schedules its expiry timer. Invalid tokens are rejected before any
// storage write.
func (m *Manager) Add(ctx context.Context, key string, tok *Token) error {
	if err := tok.Validate(); err != nil {
		return err
	}
	mapping, err := m.storage.GetStorage(ctx)
	if err != nil {
		return err
	}
	mapping[key] = tok
	if err := m.storage.SetStorage(ctx, mapping); err != nil {
		return err
	}

	m.mu.Lock()
	m.scheduleExpiryLocked(key, tok)
	m.mu.Unlock()

	m.events.emit(Event{Type: EventAdded, Key: key, Token: tok})
	return nil
}

// Get returns the token stored under key, or nil when absent.
func (m *Manager) Get(ctx context.Context, key string) (*Token, error) {
	mapping, err := m.storage.GetStorage(ctx)
	if err != nil {
		return nil, err
	}
	return mapping[key], nil
}

// GetTokens assembles the current token set by kind. Caller-overridden keys
// are honored by scanning storage for a token of each kind.
func (m *Manager) GetTokens(ctx context.Context) (*Bag, error) {
	mapping, err := m.storage.GetStorage(ctx)
	if err != nil {
		return nil, err
	}
	bag := &Bag{}
	for _, kind := range Kinds {
		if _, tok := findKind(mapping, kind); tok != nil {
			bag.Set(tok)
		}
	}
	return bag, nil
}

// Remove clears the key's expiry timer, deletes it from storage, and emits
// a removed event carrying the removed value. Removing an absent key only
// clears the timer.
func (m *Manager) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	m.clearExpiryLocked(key)
	m.mu.Unlock()

	mapping, err := m.storage.GetStorage(ctx)
	if err != nil {
		return err
	}
	removed := mapping[key]
	if removed == nil {
		return nil
	}
	delete(mapping, key)
	if err := m.storage.SetStorage(ctx, mapping); err != nil {
		return err
	}
	m.events.emit(Event{Type: EventRemoved, Key: key, Token: removed})
	return nil
}

// SetTokens atomically replaces the full id/access/refresh set with one
// storage write, then emits per-kind added/removed events (and invokes the
// optional callbacks) by diffing against the previous set. A kind whose
// serialized value is unchanged emits nothing.
func (m *Manager) SetTokens(ctx context.Context, bag *Bag, callbacks *SetCallbacks) error {
	for _, kind := range Kinds {
		if tok := bag.Get(kind); tok != nil {
			if err := tok.Validate(); err != nil {
				return err
			}
		}
	}

	before, err := m.storage.GetStorage(ctx)
	if err != nil {
		return err
	}

	after := make(map[string]*Token)
	for _, kind := range Kinds {
		tok := bag.Get(kind)
		if tok == nil {
			continue
		}
		key, _ := findKind(before, kind)
		if key == "" {
			key = DefaultKey(kind)
		}
		after[key] = tok
	}

	if err := m.storage.SetStorage(ctx, after); err != nil {
		return err
	}

	m.mu.Lock()
	m.clearAllTimersLocked()
	for key, tok := range after {
		m.scheduleExpiryLocked(key, tok)
	}
	m.mu.Unlock()

	for _, kind := range Kinds {
		oldKey, oldTok := findKind(before, kind)
		newTok := bag.Get(kind)
		switch {
		case newTok != nil && !sameSerialized(oldTok, newTok):
			newKey, _ := findKind(after, kind)
			m.events.emit(Event{Type: EventAdded, Key: newKey, Token: newTok, OldToken: oldTok})
			if callbacks != nil && callbacks.OnAdded != nil {
				callbacks.OnAdded(kind, newTok)
			}
		case newTok == nil && oldTok != nil:
			m.events.emit(Event{Type: EventRemoved, Key: oldKey, Token: oldTok})
			if callbacks != nil && callbacks.OnRemoved != nil {
				callbacks.OnRemoved(kind, oldTok)
			}
		}
	}
	return nil
}

// Renew re-acquires the token stored under key. Concurrent calls for the
// same key share one in-flight renewal; no duplicate provider call is made.
// Every failure Renew classifies (missing key, throttle, provider failure)
// is emitted as a key-tagged error event before it is returned.
func (m *Manager) Renew(ctx context.Context, key string) (*Token, error) {
	old, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if old == nil {
		kerr := &KeyError{Key: key, Err: ErrTokenNotFound}
		m.events.emit(Event{Type: EventError, Key: key, Err: kerr})
		return nil, kerr
	}

	fresh, err, _ := m.renewGroup.Do(key, func() (any, error) {
		// Attempts are recorded inside the flight, so deduplicated callers
		// consume one throttle slot per provider call, not one per caller.
		if err := m.recordRenewAttempt(); err != nil {
			kerr := &KeyError{Key: key, Err: err}
			m.events.emit(Event{Type: EventError, Key: key, Err: kerr})
			return nil, kerr
		}
		return m.renewToken(ctx, key, old)
	})
	if err != nil {
		return nil, err
	}
	return fresh.(*Token), nil
}

func (m *Manager) renewToken(ctx context.Context, key string, old *Token) (*Token, error) {
	mapping, err := m.storage.GetStorage(ctx)
	if err != nil {
		return nil, err
	}
	refreshKey, refresh := findKind(mapping, KindRefresh)

	var fresh *Token
	if refresh != nil && old.Kind != KindRefresh {
		// Refresh-grant renewal, scoped to the original token's scopes; the
		// matching kind is selected out of the returned set.
		bag, grantErr := m.transport.RefreshGrant(ctx, refresh, old.Scopes)
		if grantErr != nil {
			return nil, m.renewFailed(ctx, key, old, grantErr)
		}
		fresh = bag.Get(old.Kind)
		if fresh == nil {
			return nil, m.renewFailed(ctx, key, old, &KeyError{Key: key, Err: ErrTokenNotFound})
		}
		if rotated := bag.Get(KindRefresh); rotated != nil && !sameSerialized(refresh, rotated) {
			if addErr := m.Add(ctx, refreshKey, rotated); addErr != nil {
				log.Print("goidx: rotated refresh token store failed")
			}
		}
	} else {
		renewed, renewErr := m.transport.RenewToken(ctx, old)
		if renewErr != nil {
			return nil, m.renewFailed(ctx, key, old, renewErr)
		}
		fresh = renewed
	}

	if err := m.Remove(ctx, key); err != nil {
		return nil, err
	}
	if err := m.Add(ctx, key, fresh); err != nil {
		return nil, err
	}
	m.events.emit(Event{Type: EventRenewed, Key: key, Token: fresh, OldToken: old})
	return fresh, nil
}

// renewFailed applies the failure policy. Provider rejections additionally
// remove expired tokens from storage, while tokens still nominally valid
// (most likely removed concurrently by another context) only get a removed
// event. Every failure, provider rejection or not, is tagged with the key
// and surfaced as an error event: for auto-renew that event is the only
// channel the failure reaches listeners on.
func (m *Manager) renewFailed(ctx context.Context, key string, old *Token, cause error) error {
	if IsAuthorizationError(cause) {
		if m.HasExpired(old) {
			if err := m.Remove(ctx, key); err != nil {
				log.Print("goidx: token remove failed after rejected renewal")
			}
		} else {
			m.events.emit(Event{Type: EventRemoved, Key: key, Token: old})
		}
	}
	kerr := &KeyError{Key: key, Err: cause}
	m.events.emit(Event{Type: EventError, Key: key, Err: kerr})
	return kerr
}

// recordRenewAttempt appends to the sliding attempt window and rejects the
// attempt when the last renewThrottleAttempts land inside the throttle
// window. This bounds retry storms from rapid expiry/renew cycles.
func (m *Manager) recordRenewAttempt() error {
	m.throttleMu.Lock()
	defer m.throttleMu.Unlock()

	now := m.clock.Now()
	m.renewAttempts = append(m.renewAttempts, now)
	if len(m.renewAttempts) > renewThrottleAttempts {
		m.renewAttempts = m.renewAttempts[len(m.renewAttempts)-renewThrottleAttempts:]
	}
	if len(m.renewAttempts) == renewThrottleAttempts &&
		now.Sub(m.renewAttempts[0]) < renewThrottleWindow {
		return ErrRenewThrottled
	}
	return nil
}

// onExpired implements the auto-renew / auto-remove policy when an expiry
// timer fires. The renewal's own failure is swallowed here: it reaches
// listeners through the error event instead.
func (m *Manager) onExpired(ev Event) {
	switch {
	case m.cfg.AutoRenew:
		go func() {
			if _, err := m.Renew(context.Background(), ev.Key); err != nil {
				// Renew already emitted an error event for every failure it
				// classifies; anything else (storage I/O) is surfaced here.
				var kerr *KeyError
				if !errors.As(err, &kerr) {
					m.events.emit(Event{Type: EventError, Key: ev.Key, Err: &KeyError{Key: ev.Key, Err: err}})
				}
			}
		}()
	case m.cfg.AutoRemove:
		go func() {
			if err := m.Remove(context.Background(), ev.Key); err != nil {
				log.Print("goidx: auto-remove of expired token failed")
			}
		}()
	}
}

// scheduleExpiryLocked replaces any pending timer for key with one firing at
// the token's early-expiry instant. Callers hold m.mu.
func (m *Manager) scheduleExpiryLocked(key string, tok *Token) {
	if m.closed {
		return
	}
	m.clearExpiryLocked(key)

	remaining := time.Duration(tok.ExpiresAt-m.clock.Now().Unix()) * time.Second
	delay := remaining - m.cfg.ExpireEarly
	if delay < 0 {
		delay = 0
	}
	m.expireTimers[key] = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.expireTimers, key)
		m.mu.Unlock()
		m.events.emit(Event{Type: EventExpired, Key: key, Token: tok})
	})
}

func (m *Manager) clearExpiryLocked(key string) {
	if t := m.expireTimers[key]; t != nil {
		t.Stop()
		delete(m.expireTimers, key)
	}
}

func (m *Manager) clearAllTimersLocked() {
	for key, t := range m.expireTimers {
		t.Stop()
		delete(m.expireTimers, key)
	}
}

func findKind(mapping map[string]*Token, kind Kind) (string, *Token) {
	// Default key first, then scan for caller-overridden keys.
	if tok := mapping[DefaultKey(kind)]; tok != nil && tok.Kind == kind {
		return DefaultKey(kind), tok
	}
	for key, tok := range mapping {
		if tok != nil && tok.Kind == kind {
			return key, tok
		}
	}
	return "", nil
}
