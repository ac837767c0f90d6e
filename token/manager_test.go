package token

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock drives timers manually so expiry behavior is deterministic.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	f        func()
	stopped  bool
	fired    bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

// Advance moves the clock and fires every due, unstopped timer.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.deadline.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

type memStorage struct {
	mu sync.Mutex
	m  map[string]*Token
}

func newMemStorage() *memStorage {
	return &memStorage{m: map[string]*Token{}}
}

func (s *memStorage) GetStorage(context.Context) (map[string]*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Token, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out, nil
}

func (s *memStorage) SetStorage(_ context.Context, mapping map[string]*Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[string]*Token, len(mapping))
	for k, v := range mapping {
		s.m[k] = v
	}
	return nil
}

func (s *memStorage) ClearStorage(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = map[string]*Token{}
	return nil
}

type fakeTransport struct {
	mu          sync.Mutex
	renewCalls  int
	grantCalls  int
	grantScopes []string
	renewErr    error
	renewResult *Token
	grantResult *Bag
	gate        chan struct{}
}

func (t *fakeTransport) RenewToken(_ context.Context, tok *Token) (*Token, error) {
	t.mu.Lock()
	t.renewCalls++
	gate := t.gate
	t.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if t.renewErr != nil {
		return nil, t.renewErr
	}
	if t.renewResult != nil {
		return t.renewResult, nil
	}
	fresh := *tok
	fresh.Value = tok.Value + "-renewed"
	return &fresh, nil
}

func (t *fakeTransport) RefreshGrant(_ context.Context, _ *Token, scopes []string) (*Bag, error) {
	t.mu.Lock()
	t.grantCalls++
	t.grantScopes = scopes
	t.mu.Unlock()
	if t.renewErr != nil {
		return nil, t.renewErr
	}
	return t.grantResult, nil
}

func (t *fakeTransport) renews() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.renewCalls
}

func accessToken(value string, expiresAt int64) *Token {
	return &Token{Kind: KindAccess, Value: value, ExpiresAt: expiresAt, Scopes: []string{"openid"}}
}

func newTestManager(t *testing.T, cfg Config, deps Deps) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	if deps.Clock == nil {
		deps.Clock = clock
	}
	if deps.Storage == nil {
		deps.Storage = newMemStorage()
	}
	m, err := NewManager(cfg, deps)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m, clock
}

func collect(m *Manager, types ...EventType) *eventLog {
	log := &eventLog{ch: make(chan Event, 64)}
	for _, typ := range types {
		m.Subscribe(typ, func(ev Event) { log.ch <- ev })
	}
	return log
}

type eventLog struct {
	ch chan Event
}

func (l *eventLog) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-l.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func (l *eventLog) empty() bool {
	select {
	case <-l.ch:
		return false
	default:
		return true
	}
}

func TestAddGetRemoveRoundtrip(t *testing.T) {
	m, clock := newTestManager(t, Config{}, Deps{})
	log := collect(m, EventAdded, EventRemoved)
	ctx := context.Background()

	tok := accessToken("at-1", clock.Now().Unix()+3600)
	if err := m.Add(ctx, "accessToken", tok); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if ev := log.next(t); ev.Type != EventAdded || ev.Key != "accessToken" {
		t.Fatalf("unexpected event %+v", ev)
	}

	got, err := m.Get(ctx, "accessToken")
	if err != nil || got == nil || got.Value != "at-1" {
		t.Fatalf("Get returned %+v, %v", got, err)
	}

	if err := m.Remove(ctx, "accessToken"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if ev := log.next(t); ev.Type != EventRemoved || ev.Token.Value != "at-1" {
		t.Fatalf("unexpected event %+v", ev)
	}

	got, err = m.Get(ctx, "accessToken")
	if err != nil || got != nil {
		t.Fatalf("expected nil after remove, got %+v, %v", got, err)
	}
}

func TestRemoveAbsentKeyEmitsNothing(t *testing.T) {
	m, _ := newTestManager(t, Config{}, Deps{})
	log := collect(m, EventRemoved)

	if err := m.Remove(context.Background(), "accessToken"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !log.empty() {
		t.Fatal("removed event for absent key")
	}
}

func TestAddRejectsInvalidToken(t *testing.T) {
	m, _ := newTestManager(t, Config{}, Deps{})
	ctx := context.Background()

	cases := []*Token{
		nil,
		{Kind: "sessionToken", Value: "x", Scopes: []string{}},
		{Kind: KindAccess, Value: "", Scopes: []string{}},
		{Kind: KindAccess, Value: "x", Scopes: nil},
		{Kind: KindAccess, Value: "x", Scopes: []string{}, ExpiresAt: -1},
	}
	for i, tok := range cases {
		if err := m.Add(ctx, "k", tok); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("case %d: expected ErrTokenInvalid, got %v", i, err)
		}
	}
	if got, _ := m.Get(ctx, "k"); got != nil {
		t.Fatal("invalid token reached storage")
	}
}

func TestHasExpiredBoundary(t *testing.T) {
	m, clock := newTestManager(t, Config{ExpireEarly: 30 * time.Second}, Deps{})
	now := clock.Now().Unix()

	if !m.HasExpired(accessToken("x", now+30)) {
		t.Fatal("token at the early-expiry boundary should be expired")
	}
	if m.HasExpired(accessToken("x", now+31)) {
		t.Fatal("token past the boundary should not be expired")
	}
	if !m.HasExpired(nil) {
		t.Fatal("nil token should count as expired")
	}
}

func TestExpiryTimerAutoRemoves(t *testing.T) {
	m, clock := newTestManager(t, Config{AutoRemove: true}, Deps{})
	log := collect(m, EventExpired, EventRemoved)
	ctx := context.Background()

	tok := accessToken("at-1", clock.Now().Unix()+120)
	if err := m.Add(ctx, "accessToken", tok); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Timer fires ExpireEarly before nominal expiry.
	clock.Advance(120 * time.Second)

	if ev := log.next(t); ev.Type != EventExpired {
		t.Fatalf("expected expired event, got %+v", ev)
	}
	if ev := log.next(t); ev.Type != EventRemoved {
		t.Fatalf("expected removed event, got %+v", ev)
	}
	if got, _ := m.Get(ctx, "accessToken"); got != nil {
		t.Fatal("expired token not removed")
	}
}

func TestExpiryTimerAutoRenews(t *testing.T) {
	transport := &fakeTransport{}
	m, clock := newTestManager(t, Config{AutoRenew: true}, Deps{Transport: transport})
	log := collect(m, EventRenewed)
	ctx := context.Background()

	if err := m.Add(ctx, "accessToken", accessToken("at-1", clock.Now().Unix()+120)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	clock.Advance(120 * time.Second)

	ev := log.next(t)
	if ev.Token.Value != "at-1-renewed" || ev.OldToken.Value != "at-1" {
		t.Fatalf("unexpected renewed event %+v", ev)
	}
	if got, _ := m.Get(ctx, "accessToken"); got == nil || got.Value != "at-1-renewed" {
		t.Fatalf("renewed token not stored: %+v", got)
	}
}

func TestExpiryTimerAutoRenewFailureEmitsErrorEvent(t *testing.T) {
	// A plain transport failure, not a provider rejection.
	transport := &fakeTransport{renewErr: errors.New("connection refused")}
	m, clock := newTestManager(t, Config{AutoRenew: true}, Deps{Transport: transport})
	log := collect(m, EventError)
	ctx := context.Background()

	if err := m.Add(ctx, "accessToken", accessToken("at-1", clock.Now().Unix()+120)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	clock.Advance(120 * time.Second)

	ev := log.next(t)
	var kerr *KeyError
	if !errors.As(ev.Err, &kerr) || kerr.Key != "accessToken" {
		t.Fatalf("expected key-tagged error event, got %+v", ev)
	}
	if IsAuthorizationError(ev.Err) {
		t.Fatalf("transport failure misclassified as authorization error: %v", ev.Err)
	}
	if transport.renews() != 1 {
		t.Fatalf("expected 1 renewal attempt, got %d", transport.renews())
	}
	// Not a rejection: the stored token is left alone.
	if got, _ := m.Get(ctx, "accessToken"); got == nil || got.Value != "at-1" {
		t.Fatalf("token mutated after transport failure: %+v", got)
	}
}

func TestRenewMissingKey(t *testing.T) {
	m, _ := newTestManager(t, Config{}, Deps{Transport: &fakeTransport{}})

	_, err := m.Renew(context.Background(), "accessToken")
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
	var kerr *KeyError
	if !errors.As(err, &kerr) || kerr.Key != "accessToken" {
		t.Fatalf("expected key-tagged error, got %v", err)
	}
}

func TestRenewDeduplicatesConcurrentCalls(t *testing.T) {
	gate := make(chan struct{})
	transport := &fakeTransport{gate: gate}
	m, clock := newTestManager(t, Config{}, Deps{Transport: transport})
	ctx := context.Background()

	if err := m.Add(ctx, "accessToken", accessToken("at-1", clock.Now().Unix()+3600)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	const callers = 4
	results := make(chan *Token, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			tok, err := m.Renew(ctx, "accessToken")
			results <- tok
			errs <- err
		}()
	}

	// Let every caller join the in-flight renewal before it completes.
	time.Sleep(100 * time.Millisecond)
	close(gate)

	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
		if tok := <-results; tok == nil || tok.Value != "at-1-renewed" {
			t.Fatalf("caller %d got %+v", i, tok)
		}
	}
	if got := transport.renews(); got != 1 {
		t.Fatalf("expected 1 provider call, got %d", got)
	}
	// The shared flight consumed a single throttle slot, not one per caller.
	m.throttleMu.Lock()
	attempts := len(m.renewAttempts)
	m.throttleMu.Unlock()
	if attempts != 1 {
		t.Fatalf("expected 1 recorded renewal attempt, got %d", attempts)
	}
}

func TestRenewThrottledAfterRapidAttempts(t *testing.T) {
	transport := &fakeTransport{}
	m, clock := newTestManager(t, Config{}, Deps{Transport: transport})
	log := collect(m, EventError)
	ctx := context.Background()

	if err := m.Add(ctx, "accessToken", accessToken("at-1", clock.Now().Unix()+86400)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	for i := 0; i < renewThrottleAttempts-1; i++ {
		if _, err := m.Renew(ctx, "accessToken"); err != nil {
			t.Fatalf("attempt %d failed early: %v", i, err)
		}
	}
	_, err := m.Renew(ctx, "accessToken")
	if !errors.Is(err, ErrRenewThrottled) {
		t.Fatalf("expected throttle on attempt %d, got %v", renewThrottleAttempts, err)
	}
	if ev := log.next(t); !errors.Is(ev.Err, ErrRenewThrottled) {
		t.Fatalf("expected throttled error event, got %+v", ev)
	}
}

func TestRenewNotThrottledWhenSpaced(t *testing.T) {
	transport := &fakeTransport{}
	m, clock := newTestManager(t, Config{}, Deps{Transport: transport})
	ctx := context.Background()

	if err := m.Add(ctx, "accessToken", accessToken("at-1", clock.Now().Unix()+86400)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	for i := 0; i < renewThrottleAttempts+2; i++ {
		clock.Advance(4 * time.Second)
		if _, err := m.Renew(ctx, "accessToken"); err != nil {
			t.Fatalf("spaced attempt %d throttled: %v", i, err)
		}
	}
}

func TestRenewProviderRejectionOfExpiredTokenRemoves(t *testing.T) {
	transport := &fakeTransport{renewErr: &AuthorizationError{Code: "invalid_grant"}}
	m, clock := newTestManager(t, Config{}, Deps{Transport: transport})
	log := collect(m, EventRemoved, EventError)
	ctx := context.Background()

	// Already inside the early-expiry horizon when the provider rejects it.
	if err := m.Add(ctx, "accessToken", accessToken("at-1", clock.Now().Unix()+10)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	_, err := m.Renew(ctx, "accessToken")
	if !IsAuthorizationError(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if got, _ := m.Get(ctx, "accessToken"); got != nil {
		t.Fatal("rejected expired token should be removed from storage")
	}
	if ev := log.next(t); ev.Type != EventRemoved {
		t.Fatalf("expected removed event, got %+v", ev)
	}
	if ev := log.next(t); ev.Type != EventError || !IsAuthorizationError(ev.Err) {
		t.Fatalf("expected error event, got %+v", ev)
	}
}

func TestRenewProviderRejectionOfLiveTokenKeepsStorage(t *testing.T) {
	transport := &fakeTransport{renewErr: &AuthorizationError{Code: "invalid_grant"}}
	m, clock := newTestManager(t, Config{}, Deps{Transport: transport})
	log := collect(m, EventRemoved)
	ctx := context.Background()

	if err := m.Add(ctx, "accessToken", accessToken("at-1", clock.Now().Unix()+3600)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	_, err := m.Renew(ctx, "accessToken")
	if !IsAuthorizationError(err) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	// The removed event fires so subscribers learn the token is unusable,
	// but storage keeps it: another context may have replaced it already.
	if ev := log.next(t); ev.Type != EventRemoved || ev.Token.Value != "at-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if got, _ := m.Get(ctx, "accessToken"); got == nil {
		t.Fatal("live token must stay in storage after rejection")
	}
}

func TestRenewViaRefreshGrant(t *testing.T) {
	clock := newFakeClock()
	now := clock.Now().Unix()
	fresh := accessToken("at-2", now+3600)
	rotated := &Token{Kind: KindRefresh, Value: "rt-2", ExpiresAt: now + 86400, Scopes: []string{"openid"}}
	transport := &fakeTransport{grantResult: &Bag{Access: fresh, Refresh: rotated}}

	m, _ := newTestManager(t, Config{}, Deps{Transport: transport, Clock: clock})
	ctx := context.Background()

	if err := m.Add(ctx, "accessToken", &Token{Kind: KindAccess, Value: "at-1", ExpiresAt: now + 60, Scopes: []string{"openid", "email"}}); err != nil {
		t.Fatalf("Add access failed: %v", err)
	}
	if err := m.Add(ctx, "refreshToken", &Token{Kind: KindRefresh, Value: "rt-1", ExpiresAt: now + 86400, Scopes: []string{"openid"}}); err != nil {
		t.Fatalf("Add refresh failed: %v", err)
	}

	got, err := m.Renew(ctx, "accessToken")
	if err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	if got.Value != "at-2" {
		t.Fatalf("unexpected renewed token %+v", got)
	}
	if transport.grantCalls != 1 || transport.renewCalls != 0 {
		t.Fatalf("expected refresh grant path, got grants=%d renews=%d", transport.grantCalls, transport.renewCalls)
	}
	// Scoped to the original token's scopes, not the refresh token's.
	if len(transport.grantScopes) != 2 || transport.grantScopes[0] != "openid" {
		t.Fatalf("unexpected grant scopes %v", transport.grantScopes)
	}
	if stored, _ := m.Get(ctx, "refreshToken"); stored == nil || stored.Value != "rt-2" {
		t.Fatalf("rotated refresh token not stored: %+v", stored)
	}
}

func TestSetTokensDiffsPerKind(t *testing.T) {
	m, clock := newTestManager(t, Config{}, Deps{})
	ctx := context.Background()
	now := clock.Now().Unix()

	first := &Bag{
		Access: accessToken("at-1", now+3600),
		ID:     &Token{Kind: KindID, Value: "id-1", ExpiresAt: now + 3600, Scopes: []string{"openid"}},
	}
	if err := m.SetTokens(ctx, first, nil); err != nil {
		t.Fatalf("SetTokens failed: %v", err)
	}

	var added, removed []Kind
	callbacks := &SetCallbacks{
		OnAdded:   func(k Kind, _ *Token) { added = append(added, k) },
		OnRemoved: func(k Kind, _ *Token) { removed = append(removed, k) },
	}

	// Replace the access token, keep the id token, drop nothing.
	second := &Bag{
		Access: accessToken("at-2", now+7200),
		ID:     first.ID,
	}
	if err := m.SetTokens(ctx, second, callbacks); err != nil {
		t.Fatalf("SetTokens failed: %v", err)
	}
	if len(added) != 1 || added[0] != KindAccess {
		t.Fatalf("expected access added only, got %v", added)
	}
	if len(removed) != 0 {
		t.Fatalf("expected nothing removed, got %v", removed)
	}

	// Drop the id token.
	added, removed = nil, nil
	third := &Bag{Access: second.Access}
	if err := m.SetTokens(ctx, third, callbacks); err != nil {
		t.Fatalf("SetTokens failed: %v", err)
	}
	if len(added) != 0 {
		t.Fatalf("unchanged access reported as added: %v", added)
	}
	if len(removed) != 1 || removed[0] != KindID {
		t.Fatalf("expected id removed, got %v", removed)
	}

	bag, err := m.GetTokens(ctx)
	if err != nil {
		t.Fatalf("GetTokens failed: %v", err)
	}
	if bag.ID != nil || bag.Access == nil || bag.Access.Value != "at-2" {
		t.Fatalf("unexpected final bag %+v", bag)
	}
}

func TestSetTokensRejectsInvalidMember(t *testing.T) {
	m, _ := newTestManager(t, Config{}, Deps{})
	bag := &Bag{Access: &Token{Kind: KindAccess, Value: "", Scopes: []string{}}}
	if err := m.SetTokens(context.Background(), bag, nil); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestCloseStopsTimers(t *testing.T) {
	m, clock := newTestManager(t, Config{AutoRemove: true}, Deps{})
	log := collect(m, EventExpired)
	ctx := context.Background()

	if err := m.Add(ctx, "accessToken", accessToken("at-1", clock.Now().Unix()+120)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	m.Close()
	clock.Advance(time.Hour)

	if !log.empty() {
		t.Fatal("timer fired after Close")
	}
}
