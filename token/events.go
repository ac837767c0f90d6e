package token

import "sync"

// EventType names the five lifecycle notifications the manager publishes.
type EventType string

const (
	// EventAdded fires after a token is written to storage.
	EventAdded EventType = "added"
	// EventRenewed fires after a successful renewal; OldToken carries the
	// replaced token.
	EventRenewed EventType = "renewed"
	// EventRemoved fires when a token leaves storage (or is observed gone).
	EventRemoved EventType = "removed"
	// EventExpired fires when a token's expiry timer elapses.
	EventExpired EventType = "expired"
	// EventError fires on renewal failures and throttled attempts.
	EventError EventType = "error"
)

// Event is one lifecycle notification. Token and OldToken are set where
// meaningful for the event type; Err is set only for EventError.
type Event struct {
	Type     EventType
	Key      string
	Token    *Token
	OldToken *Token
	Err      error
}

// Handler receives events. Handlers run synchronously on the emitting
// goroutine; subscriber ordering is not guaranteed.
type Handler func(Event)

// emitter is the manager-scoped publish/subscribe fan-out. There is no
// global emitter: each Manager owns exactly one.
type emitter struct {
	mu   sync.Mutex
	next int
	subs map[EventType]map[int]Handler
}

func (e *emitter) subscribe(t EventType, h Handler) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[EventType]map[int]Handler)
	}
	if e.subs[t] == nil {
		e.subs[t] = make(map[int]Handler)
	}
	e.next++
	e.subs[t][e.next] = h
	return e.next
}

func (e *emitter) unsubscribe(t EventType, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs[t], id)
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	handlers := make([]Handler, 0, len(e.subs[ev.Type]))
	for _, h := range e.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
