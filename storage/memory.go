// Package storage provides ready-made token storage and transaction meta
// adapters: an in-process memory implementation for single-binary use and
// tests, and a redis implementation for state shared across processes.
package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/idxlabs/goidx/token"
)

// Memory is a process-local shared token store. Each execution context
// (tab, goroutine group, test case) takes its own handle via Context;
// writes through one handle are delivered as change events to every other
// handle, never back to the writer.
type Memory struct {
	storageKey string

	mu       sync.Mutex
	tokens   map[string]*token.Token
	contexts map[int]*MemoryContext
	nextID   int
}

// NewMemory creates an empty shared store keyed by storageKey.
func NewMemory(storageKey string) *Memory {
	if storageKey == "" {
		storageKey = token.DefaultStorageKey
	}
	return &Memory{
		storageKey: storageKey,
		tokens:     make(map[string]*token.Token),
		contexts:   make(map[int]*MemoryContext),
	}
}

// Context returns a new handle onto the shared store.
func (m *Memory) Context() *MemoryContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ctx := &MemoryContext{store: m, id: m.nextID}
	m.contexts[ctx.id] = ctx
	return ctx
}

// write replaces the mapping and fans the change out to every handle
// except the originator.
func (m *Memory) write(origin int, mapping map[string]*token.Token) {
	m.mu.Lock()
	oldValue := serializeLocked(m.tokens)
	m.tokens = cloneMapping(mapping)
	newValue := serializeLocked(m.tokens)

	targets := make([]*MemoryContext, 0, len(m.contexts))
	for id, c := range m.contexts {
		if id != origin {
			targets = append(targets, c)
		}
	}
	m.mu.Unlock()

	if oldValue == newValue {
		return
	}
	ev := token.ChangeEvent{Key: m.storageKey, OldValue: oldValue, NewValue: newValue}
	for _, c := range targets {
		c.deliver(ev)
	}
}

func (m *Memory) read() map[string]*token.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneMapping(m.tokens)
}

// MemoryContext is one execution context's view of a Memory store. It
// implements both token.Storage and token.Watcher.
type MemoryContext struct {
	store *Memory
	id    int

	mu      sync.Mutex
	watcher chan token.ChangeEvent
}

// GetStorage returns a copy of the shared mapping.
func (c *MemoryContext) GetStorage(ctx context.Context) (map[string]*token.Token, error) {
	return c.store.read(), nil
}

// SetStorage replaces the shared mapping and notifies sibling contexts.
func (c *MemoryContext) SetStorage(ctx context.Context, mapping map[string]*token.Token) error {
	c.store.write(c.id, mapping)
	return nil
}

// ClearStorage removes every token and notifies sibling contexts.
func (c *MemoryContext) ClearStorage(ctx context.Context) error {
	c.store.write(c.id, nil)
	return nil
}

// Watch returns the context's change-event channel. Only one watch per
// handle; a second call replaces the first channel.
func (c *MemoryContext) Watch(ctx context.Context) (<-chan token.ChangeEvent, error) {
	ch := make(chan token.ChangeEvent, 16)

	c.mu.Lock()
	c.watcher = ch
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if c.watcher == ch {
			c.watcher = nil
		}
		c.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// Unreliable is false: delivery is in-process and excludes the writer.
func (c *MemoryContext) Unreliable() bool {
	return false
}

func (c *MemoryContext) deliver(ev token.ChangeEvent) {
	c.mu.Lock()
	ch := c.watcher
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- ev:
	default:
		// A stalled watcher drops events rather than blocking writers; the
		// next event carries the full serialized state anyway.
	}
}

func cloneMapping(mapping map[string]*token.Token) map[string]*token.Token {
	out := make(map[string]*token.Token, len(mapping))
	for k, v := range mapping {
		out[k] = v
	}
	return out
}

// serializeLocked renders the mapping the same way the redis adapter stores
// it, so ChangeEvent payloads are interchangeable between adapters.
func serializeLocked(mapping map[string]*token.Token) string {
	if len(mapping) == 0 {
		return ""
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return ""
	}
	return string(data)
}
