package token

import (
	"encoding/json"
	"log"
	"time"
)

// watchLoop consumes external change notifications and reconciles the
// manager's timers and subscribers against what another context wrote.
// Notifications for other keys, and no-op writes where old and new
// serialized values match, are ignored.
func (m *Manager) watchLoop(ch <-chan ChangeEvent) {
	for ev := range ch {
		if ev.Key != m.cfg.StorageKey || ev.OldValue == ev.NewValue {
			continue
		}
		ev := ev
		if d := m.syncDelay(); d > 0 {
			// Unreliable media (polling, storage events echoing our own
			// writes) settle before we diff, avoiding flapping events.
			m.clock.AfterFunc(d, func() {
				m.reconcile(ev)
			})
			continue
		}
		m.reconcile(ev)
	}
}

func (m *Manager) syncDelay() time.Duration {
	if m.cfg.SyncDelay > 0 {
		return m.cfg.SyncDelay
	}
	if m.watcher != nil && m.watcher.Unreliable() {
		return DefaultUnreliableSyncDelay
	}
	return 0
}

// reconcile rebuilds expiry timers from the new mapping and emits the
// per-kind added/removed events implied by the old-to-new transition, so
// subscribers in this context observe mutations made elsewhere.
func (m *Manager) reconcile(ev ChangeEvent) {
	oldSet := parseMapping(ev.OldValue)
	newSet := parseMapping(ev.NewValue)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.clearAllTimersLocked()
	for key, tok := range newSet {
		m.scheduleExpiryLocked(key, tok)
	}
	m.mu.Unlock()

	for _, kind := range Kinds {
		oldKey, oldTok := findKind(oldSet, kind)
		newKey, newTok := findKind(newSet, kind)
		switch {
		case newTok != nil && !sameSerialized(oldTok, newTok):
			m.events.emit(Event{Type: EventAdded, Key: newKey, Token: newTok, OldToken: oldTok})
		case newTok == nil && oldTok != nil:
			m.events.emit(Event{Type: EventRemoved, Key: oldKey, Token: oldTok})
		}
	}
}

func parseMapping(serialized string) map[string]*Token {
	if serialized == "" {
		return nil
	}
	var mapping map[string]*Token
	if err := json.Unmarshal([]byte(serialized), &mapping); err != nil {
		log.Print("goidx: unparseable token mapping in change notification")
		return nil
	}
	return mapping
}
