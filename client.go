package goidx

import (
	"context"
	"time"

	"github.com/idxlabs/goidx/internal/remediators"
	"github.com/idxlabs/goidx/token"
)

// Client is the flow engine. It is stateless between calls: everything a
// multi-call transaction needs lives in the MetaStore, so any number of
// goroutines (or processes sharing the store) can drive the same flow.
type Client struct {
	config    Config
	transport Transport
	metaStore MetaStore
	registry  remediators.Registry

	tokens *token.Manager

	audit   *auditDispatcher
	metrics *Metrics

	tokenSubs []tokenSubscription
}

type tokenSubscription struct {
	event token.EventType
	id    int
}

// TokenManager exposes the client's token lifecycle manager.
func (c *Client) TokenManager() *token.Manager {
	return c.tokens
}

// MetricsSnapshot returns a point-in-time copy of the client's counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped returns how many audit events were discarded under
// backpressure.
func (c *Client) AuditDropped() uint64 {
	return c.audit.Dropped()
}

// Close releases the token manager's timers and watcher, detaches the
// client's token-event subscriptions, and drains the audit queue.
func (c *Client) Close() {
	for _, sub := range c.tokenSubs {
		c.tokens.Unsubscribe(sub.event, sub.id)
	}
	c.tokens.Close()
	c.audit.Close()
}

func (c *Client) metricInc(id MetricID) {
	c.metrics.Inc(id)
}

func (c *Client) observeRunLatency(start time.Time) {
	c.metrics.Observe(MetricRunLatency, time.Since(start))
}

func (c *Client) emitAudit(eventType string, flow FlowIdentifier, step string, success bool, cause error) {
	if c.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		Flow:      string(flow),
		Step:      step,
		Success:   success,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	c.audit.Emit(context.Background(), event)
}
