package goidx

import (
	"context"
	"errors"
	"fmt"

	"github.com/idxlabs/goidx/internal/remediators"
	"github.com/idxlabs/goidx/token"
)

// Builder assembles a Client from a configuration and its collaborators.
// A builder is single-use; Build refuses a second call.
type Builder struct {
	config Config

	transport      Transport
	metaStore      MetaStore
	tokenTransport token.Transport
	tokenStorage   token.Storage
	storageWatcher token.Watcher
	clock          token.Clock
	auditSink      AuditSink

	built bool
}

// New returns a builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithTransport sets the provider transport. Required.
func (b *Builder) WithTransport(t Transport) *Builder {
	b.transport = t
	return b
}

// WithMetaStore sets the transaction meta store. Required.
func (b *Builder) WithMetaStore(s MetaStore) *Builder {
	b.metaStore = s
	return b
}

// WithTokenTransport sets the renewal transport used by the token manager.
func (b *Builder) WithTokenTransport(t token.Transport) *Builder {
	b.tokenTransport = t
	return b
}

// WithTokenStorage sets the token storage adapter. Required.
func (b *Builder) WithTokenStorage(s token.Storage) *Builder {
	b.tokenStorage = s
	return b
}

// WithStorageWatcher sets the cross-context change watcher. Required only
// when TokenManager.SyncStorage is enabled.
func (b *Builder) WithStorageWatcher(w token.Watcher) *Builder {
	b.storageWatcher = w
	return b
}

// WithClock overrides the wall clock; tests use this.
func (b *Builder) WithClock(c token.Clock) *Builder {
	b.clock = c
	return b
}

// WithAuditSink sets the audit sink; the dispatcher stays disabled unless
// Audit.Enabled is also set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles metric recording.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates configuration and collaborators, constructs the token
// manager, and starts it.
func (b *Builder) Build(ctx context.Context) (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientNotReady, err)
	}
	if b.transport == nil {
		return nil, fmt.Errorf("%w: transport required", ErrClientNotReady)
	}
	if b.metaStore == nil {
		return nil, fmt.Errorf("%w: meta store required", ErrClientNotReady)
	}
	if b.tokenStorage == nil {
		return nil, fmt.Errorf("%w: token storage required", ErrClientNotReady)
	}

	manager, err := token.NewManager(cfg.TokenManager.lower(), token.Deps{
		Storage:   b.tokenStorage,
		Transport: b.tokenTransport,
		Clock:     b.clock,
		Watcher:   b.storageWatcher,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientNotReady, err)
	}

	client := &Client{
		config:    cfg,
		transport: b.transport,
		metaStore: b.metaStore,
		registry:  remediators.Default(),
		tokens:    manager,
		audit:     newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:   NewMetrics(cfg.Metrics),
	}

	client.wireTokenMetrics()

	if err := manager.Start(ctx); err != nil {
		client.Close()
		return nil, err
	}

	b.built = true

	return client, nil
}

// wireTokenMetrics mirrors token lifecycle events into the client's
// counters and audit stream.
func (c *Client) wireTokenMetrics() {
	wire := func(event token.EventType, id MetricID) {
		sub := c.tokens.Subscribe(event, func(ev token.Event) {
			c.metricInc(id)
			c.emitAudit(auditEventToken, "", string(event), ev.Err == nil, ev.Err)
		})
		c.tokenSubs = append(c.tokenSubs, tokenSubscription{event: event, id: sub})
	}

	wire(token.EventAdded, MetricTokenAdded)
	wire(token.EventRenewed, MetricTokenRenewed)
	wire(token.EventRemoved, MetricTokenRemoved)
	wire(token.EventExpired, MetricTokenExpired)
	wire(token.EventError, MetricTokenRenewError)
}
