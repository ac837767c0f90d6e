package goidx

import (
	"errors"
	"time"

	"github.com/idxlabs/goidx/token"
)

// Config is the full client configuration. Instances are cloned at Build
// time and treated as immutable afterwards.
type Config struct {
	Client       ClientConfig
	TokenManager TokenManagerConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
CLIENT CONFIG
====================================
*/

// ClientConfig carries the OAuth client registration values stamped into
// every transaction.
type ClientConfig struct {
	ClientID    string
	RedirectURI string
	Scopes      []string

	// IgnoreSignature skips JWT signature verification during code
	// exchange; test environments only.
	IgnoreSignature bool
}

/*
====================================
TOKEN MANAGER CONFIG
====================================
*/

// TokenManagerConfig mirrors token.Config at the client surface so one
// Config struct configures the whole client.
type TokenManagerConfig struct {
	StorageKey  string
	AutoRenew   bool
	AutoRemove  bool
	ExpireEarly time.Duration
	SyncStorage bool
	SyncDelay   time.Duration
}

func (c TokenManagerConfig) lower() token.Config {
	return token.Config{
		StorageKey:  c.StorageKey,
		AutoRenew:   c.AutoRenew,
		AutoRemove:  c.AutoRemove,
		ExpireEarly: c.ExpireEarly,
		SyncStorage: c.SyncStorage,
		SyncDelay:   c.SyncDelay,
	}
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counter set.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Client: ClientConfig{
			Scopes: []string{"openid", "email"},
		},
		TokenManager: TokenManagerConfig{
			StorageKey:  token.DefaultStorageKey,
			AutoRenew:   true,
			AutoRemove:  false,
			ExpireEarly: token.DefaultExpireEarly,
			SyncStorage: false,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Client.Scopes = cloneStrings(cfg.Client.Scopes)
	return out
}

func cloneStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values Build cannot work with.
func (c *Config) Validate() error {
	if c.Client.ClientID == "" {
		return errors.New("Client ClientID must be set")
	}
	if c.Client.RedirectURI == "" {
		return errors.New("Client RedirectURI must be set")
	}
	if len(c.Client.Scopes) == 0 {
		return errors.New("Client Scopes must not be empty")
	}

	if c.TokenManager.ExpireEarly < 0 {
		return errors.New("TokenManager ExpireEarly must be >= 0")
	}
	if c.TokenManager.SyncDelay < 0 {
		return errors.New("TokenManager SyncDelay must be >= 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize < 0 {
		return errors.New("Audit BufferSize must be >= 0")
	}

	return nil
}
