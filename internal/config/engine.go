package config

import (
	"github.com/agentcore-ai/agentcore/internal/recovery"
	"github.com/agentcore-ai/agentcore/internal/retry"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// RetryPolicy converts a retry section to a policy, falling back to the
// engine defaults for unset fields.
func (r RetryConfig) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if r.MaxRetries > 0 {
		p.MaxRetries = r.MaxRetries
	}
	if r.BaseDelay > 0 {
		p.BaseDelay = r.BaseDelay.Std()
	}
	if r.MaxDelay > 0 {
		p.MaxDelay = r.MaxDelay.Std()
	}
	if r.ExponentialBase > 0 {
		p.ExponentialBase = r.ExponentialBase
	}
	if r.Jitter != nil {
		p.Jitter = *r.Jitter
	}
	return p
}

// SessionConfig converts the session defaults section to the per-session
// config applied to new sessions.
func (c *Config) SessionConfig() types.SessionConfig {
	return types.SessionConfig{
		Timeout:        c.Session.Timeout.Std(),
		MaxMessages:    c.Session.MaxMessages,
		MaxAttachments: c.Session.MaxAttachments,
		AllowedTools:   c.Session.AllowedTools,
		BlockedTools:   c.Session.BlockedTools,
	}
}

// RecoveryConfig converts the recovery section to the manager config.
func (c *Config) RecoveryConfig() recovery.Config {
	cfg := recovery.DefaultConfig()
	if c.Recovery.CheckpointTTL > 0 {
		cfg.CheckpointTTL = c.Recovery.CheckpointTTL.Std()
	}
	if c.Recovery.BufferTTL > 0 {
		cfg.BufferTTL = c.Recovery.BufferTTL.Std()
	}
	if c.Recovery.BufferCap > 0 {
		cfg.BufferCap = c.Recovery.BufferCap
	}
	if c.Recovery.ReconnectTTL > 0 {
		cfg.ReconnectTTL = c.Recovery.ReconnectTTL.Std()
	}
	return cfg
}
