package commands

import (
	"fmt"
	"time"

	"github.com/agentcore-ai/agentcore/internal/approval"
	"github.com/agentcore-ai/agentcore/internal/cache"
	"github.com/agentcore-ai/agentcore/internal/config"
	"github.com/agentcore-ai/agentcore/internal/event"
	"github.com/agentcore-ai/agentcore/internal/logging"
	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/internal/recovery"
	"github.com/agentcore-ai/agentcore/internal/repo"
	"github.com/agentcore-ai/agentcore/internal/session"
	"github.com/agentcore-ai/agentcore/internal/tool"
)

// app bundles a fully wired engine for CLI commands.
type app struct {
	svc   *session.Service
	bus   *event.Bus
	repo  repo.Repository
	cache cache.Cache
}

// buildApp wires storage, cache, bus, recovery, approval, tools, and
// the orchestrator from the loaded configuration.
func buildApp(c *config.Config, p provider.Provider) (*app, error) {
	log := logging.Component("engine")

	r, err := buildRepo(c)
	if err != nil {
		return nil, err
	}

	store, err := buildCache(c)
	if err != nil {
		return nil, err
	}

	bus := event.NewBus(logging.Component("bus"))
	rec := recovery.NewManager(store, c.RecoveryConfig(), logging.Component("recovery"))

	policies := []approval.Policy{approval.BlocklistPolicy{}, approval.AllowlistPolicy{}}
	gate := approval.NewGate(r, bus, rec, policies, c.Approval.DecisionTTL.Std(), logging.Component("approval"))

	tools := tool.NewRegistry()
	tools.Register(tool.EchoTool{})

	opts := session.DefaultOptions()
	opts.DefaultConfig = c.SessionConfig()
	if opts.DefaultConfig.Timeout <= 0 {
		opts.DefaultConfig.Timeout = session.DefaultTimeout
	}
	if opts.DefaultConfig.MaxMessages <= 0 {
		opts.DefaultConfig.MaxMessages = session.DefaultMaxMessages
	}
	if c.MaxSteps > 0 {
		opts.MaxSteps = c.MaxSteps
	}
	opts.AgentRetry = c.Agent.RetryPolicy()
	opts.ToolRetry = c.Tool.RetryPolicy()

	svc := session.NewService(r, bus, rec, gate, tools, p, opts, log)
	return &app{svc: svc, bus: bus, repo: r, cache: store}, nil
}

func (a *app) Close() {
	a.svc.Close()
	a.bus.Close()
}

func buildRepo(c *config.Config) (repo.Repository, error) {
	switch c.Storage.Backend {
	case "", "memory":
		return repo.NewMemory(), nil
	case "file":
		dir := c.Storage.Dir
		if dir == "" {
			paths := config.GetPaths()
			if err := paths.EnsurePaths(); err != nil {
				return nil, err
			}
			dir = paths.StoragePath()
		}
		return repo.NewFile(dir), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
}

func buildCache(c *config.Config) (cache.Cache, error) {
	switch c.Cache.Backend {
	case "", "memory":
		return cache.NewMemory(c.Cache.Size, time.Hour), nil
	case "redis":
		return cache.NewRedis(cache.RedisConfig{
			Addr:     c.Cache.RedisAddr,
			Password: c.Cache.RedisPassword,
			DB:       c.Cache.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
}
