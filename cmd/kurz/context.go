package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"kurz/internal/config"
	"kurz/internal/engine"
	"kurz/internal/logging"
	"kurz/internal/progress"
	"kurz/internal/providers"
	"kurz/internal/runstore"
	"kurz/internal/scheduler"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// runtime bundles the wired collaborators a command needs to drive
// runs. Close releases them in reverse order of construction.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *runstore.Store
	sched     *scheduler.Scheduler
	publisher *progress.Publisher
	engine    *engine.Engine
}

func (c *commandContext) buildRuntime() (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := runstore.Open(cfg)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(cfg, logger)
	sched.Start()

	gens, err := providers.NewSet(cfg, logger)
	if err != nil {
		sched.Stop()
		store.Close()
		return nil, err
	}

	publisher := progress.NewPublisher(store, logger)
	if webhook := progress.NewWebhookListener(cfg); webhook != nil {
		publisher.Subscribe(webhook)
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		sched:     sched,
		publisher: publisher,
		engine:    engine.New(cfg, store, sched, gens, publisher, logger),
	}, nil
}

// openStore wires just the store for read-only commands.
func (c *commandContext) openStore() (*runstore.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return runstore.Open(cfg)
}

func (r *runtime) Close() {
	r.sched.Stop()
	r.store.Close()
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
