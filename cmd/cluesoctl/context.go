package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clueso-studio/backend/config"
	"github.com/clueso-studio/backend/internal/app"
	"github.com/clueso-studio/backend/pkg/database"
)

// commandContext lazily loads what subcommands share.
type commandContext struct {
	verbose *bool

	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
}

func newCommandContext(verbose *bool) *commandContext {
	return &commandContext{verbose: verbose}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) log() *zap.Logger {
	if c.logger == nil {
		c.logger = app.NewConsoleLogger(c.verbose != nil && *c.verbose)
	}
	return c.logger
}

func (c *commandContext) database(ctx context.Context) (*pgxpool.Pool, error) {
	if c.pool != nil {
		return c.pool, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, c.log())
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return pool, nil
}

func (c *commandContext) close() {
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}
