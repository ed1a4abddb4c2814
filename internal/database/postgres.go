package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ApplicationName tags every connection the API opens.
const ApplicationName = "capforge-api"

// PostgresConfig sizes the usage ledger pool. The ledger writes one row per
// finished run, so the pool tracks the runner's worker count.
type PostgresConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// LedgerPoolConfig derives a pool size from the number of runner workers: one
// connection per worker plus headroom for /usage queries.
func LedgerPoolConfig(url string, workers, maxConns int) PostgresConfig {
	if maxConns <= 0 {
		maxConns = workers + 2
	}
	return PostgresConfig{
		URL:             url,
		MaxConns:        int32(maxConns),
		MinConns:        1,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

func (c PostgresConfig) poolConfig() (*pgxpool.Config, error) {
	if c.URL == "" {
		return nil, errors.New("database url is empty")
	}
	cfg, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if c.MaxConns > 0 {
		cfg.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 && c.MinConns <= cfg.MaxConns {
		cfg.MinConns = c.MinConns
	}
	if c.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = c.MaxConnIdleTime
	}
	if _, set := cfg.ConnConfig.RuntimeParams["application_name"]; !set {
		cfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName
	}
	return cfg, nil
}

// Postgres wraps the connection pool behind the usage ledger.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens the pool and checks it with a ping.
func NewPostgres(ctx context.Context, c PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	cfg, err := c.poolConfig()
	if err != nil {
		return nil, err
	}
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connected",
		zap.String("host", cfg.ConnConfig.Host),
		zap.String("database", cfg.ConnConfig.Database),
		zap.Int32("max_conns", cfg.MaxConns),
	)
	return &Postgres{pool: pool}, nil
}

// Pool returns the underlying pool.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Ping implements the deep health check. It fails when every connection is
// busy and none can be acquired before ctx ends.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
