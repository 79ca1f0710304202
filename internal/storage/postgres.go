// Package storage keeps the crate's slot configuration and the transition
// log in PostgreSQL.
package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KevinKickass/CrateManager/internal/config"
)

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	return Connect(ctx, cfg.DSN(), cfg.MaxConnections)
}

// Connect opens a pool for dsn and checks that the database answers.
func Connect(ctx context.Context, dsn string, maxConns int) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS crate_slots (
		crate_id            INTEGER NOT NULL,
		slot                INTEGER NOT NULL CHECK (slot BETWEEN 1 AND 12),
		slot_crate_id       INTEGER,
		control_hub_address TEXT NOT NULL DEFAULT '',
		control_hub_port    INTEGER NOT NULL DEFAULT 0,
		ipbus_protocol      TEXT NOT NULL DEFAULT '',
		device_ip_address   TEXT NOT NULL DEFAULT '',
		ipbus_port          INTEGER NOT NULL DEFAULT 0,
		address_table       TEXT NOT NULL DEFAULT '',
		sbit_source         INTEGER NOT NULL DEFAULT 0,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (crate_id, slot)
	)`,
	`CREATE TABLE IF NOT EXISTS crate_transitions (
		id          UUID PRIMARY KEY,
		command     TEXT NOT NULL,
		from_state  TEXT NOT NULL,
		to_state    TEXT NOT NULL,
		result      TEXT NOT NULL,
		failed_slot INTEGER NOT NULL DEFAULT 0,
		error       TEXT NOT NULL DEFAULT '',
		started_at  TIMESTAMPTZ NOT NULL,
		duration_us BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS crate_transitions_started_at ON crate_transitions (started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS auth_events (
		id         UUID PRIMARY KEY,
		event_type TEXT NOT NULL,
		username   TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		success    BOOLEAN NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the tables if they do not exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
