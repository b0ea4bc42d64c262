package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	statex "github.com/verdantlabs/greencart/assistant/state"
)

// PostgresConfig carries the archive settings loaded from the environment.
// An empty DSN means the process runs on the in-memory archive instead.
type PostgresConfig struct {
	DSN     string        `envconfig:"DSN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
}

func (c PostgresConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// PostgresArchive persists orders in Postgres through bun.
type PostgresArchive struct {
	db *bun.DB
}

var _ Archive = (*PostgresArchive)(nil)

// NewPostgresArchive opens the pool, verifies connectivity and creates the
// orders table when it is missing.
func NewPostgresArchive(ctx context.Context, cfg PostgresConfig) (*PostgresArchive, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	archive := &PostgresArchive{db: db}
	if err := archive.bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return archive, nil
}

func (a *PostgresArchive) bootstrap(ctx context.Context) error {
	if _, err := a.db.NewCreateTable().
		Model((*Order)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create orders table: %w", err)
	}
	return nil
}

func (a *PostgresArchive) Record(ctx context.Context, order Order) error {
	if err := order.validate(); err != nil {
		return err
	}
	if _, err := a.db.NewInsert().Model(&order).Exec(ctx); err != nil {
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}
	return nil
}

func (a *PostgresArchive) BySession(ctx context.Context, sessionID string, limit int) ([]Order, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, statex.ErrInvalidSession
	}

	var orders []Order
	query := a.db.NewSelect().
		Model(&orders).
		Where("session_id = ?", sessionID).
		Order("completed_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("select orders for %s: %w", sessionID, err)
	}
	return orders, nil
}

func (a *PostgresArchive) Close() error {
	return a.db.Close()
}
