package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kkkkikiki/dropsminer/internal/config"
)

// DB holds the checkpoint database connection
type DB struct {
	Conn   *sqlx.DB
	Driver string
}

// NewDB creates the database connection using config and makes sure the schema exists
func NewDB(ctx context.Context, cfg *config.Config) (*DB, error) {
	driver := cfg.Database.Driver
	conn, err := sqlx.ConnectContext(ctx, driver, cfg.Database.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	// Configure connection pool
	if driver == "sqlite" {
		// sqlite serializes writers
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(cfg.Database.MaxConns)
		conn.SetMaxIdleConns(cfg.Database.MinConns)
		conn.SetConnMaxLifetime(time.Hour)
	}

	db := &DB{Conn: conn, Driver: driver}
	if err := db.Ping(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if err := CreateSchema(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("connected to checkpoint database", "driver", driver)
	return db, nil
}

// Ping checks the connection is alive
func (db *DB) Ping(ctx context.Context) error {
	if err := db.Conn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping %s: %w", db.Driver, err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if err := db.Conn.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", db.Driver, err)
	}

	return nil
}
