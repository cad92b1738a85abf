package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/dropsminer/internal/config"
)

func TestNewDBSQLiteCreatesSchema(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}}

	db, err := NewDB(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "sqlite", db.Driver)
	require.NoError(t, db.Ping(context.Background()))

	var tables []string
	err = db.Conn.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	require.NoError(t, err)
	assert.Equal(t, []string{"campaign_snapshots", "claim_events"}, tables)

	// schema creation is idempotent
	require.NoError(t, CreateSchema(context.Background(), db.Conn))
}

func TestNewDBUnknownDriver(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: "oracle"}}

	_, err := NewDB(context.Background(), cfg)
	assert.Error(t, err)
}
