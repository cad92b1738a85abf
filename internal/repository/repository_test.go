package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/kkkkikiki/dropsminer/internal/database"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.CreateSchema(context.Background(), db))
	return db
}

func TestSnapshotRepositoryRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSnapshotRepository()
	ctx := context.Background()

	seen := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	claimedAt := seen.Add(time.Minute)
	campaigns := []model.Campaign{
		{
			ID: "zeta", GameTitle: "Rust", TotalRewards: 4, ClaimedRewards: 4,
			ProgressSeconds: 3600, TotalSeconds: 3600, Status: model.StatusClaimed,
			LastSeenAt: seen, ClaimAttempts: 1, ClaimedAt: &claimedAt,
		},
		{
			ID: "alpha", GameTitle: "Dota 2", TotalRewards: 2, ClaimedRewards: 2,
			Status: model.StatusEligible, LastSeenAt: seen, Misses: 1, ClaimAttempts: 3, Exhausted: true,
		},
	}

	require.NoError(t, repo.ReplaceSnapshot(ctx, db, "alice", campaigns))

	loaded, err := repo.LoadSnapshot(ctx, db, "alice")
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	// insertion order survives the round trip
	assert.Equal(t, "zeta", loaded[0].ID)
	assert.Equal(t, "alpha", loaded[1].ID)

	assert.Equal(t, model.StatusClaimed, loaded[0].Status)
	assert.Equal(t, 4, loaded[0].ClaimedRewards)
	assert.Equal(t, int64(3600), loaded[0].ProgressSeconds)
	assert.True(t, seen.Equal(loaded[0].LastSeenAt))
	require.NotNil(t, loaded[0].ClaimedAt)
	assert.True(t, claimedAt.Equal(*loaded[0].ClaimedAt))

	assert.True(t, loaded[1].Exhausted)
	assert.Equal(t, 3, loaded[1].ClaimAttempts)
	assert.Equal(t, 1, loaded[1].Misses)
	assert.Nil(t, loaded[1].ClaimedAt)
}

func TestSnapshotRepositoryReplaceOverwrites(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSnapshotRepository()
	ctx := context.Background()
	seen := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.ReplaceSnapshot(ctx, db, "alice", []model.Campaign{
		{ID: "c1", Status: model.StatusDiscovered, LastSeenAt: seen},
		{ID: "c2", Status: model.StatusDiscovered, LastSeenAt: seen},
	}))
	require.NoError(t, repo.ReplaceSnapshot(ctx, db, "bob", []model.Campaign{
		{ID: "c1", Status: model.StatusInProgress, LastSeenAt: seen},
	}))
	require.NoError(t, repo.ReplaceSnapshot(ctx, db, "alice", []model.Campaign{
		{ID: "c2", ClaimedRewards: 1, TotalRewards: 2, Status: model.StatusInProgress, LastSeenAt: seen},
	}))

	alice, err := repo.LoadSnapshot(ctx, db, "alice")
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, "c2", alice[0].ID)
	assert.Equal(t, 1, alice[0].ClaimedRewards)

	bob, err := repo.LoadSnapshot(ctx, db, "bob")
	require.NoError(t, err)
	require.Len(t, bob, 1)

	sessions, err := repo.ListSessions(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, sessions)
}

func TestSnapshotRepositoryLargeSnapshotIsBatched(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSnapshotRepository()
	ctx := context.Background()

	campaigns := make([]model.Campaign, snapshotBatchSize+7)
	for i := range campaigns {
		campaigns[i] = model.Campaign{ID: fmt.Sprintf("c%04d", i), Status: model.StatusDiscovered}
	}
	require.NoError(t, repo.ReplaceSnapshot(ctx, db, "alice", campaigns))

	loaded, err := repo.LoadSnapshot(ctx, db, "alice")
	require.NoError(t, err)
	require.Len(t, loaded, len(campaigns))
	assert.Equal(t, campaigns[len(campaigns)-1].ID, loaded[len(loaded)-1].ID)
}

func TestSnapshotRepositoryUnknownSession(t *testing.T) {
	db := setupTestDB(t)

	loaded, err := NewSnapshotRepository().LoadSnapshot(context.Background(), db, "nobody")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestClaimEventRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewClaimEventRepository()
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first := model.ClaimEvent{
		ID: "ev-1", SessionID: "alice", CampaignID: "c1", Attempt: 1,
		Success: false, Reason: "claim rejected", OccurredAt: at,
	}
	second := model.ClaimEvent{
		ID: "ev-2", SessionID: "alice", CampaignID: "c1", Attempt: 2,
		Success: true, OccurredAt: at.Add(time.Minute),
	}
	other := model.ClaimEvent{ID: "ev-3", SessionID: "bob", CampaignID: "c9", Attempt: 1, OccurredAt: at}

	require.NoError(t, repo.InsertClaimEvent(ctx, db, first))
	require.NoError(t, repo.InsertClaimEvent(ctx, db, second))
	require.NoError(t, repo.InsertClaimEvent(ctx, db, other))
	// duplicates are ignored
	require.NoError(t, repo.InsertClaimEvent(ctx, db, first))

	events, err := repo.ListClaimEvents(ctx, db, "alice", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-2", events[0].ID)
	assert.True(t, events[0].Success)
	assert.Equal(t, "ev-1", events[1].ID)
	assert.Equal(t, "claim rejected", events[1].Reason)
	assert.True(t, at.Equal(events[1].OccurredAt))

	events, err = repo.ListClaimEvents(ctx, db, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
