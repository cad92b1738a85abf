package miner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/dropsminer/internal/logging"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

func eligibleStore(ids ...string) *Store {
	store := NewStore(3)
	for _, id := range ids {
		c := campaign(id, 2, 2)
		c.Status = model.StatusEligible
		store.Upsert(c)
	}
	return store
}

func newTestDispatcher(maxRetries int, sink EventSink) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		MaxRetries: maxRetries,
		Sink:       sink,
		Logger:     logging.Discard(),
		Now:        fixedClock(),
	})
}

func TestDispatchClaimsOnceAndNeverResubmits(t *testing.T) {
	store := eligibleStore("c1")
	client := &stubClient{}
	events := &eventRecorder{}
	d := newTestDispatcher(3, events)

	summary, err := d.Dispatch(context.Background(), "alice", store, client)
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Attempted: 1, Claimed: 1}, summary)

	got, _ := store.Get("c1")
	assert.Equal(t, model.StatusClaimed, got.Status)
	require.NotNil(t, got.ClaimedAt)
	assert.Equal(t, fixedClock()(), *got.ClaimedAt)

	summary, err = d.Dispatch(context.Background(), "alice", store, client)
	require.NoError(t, err)
	assert.Zero(t, summary.Attempted)
	assert.Equal(t, []string{"c1"}, client.ClaimCalls())

	recorded := events.Events()
	require.Len(t, recorded, 1)
	assert.True(t, recorded[0].Success)
	assert.Equal(t, "alice", recorded[0].SessionID)
	assert.Equal(t, 1, recorded[0].Attempt)
	assert.NotEmpty(t, recorded[0].ID)
}

func TestDispatchExhaustsAfterMaxRetries(t *testing.T) {
	store := eligibleStore("c1")
	client := &stubClient{claim: func(int, string) (ClaimResult, error) {
		return ClaimResult{Success: false, Reason: "drop not claimable yet"}, nil
	}}
	events := &eventRecorder{}
	d := newTestDispatcher(3, events)

	for i := 0; i < 5; i++ {
		_, err := d.Dispatch(context.Background(), "alice", store, client)
		require.NoError(t, err)
	}

	assert.Len(t, client.ClaimCalls(), 3)
	got, _ := store.Get("c1")
	assert.Equal(t, model.StatusEligible, got.Status)
	assert.True(t, got.Exhausted)
	assert.Equal(t, 3, got.ClaimAttempts)

	recorded := events.Events()
	require.Len(t, recorded, 3)
	assert.False(t, recorded[1].Exhausted)
	assert.True(t, recorded[2].Exhausted)
	assert.Equal(t, "drop not claimable yet", recorded[2].Reason)
}

func TestDispatchRetriesUntilSuccess(t *testing.T) {
	store := eligibleStore("c1")
	client := &stubClient{claim: func(call int, _ string) (ClaimResult, error) {
		if call < 3 {
			return ClaimResult{}, &ClaimError{Reason: "gql timeout"}
		}
		return ClaimResult{Success: true}, nil
	}}
	d := newTestDispatcher(3, nil)

	for i := 0; i < 3; i++ {
		_, err := d.Dispatch(context.Background(), "alice", store, client)
		require.NoError(t, err)
	}

	got, _ := store.Get("c1")
	assert.Equal(t, model.StatusClaimed, got.Status)
	assert.False(t, got.Exhausted)
	assert.Equal(t, 3, got.ClaimAttempts)
}

func TestDispatchCampaignsAreIndependent(t *testing.T) {
	store := eligibleStore("c1", "c2")
	client := &stubClient{claim: func(_ int, id string) (ClaimResult, error) {
		return ClaimResult{Success: id == "c2", Reason: "rejected"}, nil
	}}
	d := newTestDispatcher(3, nil)

	summary, err := d.Dispatch(context.Background(), "alice", store, client)
	require.NoError(t, err)
	assert.Equal(t, DispatchSummary{Attempted: 2, Claimed: 1, Failed: 1}, summary)
	assert.Equal(t, []string{"c1", "c2"}, client.ClaimCalls())
}

func TestDispatchReturnsUnexpectedErrors(t *testing.T) {
	store := eligibleStore("c1", "c2")
	boom := errors.New("nil response")
	client := &stubClient{claim: func(int, string) (ClaimResult, error) {
		return ClaimResult{}, boom
	}}
	d := newTestDispatcher(3, nil)

	_, err := d.Dispatch(context.Background(), "alice", store, client)
	require.ErrorIs(t, err, boom)
	assert.Len(t, client.ClaimCalls(), 1)

	got, _ := store.Get("c1")
	assert.Zero(t, got.ClaimAttempts)
}

func TestDispatchSinkFailureDoesNotFailClaim(t *testing.T) {
	store := eligibleStore("c1")
	sink := EventSinkFunc(func(context.Context, model.ClaimEvent) error {
		return errors.New("sink unavailable")
	})
	d := newTestDispatcher(3, sink)

	summary, err := d.Dispatch(context.Background(), "alice", store, &stubClient{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Claimed)
}
