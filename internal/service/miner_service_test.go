package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/dropsminer/internal/logging"
	"github.com/kkkkikiki/dropsminer/internal/miner"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

// fakeClient serves a fixed campaign list and accepts every claim.
type fakeClient struct {
	mu        sync.Mutex
	campaigns []model.Campaign
	fetchErr  error
	fetches   int
}

func (f *fakeClient) FetchCampaigns(ctx context.Context) ([]model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]model.Campaign(nil), f.campaigns...), nil
}

func (f *fakeClient) Claim(ctx context.Context, campaignID string) (miner.ClaimResult, error) {
	return miner.ClaimResult{Success: true}, nil
}

type testServer struct {
	registry *miner.Registry
	client   *MinerServiceClient
	clients  map[string]*fakeClient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	registry := miner.NewRegistry(miner.RegistryConfig{
		Interval: time.Hour,
		Logger:   logging.Discard(),
	})
	ts := &testServer{registry: registry, clients: map[string]*fakeClient{}}

	factory := func(sessionID, token string) (miner.Client, error) {
		if token == "bad" {
			return nil, errors.New("token rejected")
		}
		client := &fakeClient{campaigns: []model.Campaign{{ID: "c1", TotalRewards: 2, ClaimedRewards: 1}}}
		if token == "broken" {
			client.fetchErr = errors.New("schema changed")
		}
		ts.clients[sessionID] = client
		return client, nil
	}
	history := NewCheckpointService(setupTestDB(t))

	path, handler := NewMinerServiceHandler(NewMinerServer(registry, factory, history, logging.Discard()))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		registry.Close(context.Background())
	})

	ts.client = NewMinerServiceClient(srv.Client(), srv.URL)
	return ts
}

func connectCode(t *testing.T, err error) connect.Code {
	t.Helper()
	require.Error(t, err)
	return connect.CodeOf(err)
}

func TestMinerServiceSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	res, err := ts.client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{SessionID: "alice", Token: "tok"}))
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Msg.Session.SessionID)
	assert.Equal(t, model.SessionStopped, res.Msg.Session.State)

	res, err = ts.client.StartSession(ctx, connect.NewRequest(&SessionRequest{SessionID: "alice"}))
	require.NoError(t, err)
	assert.Equal(t, model.SessionRunning, res.Msg.Session.State)

	require.Eventually(t, func() bool {
		res, err := ts.client.GetStatus(ctx, connect.NewRequest(&SessionRequest{SessionID: "alice"}))
		return err == nil && len(res.Msg.Session.Campaigns) == 1
	}, time.Second, 5*time.Millisecond)

	res, err = ts.client.PauseSession(ctx, connect.NewRequest(&SessionRequest{SessionID: "alice"}))
	require.NoError(t, err)
	assert.Equal(t, model.SessionPaused, res.Msg.Session.State)

	res, err = ts.client.ResumeSession(ctx, connect.NewRequest(&SessionRequest{SessionID: "alice"}))
	require.NoError(t, err)
	assert.Equal(t, model.SessionRunning, res.Msg.Session.State)

	res, err = ts.client.StopSession(ctx, connect.NewRequest(&SessionRequest{SessionID: "alice"}))
	require.NoError(t, err)
	assert.Equal(t, model.SessionStopped, res.Msg.Session.State)
	assert.Equal(t, "c1", res.Msg.Session.Campaigns[0].ID)

	list, err := ts.client.ListSessions(ctx, connect.NewRequest(&ListSessionsRequest{}))
	require.NoError(t, err)
	require.Len(t, list.Msg.Sessions, 1)

	_, err = ts.client.DestroySession(ctx, connect.NewRequest(&SessionRequest{SessionID: "alice"}))
	require.NoError(t, err)
	list, err = ts.client.ListSessions(ctx, connect.NewRequest(&ListSessionsRequest{}))
	require.NoError(t, err)
	assert.Empty(t, list.Msg.Sessions)
}

func TestMinerServiceErrorCodes(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.client.GetStatus(ctx, connect.NewRequest(&SessionRequest{SessionID: "ghost"}))
	assert.Equal(t, connect.CodeNotFound, connectCode(t, err))

	_, err = ts.client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{SessionID: "alice"}))
	assert.Equal(t, connect.CodeInvalidArgument, connectCode(t, err))

	_, err = ts.client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{SessionID: "alice", Token: "bad"}))
	assert.Equal(t, connect.CodeInvalidArgument, connectCode(t, err))

	_, err = ts.client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{SessionID: "alice", Token: "tok"}))
	require.NoError(t, err)
	_, err = ts.client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{SessionID: "alice", Token: "tok"}))
	assert.Equal(t, connect.CodeAlreadyExists, connectCode(t, err))

	_, err = ts.client.PauseSession(ctx, connect.NewRequest(&SessionRequest{SessionID: "alice"}))
	assert.Equal(t, connect.CodeFailedPrecondition, connectCode(t, err))
}

func TestMinerServiceRestartRecoversFailedSession(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{SessionID: "bob", Token: "broken", AutoStart: true}))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := ts.client.GetStatus(ctx, connect.NewRequest(&SessionRequest{SessionID: "bob"}))
		return err == nil && res.Msg.Session.State == model.SessionError
	}, time.Second, 5*time.Millisecond)

	_, err = ts.client.StartSession(ctx, connect.NewRequest(&SessionRequest{SessionID: "bob"}))
	assert.Equal(t, connect.CodeFailedPrecondition, connectCode(t, err))

	client := ts.clients["bob"]
	client.mu.Lock()
	client.fetchErr = nil
	client.mu.Unlock()

	// the failed loop may still be draining right after the state flips
	require.Eventually(t, func() bool {
		_, err := ts.client.RestartSession(ctx, connect.NewRequest(&SessionRequest{SessionID: "bob"}))
		return err == nil
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		res, err := ts.client.GetStatus(ctx, connect.NewRequest(&SessionRequest{SessionID: "bob"}))
		return err == nil && len(res.Msg.Session.Campaigns) == 1 && res.Msg.Session.LastError == ""
	}, time.Second, 5*time.Millisecond)
}

func TestMinerServiceClaimHistory(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.client.GetClaimHistory(ctx, connect.NewRequest(&ClaimHistoryRequest{SessionID: "ghost"}))
	assert.Equal(t, connect.CodeNotFound, connectCode(t, err))

	_, err = ts.client.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{SessionID: "alice", Token: "tok"}))
	require.NoError(t, err)

	res, err := ts.client.GetClaimHistory(ctx, connect.NewRequest(&ClaimHistoryRequest{SessionID: "alice"}))
	require.NoError(t, err)
	assert.Empty(t, res.Msg.Events)
}

func TestToConnectError(t *testing.T) {
	tests := []struct {
		err  error
		code connect.Code
	}{
		{miner.ErrSessionNotFound, connect.CodeNotFound},
		{miner.ErrSessionExists, connect.CodeAlreadyExists},
		{miner.ErrInvalidTransition, connect.CodeFailedPrecondition},
		{miner.ErrRestartRequired, connect.CodeFailedPrecondition},
		{miner.ErrSessionStopping, connect.CodeUnavailable},
		{context.DeadlineExceeded, connect.CodeDeadlineExceeded},
		{errors.New("disk full"), connect.CodeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, toConnectError(tt.err).Code(), tt.err.Error())
	}
}
