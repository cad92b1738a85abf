package service

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// MinerServiceClient is a client for MinerService.
type MinerServiceClient struct {
	createSession  *connect.Client[CreateSessionRequest, SessionResponse]
	destroySession *connect.Client[SessionRequest, SessionResponse]
	startSession   *connect.Client[SessionRequest, SessionResponse]
	pauseSession   *connect.Client[SessionRequest, SessionResponse]
	resumeSession  *connect.Client[SessionRequest, SessionResponse]
	stopSession    *connect.Client[SessionRequest, SessionResponse]
	restartSession *connect.Client[SessionRequest, SessionResponse]
	getStatus      *connect.Client[SessionRequest, SessionResponse]
	listSessions   *connect.Client[ListSessionsRequest, ListSessionsResponse]
	claimHistory   *connect.Client[ClaimHistoryRequest, ClaimHistoryResponse]
}

// NewMinerServiceClient constructs a client for the MinerService served at baseURL.
func NewMinerServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *MinerServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &MinerServiceClient{
		createSession:  connect.NewClient[CreateSessionRequest, SessionResponse](httpClient, baseURL+CreateSessionProcedure, opts...),
		destroySession: connect.NewClient[SessionRequest, SessionResponse](httpClient, baseURL+DestroySessionProcedure, opts...),
		startSession:   connect.NewClient[SessionRequest, SessionResponse](httpClient, baseURL+StartSessionProcedure, opts...),
		pauseSession:   connect.NewClient[SessionRequest, SessionResponse](httpClient, baseURL+PauseSessionProcedure, opts...),
		resumeSession:  connect.NewClient[SessionRequest, SessionResponse](httpClient, baseURL+ResumeSessionProcedure, opts...),
		stopSession:    connect.NewClient[SessionRequest, SessionResponse](httpClient, baseURL+StopSessionProcedure, opts...),
		restartSession: connect.NewClient[SessionRequest, SessionResponse](httpClient, baseURL+RestartSessionProcedure, opts...),
		getStatus:      connect.NewClient[SessionRequest, SessionResponse](httpClient, baseURL+GetStatusProcedure, opts...),
		listSessions:   connect.NewClient[ListSessionsRequest, ListSessionsResponse](httpClient, baseURL+ListSessionsProcedure, opts...),
		claimHistory:   connect.NewClient[ClaimHistoryRequest, ClaimHistoryResponse](httpClient, baseURL+ClaimHistoryProcedure, opts...),
	}
}

// CreateSession calls miner.v1.MinerService.CreateSession.
func (c *MinerServiceClient) CreateSession(ctx context.Context, req *connect.Request[CreateSessionRequest]) (*connect.Response[SessionResponse], error) {
	return c.createSession.CallUnary(ctx, req)
}

// DestroySession calls miner.v1.MinerService.DestroySession.
func (c *MinerServiceClient) DestroySession(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[SessionResponse], error) {
	return c.destroySession.CallUnary(ctx, req)
}

// StartSession calls miner.v1.MinerService.StartSession.
func (c *MinerServiceClient) StartSession(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[SessionResponse], error) {
	return c.startSession.CallUnary(ctx, req)
}

// PauseSession calls miner.v1.MinerService.PauseSession.
func (c *MinerServiceClient) PauseSession(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[SessionResponse], error) {
	return c.pauseSession.CallUnary(ctx, req)
}

// ResumeSession calls miner.v1.MinerService.ResumeSession.
func (c *MinerServiceClient) ResumeSession(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[SessionResponse], error) {
	return c.resumeSession.CallUnary(ctx, req)
}

// StopSession calls miner.v1.MinerService.StopSession.
func (c *MinerServiceClient) StopSession(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[SessionResponse], error) {
	return c.stopSession.CallUnary(ctx, req)
}

// RestartSession calls miner.v1.MinerService.RestartSession.
func (c *MinerServiceClient) RestartSession(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[SessionResponse], error) {
	return c.restartSession.CallUnary(ctx, req)
}

// GetStatus calls miner.v1.MinerService.GetStatus.
func (c *MinerServiceClient) GetStatus(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[SessionResponse], error) {
	return c.getStatus.CallUnary(ctx, req)
}

// ListSessions calls miner.v1.MinerService.ListSessions.
func (c *MinerServiceClient) ListSessions(ctx context.Context, req *connect.Request[ListSessionsRequest]) (*connect.Response[ListSessionsResponse], error) {
	return c.listSessions.CallUnary(ctx, req)
}

// GetClaimHistory calls miner.v1.MinerService.GetClaimHistory.
func (c *MinerServiceClient) GetClaimHistory(ctx context.Context, req *connect.Request[ClaimHistoryRequest]) (*connect.Response[ClaimHistoryResponse], error) {
	return c.claimHistory.CallUnary(ctx, req)
}
