package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/kkkkikiki/dropsminer/internal/metrics"
	"github.com/kkkkikiki/dropsminer/internal/miner"
	"github.com/kkkkikiki/dropsminer/internal/model"
)

// MinerServiceName is the fully-qualified name of the session control service.
const MinerServiceName = "miner.v1.MinerService"

// Procedure paths of MinerService.
const (
	CreateSessionProcedure  = "/miner.v1.MinerService/CreateSession"
	DestroySessionProcedure = "/miner.v1.MinerService/DestroySession"
	StartSessionProcedure   = "/miner.v1.MinerService/StartSession"
	PauseSessionProcedure   = "/miner.v1.MinerService/PauseSession"
	ResumeSessionProcedure  = "/miner.v1.MinerService/ResumeSession"
	StopSessionProcedure    = "/miner.v1.MinerService/StopSession"
	RestartSessionProcedure = "/miner.v1.MinerService/RestartSession"
	GetStatusProcedure      = "/miner.v1.MinerService/GetStatus"
	ListSessionsProcedure   = "/miner.v1.MinerService/ListSessions"
	ClaimHistoryProcedure   = "/miner.v1.MinerService/GetClaimHistory"
)

// CreateSessionRequest links an account and registers its session.
type CreateSessionRequest struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	AutoStart bool   `json:"auto_start"`
}

// SessionRequest addresses a single session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// SessionResponse carries the status of a session after a command.
type SessionResponse struct {
	Session model.SessionStatus `json:"session"`
}

type ListSessionsRequest struct{}

type ListSessionsResponse struct {
	Sessions []model.SessionStatus `json:"sessions"`
}

type ClaimHistoryRequest struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

type ClaimHistoryResponse struct {
	Events []model.ClaimEvent `json:"events"`
}

// ClientFactory builds the API client of a newly linked account.
type ClientFactory func(sessionID, token string) (miner.Client, error)

// ClaimHistorySource returns the persisted claim attempts of a session.
type ClaimHistorySource interface {
	ClaimHistory(ctx context.Context, sessionID string, limit int) ([]model.ClaimEvent, error)
}

// MinerServer implements the session control service
type MinerServer struct {
	registry  *miner.Registry
	newClient ClientFactory
	history   ClaimHistorySource
	logger    *slog.Logger
}

// NewMinerServer creates a new MinerServer instance. history may be nil.
func NewMinerServer(registry *miner.Registry, newClient ClientFactory, history ClaimHistorySource, logger *slog.Logger) *MinerServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MinerServer{
		registry:  registry,
		newClient: newClient,
		history:   history,
		logger:    logger,
	}
}

// NewMinerServiceHandler builds the HTTP handler serving every MinerService
// procedure. It returns the path to mount the handler on.
func NewMinerServiceHandler(svc *MinerServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateSessionProcedure, connect.NewUnaryHandler(CreateSessionProcedure, svc.CreateSession, opts...))
	mux.Handle(DestroySessionProcedure, connect.NewUnaryHandler(DestroySessionProcedure, svc.DestroySession, opts...))
	mux.Handle(StartSessionProcedure, connect.NewUnaryHandler(StartSessionProcedure, svc.StartSession, opts...))
	mux.Handle(PauseSessionProcedure, connect.NewUnaryHandler(PauseSessionProcedure, svc.PauseSession, opts...))
	mux.Handle(ResumeSessionProcedure, connect.NewUnaryHandler(ResumeSessionProcedure, svc.ResumeSession, opts...))
	mux.Handle(StopSessionProcedure, connect.NewUnaryHandler(StopSessionProcedure, svc.StopSession, opts...))
	mux.Handle(RestartSessionProcedure, connect.NewUnaryHandler(RestartSessionProcedure, svc.RestartSession, opts...))
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(ListSessionsProcedure, connect.NewUnaryHandler(ListSessionsProcedure, svc.ListSessions, opts...))
	mux.Handle(ClaimHistoryProcedure, connect.NewUnaryHandler(ClaimHistoryProcedure, svc.GetClaimHistory, opts...))
	return "/" + MinerServiceName + "/", mux
}

// CreateSession links an account and registers a stopped session for it
func (s *MinerServer) CreateSession(
	ctx context.Context,
	req *connect.Request[CreateSessionRequest],
) (*connect.Response[SessionResponse], error) {
	id := strings.TrimSpace(req.Msg.SessionID)
	if id == "" || strings.TrimSpace(req.Msg.Token) == "" {
		return nil, s.commandError("create", connect.NewError(connect.CodeInvalidArgument, errors.New("session_id and token are required")))
	}

	client, err := s.newClient(id, req.Msg.Token)
	if err != nil {
		return nil, s.commandError("create", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("failed to build client: %w", err)))
	}
	if _, err := s.registry.Create(ctx, id, client); err != nil {
		return nil, s.commandError("create", toConnectError(err))
	}
	if req.Msg.AutoStart {
		if err := s.registry.Start(id); err != nil {
			return nil, s.commandError("create", toConnectError(err))
		}
	}
	return s.statusResponse("create", id)
}

// DestroySession stops a session and forgets it
func (s *MinerServer) DestroySession(
	ctx context.Context,
	req *connect.Request[SessionRequest],
) (*connect.Response[SessionResponse], error) {
	id := req.Msg.SessionID
	status, err := s.registry.Status(id)
	if err != nil {
		return nil, s.commandError("destroy", toConnectError(err))
	}
	if err := s.registry.Destroy(ctx, id); err != nil {
		return nil, s.commandError("destroy", toConnectError(err))
	}
	metrics.RecordCommand("destroy", "success")
	status.State = model.SessionStopped
	return connect.NewResponse(&SessionResponse{Session: status}), nil
}

// StartSession starts the polling loop of a session
func (s *MinerServer) StartSession(
	ctx context.Context,
	req *connect.Request[SessionRequest],
) (*connect.Response[SessionResponse], error) {
	if err := s.registry.Start(req.Msg.SessionID); err != nil {
		return nil, s.commandError("start", toConnectError(err))
	}
	return s.statusResponse("start", req.Msg.SessionID)
}

// PauseSession suppresses claim dispatch while fetching continues
func (s *MinerServer) PauseSession(
	ctx context.Context,
	req *connect.Request[SessionRequest],
) (*connect.Response[SessionResponse], error) {
	if err := s.registry.Pause(req.Msg.SessionID); err != nil {
		return nil, s.commandError("pause", toConnectError(err))
	}
	return s.statusResponse("pause", req.Msg.SessionID)
}

// ResumeSession re-enables claim dispatch
func (s *MinerServer) ResumeSession(
	ctx context.Context,
	req *connect.Request[SessionRequest],
) (*connect.Response[SessionResponse], error) {
	if err := s.registry.Resume(req.Msg.SessionID); err != nil {
		return nil, s.commandError("resume", toConnectError(err))
	}
	return s.statusResponse("resume", req.Msg.SessionID)
}

// StopSession stops the loop and waits for the in-flight iteration to finish
func (s *MinerServer) StopSession(
	ctx context.Context,
	req *connect.Request[SessionRequest],
) (*connect.Response[SessionResponse], error) {
	if err := s.registry.Stop(ctx, req.Msg.SessionID); err != nil {
		return nil, s.commandError("stop", toConnectError(err))
	}
	return s.statusResponse("stop", req.Msg.SessionID)
}

// RestartSession recovers a session from the ERROR state
func (s *MinerServer) RestartSession(
	ctx context.Context,
	req *connect.Request[SessionRequest],
) (*connect.Response[SessionResponse], error) {
	if err := s.registry.Restart(req.Msg.SessionID); err != nil {
		return nil, s.commandError("restart", toConnectError(err))
	}
	return s.statusResponse("restart", req.Msg.SessionID)
}

// GetStatus returns the read-only status of a session
func (s *MinerServer) GetStatus(
	ctx context.Context,
	req *connect.Request[SessionRequest],
) (*connect.Response[SessionResponse], error) {
	status, err := s.registry.Status(req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SessionResponse{Session: status}), nil
}

// ListSessions returns the status of every session
func (s *MinerServer) ListSessions(
	ctx context.Context,
	req *connect.Request[ListSessionsRequest],
) (*connect.Response[ListSessionsResponse], error) {
	return connect.NewResponse(&ListSessionsResponse{Sessions: s.registry.List()}), nil
}

// GetClaimHistory returns the persisted claim attempts of a session
func (s *MinerServer) GetClaimHistory(
	ctx context.Context,
	req *connect.Request[ClaimHistoryRequest],
) (*connect.Response[ClaimHistoryResponse], error) {
	if s.history == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, errors.New("claim history is not persisted"))
	}
	if _, err := s.registry.Get(req.Msg.SessionID); err != nil {
		return nil, toConnectError(err)
	}
	events, err := s.history.ClaimHistory(ctx, req.Msg.SessionID, req.Msg.Limit)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to get claim history: %w", err))
	}
	return connect.NewResponse(&ClaimHistoryResponse{Events: events}), nil
}

func (s *MinerServer) statusResponse(command, id string) (*connect.Response[SessionResponse], error) {
	status, err := s.registry.Status(id)
	if err != nil {
		return nil, s.commandError(command, toConnectError(err))
	}
	metrics.RecordCommand(command, "success")
	return connect.NewResponse(&SessionResponse{Session: status}), nil
}

func (s *MinerServer) commandError(command string, err *connect.Error) *connect.Error {
	metrics.RecordCommand(command, err.Code().String())
	if err.Code() == connect.CodeInternal {
		s.logger.Error("session command failed", "command", command, "error", err)
	}
	return err
}

// toConnectError maps registry and controller errors onto connect codes
func toConnectError(err error) *connect.Error {
	switch {
	case errors.Is(err, miner.ErrSessionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, miner.ErrSessionExists):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, miner.ErrInvalidTransition), errors.Is(err, miner.ErrRestartRequired):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, miner.ErrSessionStopping):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
