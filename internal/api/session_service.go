package api

import (
	"context"
	"time"

	"github.com/matheus3301/paperchat/internal/chat"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// SessionService implements SessionServer on top of the chat engine.
type SessionService struct {
	sessionName string
	startedAt   time.Time
	engine      *chat.Engine
	logger      *zap.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(sessionName string, engine *chat.Engine, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessionName: sessionName,
		startedAt:   time.Now(),
		engine:      engine,
		logger:      logger,
	}
}

func (s *SessionService) Status(_ context.Context, _ *StatusRequest) (*StatusResponse, error) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		return nil, toStatus("status", err)
	}
	return &StatusResponse{
		Session:        s.sessionName,
		State:          snap.State,
		User:           snap.Self,
		ConversationID: snap.ConversationID,
		Unread:         snap.Unread,
		UptimeMs:       time.Since(s.startedAt).Milliseconds(),
	}, nil
}

func (s *SessionService) Login(ctx context.Context, req *LoginRequest) (*StatusResponse, error) {
	if req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "login: user id is required")
	}
	err := s.engine.Init(chat.Session{
		User:  chat.User{ID: req.UserID, Name: req.UserName},
		Token: req.Token,
	})
	if err != nil {
		return nil, toStatus("login", err)
	}
	s.logger.Info("logged in", zap.String("user_id", req.UserID))
	return s.Status(ctx, &StatusRequest{})
}

func (s *SessionService) Logout(_ context.Context, _ *Empty) (*Empty, error) {
	if err := s.engine.Teardown(); err != nil {
		return nil, toStatus("logout", err)
	}
	s.logger.Info("logged out")
	return &Empty{}, nil
}
