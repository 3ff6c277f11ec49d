package api

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/paperchat/internal/chat"
	"github.com/matheus3301/paperchat/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Directory looks users up on the backend.
type Directory interface {
	SearchUsers(ctx context.Context, query string) ([]chat.User, error)
	Users(ctx context.Context) ([]chat.User, error)
}

// ChatService implements ChatServer. Commands go to the engine; recent peers
// and message search are answered from the local store.
type ChatService struct {
	engine      *chat.Engine
	db          *store.DB
	directory   Directory
	sessionName string
	logger      *zap.Logger
}

// NewChatService creates a new chat service.
func NewChatService(engine *chat.Engine, db *store.DB, directory Directory, sessionName string, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		engine:      engine,
		db:          db,
		directory:   directory,
		sessionName: sessionName,
		logger:      logger,
	}
}

func (s *ChatService) Open(_ context.Context, req *OpenRequest) (*OpenResponse, error) {
	if req.PeerID == "" && req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "open: peer id or conversation id is required")
	}
	peer := chat.User{ID: req.PeerID, Name: req.PeerName}
	id := req.ConversationID
	var err error
	if id != "" {
		err = s.engine.OpenConversation(id, peer)
	} else {
		id, err = s.engine.Open(peer)
	}
	if err != nil {
		return nil, toStatus("open", err)
	}
	if s.db != nil && peer.ID != "" {
		if err := s.db.RememberPeer(peer, id); err != nil {
			s.logger.Warn("remember peer failed", zap.String("peer_id", peer.ID), zap.Error(err))
		}
	}
	return &OpenResponse{ConversationID: id}, nil
}

func (s *ChatService) Close(_ context.Context, _ *Empty) (*Empty, error) {
	if err := s.engine.Close(); err != nil {
		return nil, toStatus("close", err)
	}
	return &Empty{}, nil
}

func (s *ChatService) Send(_ context.Context, req *SendRequest) (*SendResponse, error) {
	var (
		m   chat.Message
		err error
	)
	if req.File {
		m, err = s.engine.SendFile(req.Text)
		return sendResponse(m, err)
	}
	var replyTo *chat.ReplyRef
	if req.ReplyToID != "" {
		for _, existing := range s.engine.Messages() {
			if existing.ID == req.ReplyToID {
				replyTo = existing.Ref()
				break
			}
		}
		if replyTo == nil {
			return nil, grpcstatus.Errorf(codes.NotFound, "send: reply target %s is not in the open conversation", req.ReplyToID)
		}
	}
	m, err = s.engine.Send(req.Text, replyTo)
	return sendResponse(m, err)
}

func sendResponse(m chat.Message, err error) (*SendResponse, error) {
	if err != nil {
		return nil, toStatus("send", err)
	}
	return &SendResponse{Message: m}, nil
}

func (s *ChatService) Typing(_ context.Context, _ *Empty) (*Empty, error) {
	if err := s.engine.NotifyTyping(); err != nil {
		return nil, toStatus("typing", err)
	}
	return &Empty{}, nil
}

func (s *ChatService) MarkRead(ctx context.Context, req *MarkReadRequest) (*MarkReadResponse, error) {
	ids := req.MessageIDs
	if len(ids) == 0 {
		snap, err := s.engine.Snapshot()
		if err != nil {
			return nil, toStatus("mark read", err)
		}
		for _, m := range snap.Messages {
			if !m.IsRead && !m.IsPending() && m.SenderID != snap.Self.ID {
				ids = append(ids, m.ID)
			}
		}
		if len(ids) == 0 {
			return &MarkReadResponse{}, nil
		}
	}
	if err := s.engine.MarkRead(ctx, ids); err != nil {
		return nil, toStatus("mark read", err)
	}
	return &MarkReadResponse{Marked: len(ids)}, nil
}

func (s *ChatService) Retry(_ context.Context, req *MessageRequest) (*Empty, error) {
	if err := s.engine.Retry(req.MessageID); err != nil {
		return nil, toStatus("retry", err)
	}
	return &Empty{}, nil
}

func (s *ChatService) Delete(ctx context.Context, req *MessageRequest) (*Empty, error) {
	if err := s.engine.Delete(ctx, req.MessageID); err != nil {
		return nil, toStatus("delete", err)
	}
	return &Empty{}, nil
}

func (s *ChatService) Clear(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.engine.Clear(ctx); err != nil {
		return nil, toStatus("clear", err)
	}
	return &Empty{}, nil
}

func (s *ChatService) Dismiss(_ context.Context, req *DismissRequest) (*Empty, error) {
	var err error
	if req.MessageID != "" {
		err = s.engine.DismissNotification(req.MessageID)
	} else {
		err = s.engine.DismissAt(req.Index)
	}
	if err != nil {
		return nil, toStatus("dismiss", err)
	}
	return &Empty{}, nil
}

func (s *ChatService) OpenNotification(_ context.Context, req *MessageRequest) (*OpenResponse, error) {
	id, err := s.engine.OpenNotification(req.MessageID)
	if err != nil {
		return nil, toStatus("open notification", err)
	}
	return &OpenResponse{ConversationID: id}, nil
}

func (s *ChatService) Snapshot(_ context.Context, _ *Empty) (*SnapshotResponse, error) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		return nil, toStatus("snapshot", err)
	}
	return &SnapshotResponse{Snapshot: snap}, nil
}

func (s *ChatService) Recent(_ context.Context, req *RecentRequest) (*RecentResponse, error) {
	if s.db == nil {
		return &RecentResponse{}, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	peers, err := s.db.RecentPeers(limit)
	if err != nil {
		return nil, toStatus("recent", err)
	}
	resp := &RecentResponse{Peers: make([]RecentPeer, 0, len(peers))}
	for _, p := range peers {
		resp.Peers = append(resp.Peers, RecentPeer{
			User:           p.User,
			ConversationID: p.ConversationID,
			LastOpenedAtMs: p.LastOpenedAt,
		})
	}
	return resp, nil
}

func (s *ChatService) Search(_ context.Context, req *SearchRequest) (*MessagesResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "search: query is required")
	}
	if s.db == nil {
		return &MessagesResponse{}, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	msgs, err := s.db.SearchMessages(req.Query, req.ConversationID, limit)
	if err != nil {
		return nil, toStatus("search", err)
	}
	return &MessagesResponse{Messages: msgs}, nil
}

func (s *ChatService) SearchUsers(ctx context.Context, req *SearchRequest) (*UsersResponse, error) {
	if s.directory == nil {
		return nil, grpcstatus.Error(codes.Unimplemented, "search users: no directory configured")
	}
	users, err := s.directory.SearchUsers(ctx, req.Query)
	if err != nil {
		return nil, toStatus("search users", err)
	}
	return &UsersResponse{Users: users}, nil
}

func (s *ChatService) Users(ctx context.Context, _ *Empty) (*UsersResponse, error) {
	if s.directory == nil {
		return nil, grpcstatus.Error(codes.Unimplemented, "users: no directory configured")
	}
	users, err := s.directory.Users(ctx)
	if err != nil {
		return nil, toStatus("users", err)
	}
	return &UsersResponse{Users: users}, nil
}

func (s *ChatService) Conversations(ctx context.Context, req *ConversationsRequest) (*ConversationsResponse, error) {
	if !req.Refresh {
		snap, err := s.engine.Snapshot()
		if err != nil {
			return nil, toStatus("conversations", err)
		}
		return &ConversationsResponse{Conversations: snap.Conversations}, nil
	}
	convs, err := s.engine.RefreshConversations(ctx)
	if err != nil {
		return nil, toStatus("conversations", err)
	}
	return &ConversationsResponse{Conversations: convs}, nil
}

// Watch streams bus events until the client goes away.
func (s *ChatService) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	ch, unsub := s.engine.Bus().Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := json.Marshal(eventPayload(evt.Payload))
			if err != nil {
				s.logger.Warn("encode event payload failed", zap.String("kind", evt.Kind), zap.Error(err))
				payload = nil
			}
			if err := stream.SendMsg(&Event{
				ID:               uuid.New().String(),
				Session:          s.sessionName,
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Payload:          payload,
			}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// sendFailure is chat.SendFailure with its error flattened for the wire.
type sendFailure struct {
	TempID         string `json:"tempId"`
	ConversationID string `json:"conversationId"`
	Err            string `json:"error"`
}

func eventPayload(p any) any {
	if f, ok := p.(chat.SendFailure); ok {
		out := sendFailure{TempID: f.TempID, ConversationID: f.ConversationID}
		if f.Err != nil {
			out.Err = f.Err.Error()
		}
		return out
	}
	return p
}
