package api

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/paperchat/internal/bus"
	"github.com/matheus3301/paperchat/internal/chat"
	"github.com/matheus3301/paperchat/internal/status"
	"github.com/matheus3301/paperchat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type stubLive struct {
	mu    sync.Mutex
	state status.State
}

func (s *stubLive) Connect(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = status.Connected
}

func (s *stubLive) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = status.Disconnected
}

func (s *stubLive) Publish(string, any)                     {}
func (s *stubLive) Subscribe(string, func(json.RawMessage)) {}
func (s *stubLive) Unsubscribe(string)                      {}

func (s *stubLive) State() status.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return status.Disconnected
	}
	return s.state
}

type stubDurable struct{}

func (stubDurable) SetToken(string) {}
func (stubDurable) FetchHistory(context.Context, string) ([]chat.Message, error) {
	return nil, nil
}
func (stubDurable) MarkRead(context.Context, string, []string) error { return nil }
func (stubDurable) DeleteMessage(context.Context, string) error      { return nil }
func (stubDurable) Clear(context.Context, string) error              { return nil }
func (stubDurable) UnreadCount(context.Context) (int, error)         { return 0, nil }
func (stubDurable) Conversations(context.Context) ([]chat.Conversation, error) {
	return []chat.Conversation{{ID: "A-B", Peer: chat.User{ID: "B", Name: "Bea"}, UnreadCount: 1}}, nil
}

type stubOutbox struct{}

func (stubOutbox) Queue(chat.Message) error              { return nil }
func (stubOutbox) Retry(string) error                    { return nil }
func (stubOutbox) Discard(string) error                  { return nil }
func (stubOutbox) Unsent(string) ([]chat.Message, error) { return nil, nil }

type stubDirectory struct{}

func (stubDirectory) SearchUsers(_ context.Context, query string) ([]chat.User, error) {
	return []chat.User{{ID: "B", Name: "Bea " + query}}, nil
}

func (stubDirectory) Users(context.Context) ([]chat.User, error) {
	return []chat.User{{ID: "B", Name: "Bea"}, {ID: "C", Name: "Cid"}}, nil
}

type harness struct {
	client *Client
	db     *store.DB
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	tmpDir, err := os.MkdirTemp("/tmp", "paperchat-api-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	db, _, err := store.OpenMigrated(filepath.Join(tmpDir, "paperchat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	engine := chat.NewEngine(chat.Config{}, &stubLive{}, stubDurable{}, stubOutbox{}, bus.New(), logger, chat.WithCache(db))
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	srv := grpc.NewServer()
	RegisterSessionServer(srv, NewSessionService("test", engine, logger))
	RegisterChatServer(srv, NewChatService(engine, db, stubDirectory{}, "test", logger))

	socketPath := filepath.Join(tmpDir, "d.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	client, err := NewClient(socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return &harness{client: client, db: db}
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	resp, err := h.client.Login(context.Background(), &LoginRequest{UserID: "A", UserName: "Ann", Token: "tok"})
	require.NoError(t, err)
	require.Equal(t, "A", resp.User.ID)
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, grpcstatus.Code(err), "error: %v", err)
}

func TestStatusBeforeLogin(t *testing.T) {
	h := newHarness(t)
	resp, err := h.client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", resp.Session)
	assert.Equal(t, status.Disconnected, resp.State)
	assert.Empty(t, resp.User.ID)
}

func TestCommandsRequireSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.Send(ctx, &SendRequest{Text: "hi"})
	requireCode(t, err, codes.FailedPrecondition)

	_, err = h.client.Open(ctx, &OpenRequest{PeerID: "B"})
	requireCode(t, err, codes.FailedPrecondition)

	_, err = h.client.Login(ctx, &LoginRequest{})
	requireCode(t, err, codes.InvalidArgument)
}

func TestLoginOpenAndSend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t)

	st, err := h.client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.Connected, st.State)

	open, err := h.client.Open(ctx, &OpenRequest{PeerID: "B", PeerName: "Bea"})
	require.NoError(t, err)
	assert.Equal(t, "A-B", open.ConversationID)

	_, err = h.client.Send(ctx, &SendRequest{Text: "   "})
	requireCode(t, err, codes.InvalidArgument)

	sent, err := h.client.Send(ctx, &SendRequest{Text: "hello"})
	require.NoError(t, err)
	assert.True(t, sent.Message.IsPending())
	assert.Equal(t, chat.StatusPending, sent.Message.Status)

	reply, err := h.client.Send(ctx, &SendRequest{Text: "again", ReplyToID: sent.Message.ID})
	require.NoError(t, err)
	require.NotNil(t, reply.Message.ReplyTo)
	assert.Equal(t, "hello", reply.Message.ReplyTo.Body)

	_, err = h.client.Send(ctx, &SendRequest{Text: "x", ReplyToID: "missing"})
	requireCode(t, err, codes.NotFound)

	snap, err := h.client.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A-B", snap.Snapshot.ConversationID)
	require.Len(t, snap.Snapshot.Messages, 2)
	assert.Equal(t, "hello", snap.Snapshot.Messages[0].Body)

	recent, err := h.client.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent.Peers, 1)
	assert.Equal(t, "Bea", recent.Peers[0].User.Name)
	assert.Equal(t, "A-B", recent.Peers[0].ConversationID)

	require.NoError(t, h.client.CloseConversation(ctx))
	_, err = h.client.Send(ctx, &SendRequest{Text: "gone"})
	requireCode(t, err, codes.FailedPrecondition)
}

func TestMarkReadWithNothingUnread(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t)
	_, err := h.client.Open(ctx, &OpenRequest{PeerID: "B"})
	require.NoError(t, err)

	resp, err := h.client.MarkRead(ctx)
	require.NoError(t, err)
	assert.Zero(t, resp.Marked)

	resp, err = h.client.MarkRead(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Marked)
}

func TestDismissUnknownNotification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t)

	err := h.client.Dismiss(ctx, &DismissRequest{MessageID: "nope"})
	requireCode(t, err, codes.NotFound)
	err = h.client.Dismiss(ctx, &DismissRequest{Index: 3})
	requireCode(t, err, codes.NotFound)
	_, err = h.client.OpenNotification(ctx, "nope")
	requireCode(t, err, codes.NotFound)
}

func TestSearch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.db.SaveMessages([]chat.Message{{
		ID:             "m1",
		ConversationID: "A-B",
		SenderID:       "B",
		RecipientID:    "A",
		Body:           "hello there",
		Kind:           chat.KindText,
		CreatedAt:      time.Unix(1000, 0),
	}}))

	resp, err := h.client.Search(ctx, &SearchRequest{Query: "hello"})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "m1", resp.Messages[0].ID)

	_, err = h.client.Search(ctx, &SearchRequest{Query: " "})
	requireCode(t, err, codes.InvalidArgument)

	users, err := h.client.SearchUsers(ctx, "b")
	require.NoError(t, err)
	require.Len(t, users.Users, 1)
	assert.Equal(t, "Bea b", users.Users[0].Name)
}

func TestWatchStreamsEngineEvents(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.login(t)
	_, err := h.client.Open(ctx, &OpenRequest{PeerID: "B"})
	require.NoError(t, err)

	w, err := h.client.Watch(ctx, bus.KindMessagesChanged)
	require.NoError(t, err)
	events := make(chan *Event, 16)
	go func() {
		for {
			evt, err := w.Recv()
			if err != nil {
				return
			}
			events <- evt
		}
	}()

	// The server subscribes asynchronously, so keep producing changes until
	// one arrives.
	deadline := time.After(5 * time.Second)
	for {
		_, err := h.client.Send(ctx, &SendRequest{Text: "ping"})
		require.NoError(t, err)
		select {
		case evt := <-events:
			assert.Equal(t, bus.KindMessagesChanged, evt.Kind)
			assert.Equal(t, "test", evt.Session)
			assert.NotEmpty(t, evt.ID)
			var payload chat.MessagesChanged
			require.NoError(t, json.Unmarshal(evt.Payload, &payload))
			assert.Equal(t, "A-B", payload.ConversationID)
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("timeout waiting for watched event")
		}
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.login(t)

	require.NoError(t, h.client.Logout(ctx))
	st, err := h.client.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.User.ID)
	assert.Equal(t, status.Disconnected, st.State)
}

func TestUsersAndConversations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	users, err := h.client.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users.Users, 2)

	_, err = h.client.Conversations(ctx, true)
	requireCode(t, err, codes.FailedPrecondition)

	h.login(t)
	require.Eventually(t, func() bool {
		resp, err := h.client.Conversations(ctx, false)
		return err == nil && len(resp.Conversations) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := h.client.Conversations(ctx, true)
	require.NoError(t, err)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "A-B", resp.Conversations[0].ID)
	assert.Equal(t, "Bea", resp.Conversations[0].Peer.Name)
}
