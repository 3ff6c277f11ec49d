package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the gRPC connection to a session daemon.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials the daemon's Unix domain socket.
func NewClient(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) session(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, "/"+sessionServiceName+"/"+method, in, out)
}

func (c *Client) chat(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, "/"+chatServiceName+"/"+method, in, out)
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	out := new(StatusResponse)
	return out, c.session(ctx, "Status", &StatusRequest{}, out)
}

func (c *Client) Login(ctx context.Context, req *LoginRequest) (*StatusResponse, error) {
	out := new(StatusResponse)
	return out, c.session(ctx, "Login", req, out)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.session(ctx, "Logout", &Empty{}, &Empty{})
}

func (c *Client) Open(ctx context.Context, req *OpenRequest) (*OpenResponse, error) {
	out := new(OpenResponse)
	return out, c.chat(ctx, "Open", req, out)
}

func (c *Client) CloseConversation(ctx context.Context) error {
	return c.chat(ctx, "Close", &Empty{}, &Empty{})
}

func (c *Client) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	out := new(SendResponse)
	return out, c.chat(ctx, "Send", req, out)
}

func (c *Client) Typing(ctx context.Context) error {
	return c.chat(ctx, "Typing", &Empty{}, &Empty{})
}

func (c *Client) MarkRead(ctx context.Context, ids ...string) (*MarkReadResponse, error) {
	out := new(MarkReadResponse)
	return out, c.chat(ctx, "MarkRead", &MarkReadRequest{MessageIDs: ids}, out)
}

func (c *Client) Retry(ctx context.Context, id string) error {
	return c.chat(ctx, "Retry", &MessageRequest{MessageID: id}, &Empty{})
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.chat(ctx, "Delete", &MessageRequest{MessageID: id}, &Empty{})
}

func (c *Client) Clear(ctx context.Context) error {
	return c.chat(ctx, "Clear", &Empty{}, &Empty{})
}

func (c *Client) Dismiss(ctx context.Context, req *DismissRequest) error {
	return c.chat(ctx, "Dismiss", req, &Empty{})
}

func (c *Client) OpenNotification(ctx context.Context, id string) (*OpenResponse, error) {
	out := new(OpenResponse)
	return out, c.chat(ctx, "OpenNotification", &MessageRequest{MessageID: id}, out)
}

func (c *Client) Snapshot(ctx context.Context) (*SnapshotResponse, error) {
	out := new(SnapshotResponse)
	return out, c.chat(ctx, "Snapshot", &Empty{}, out)
}

func (c *Client) Recent(ctx context.Context, limit int) (*RecentResponse, error) {
	out := new(RecentResponse)
	return out, c.chat(ctx, "Recent", &RecentRequest{Limit: limit}, out)
}

func (c *Client) Search(ctx context.Context, req *SearchRequest) (*MessagesResponse, error) {
	out := new(MessagesResponse)
	return out, c.chat(ctx, "Search", req, out)
}

func (c *Client) SearchUsers(ctx context.Context, query string) (*UsersResponse, error) {
	out := new(UsersResponse)
	return out, c.chat(ctx, "SearchUsers", &SearchRequest{Query: query}, out)
}

func (c *Client) Users(ctx context.Context) (*UsersResponse, error) {
	out := new(UsersResponse)
	return out, c.chat(ctx, "Users", &Empty{}, out)
}

func (c *Client) Conversations(ctx context.Context, refresh bool) (*ConversationsResponse, error) {
	out := new(ConversationsResponse)
	return out, c.chat(ctx, "Conversations", &ConversationsRequest{Refresh: refresh}, out)
}

// Watcher receives streamed bus events.
type Watcher struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (w *Watcher) Recv() (*Event, error) {
	evt := new(Event)
	if err := w.stream.RecvMsg(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Watch opens an event stream filtered by kind prefix. Cancel ctx to end it.
func (c *Client) Watch(ctx context.Context, prefix string) (*Watcher, error) {
	stream, err := c.conn.NewStream(ctx, &chatServiceDesc.Streams[0], "/"+chatServiceName+"/Watch")
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchRequest{Prefix: prefix}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Watcher{stream: stream}, nil
}
