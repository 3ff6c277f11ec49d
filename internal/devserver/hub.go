package devserver

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/paperchat/internal/chat"
	"github.com/matheus3301/paperchat/internal/transport"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10
)

// client is a middleman between one websocket connection and the hub.
type client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	user chat.User

	// Rooms joined; owned by the hub loop.
	rooms map[string]bool
}

type membership struct {
	client *client
	room   string
}

// delivery is one frame fanned out by the hub. Room members other than
// except get it; users get it on every connection not currently in
// skipRoom.
type delivery struct {
	frame    []byte
	room     string
	except   *client
	users    []string
	skipRoom string
}

// Hub maintains the set of active clients and their conversation rooms.
type Hub struct {
	// Registered clients by user id.
	clients map[string][]*client

	rooms map[string]map[*client]bool

	register   chan *client
	unregister chan *client
	join       chan membership
	leave      chan membership
	deliver    chan delivery
	done       chan struct{}

	logger *zap.Logger
}

func newHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string][]*client),
		rooms:      make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		join:       make(chan membership),
		leave:      make(chan membership),
		deliver:    make(chan delivery, 64),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// submit hands v to the hub loop unless the hub has stopped.
func submit[T any](h *Hub, ch chan<- T, v T) {
	select {
	case ch <- v:
	case <-h.done:
	}
}

func (h *Hub) stop() {
	close(h.done)
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c.user.ID] = append(h.clients[c.user.ID], c)
		case c := <-h.unregister:
			h.remove(c)
		case m := <-h.join:
			if h.rooms[m.room] == nil {
				h.rooms[m.room] = make(map[*client]bool)
			}
			h.rooms[m.room][m.client] = true
			m.client.rooms[m.room] = true
		case m := <-h.leave:
			h.part(m.client, m.room)
		case d := <-h.deliver:
			h.fanOut(d)
		case <-h.done:
			for _, conns := range h.clients {
				for _, c := range conns {
					close(c.send)
				}
			}
			h.clients = make(map[string][]*client)
			h.rooms = make(map[string]map[*client]bool)
			return
		}
	}
}

func (h *Hub) fanOut(d delivery) {
	var targets []*client
	if d.room != "" {
		for c := range h.rooms[d.room] {
			if c != d.except {
				targets = append(targets, c)
			}
		}
	}
	for _, uid := range d.users {
		for _, c := range h.clients[uid] {
			if d.skipRoom != "" && c.rooms[d.skipRoom] {
				continue
			}
			targets = append(targets, c)
		}
	}
	for _, c := range targets {
		select {
		case c.send <- d.frame:
		default:
			h.logger.Warn("dropping slow client", zap.String("user_id", c.user.ID))
			h.remove(c)
		}
	}
}

func (h *Hub) part(c *client, room string) {
	delete(c.rooms, room)
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// remove drops c from every index and closes its send channel. Removing a
// client twice is a no-op.
func (h *Hub) remove(c *client) {
	conns := h.clients[c.user.ID]
	for i, other := range conns {
		if other != c {
			continue
		}
		conns[i] = conns[len(conns)-1]
		conns[len(conns)-1] = nil
		conns = conns[:len(conns)-1]
		if len(conns) == 0 {
			delete(h.clients, c.user.ID)
		} else {
			h.clients[c.user.ID] = conns
		}
		for room := range c.rooms {
			h.part(c, room)
		}
		close(c.send)
		return
	}
}

// frame encodes one envelope.
func frame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(transport.Envelope{Event: event, Data: raw})
}

// readPump pumps frames from the websocket connection to the server's event
// handler. It runs in a per-connection goroutine.
func (c *client) readPump(handle func(*client, transport.Envelope)) {
	defer func() {
		submit(c.hub, c.hub.unregister, c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("read error", zap.String("user_id", c.user.ID), zap.Error(err))
			}
			return
		}
		var env transport.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.hub.logger.Warn("could not process frame", zap.String("user_id", c.user.ID), zap.Error(err))
			continue
		}
		handle(c, env)
	}
}

// writePump pumps frames from the hub to the websocket connection. It is the
// only writer of the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
