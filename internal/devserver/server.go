// Package devserver is a loopback chat backend speaking the REST and live
// protocols the engine expects. It keeps everything in memory and trusts
// the bearer token as the caller's user id.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/paperchat/internal/chat"
	"github.com/matheus3301/paperchat/internal/transport"
	"go.uber.org/zap"
)

type ctxKey struct{}

// Server is the dev backend. Call Start before serving and Close when done.
type Server struct {
	router   *chi.Mux
	hub      *Hub
	store    *memStore
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	users map[string]chat.User
}

// New creates a server that knows the given users. Unknown callers are
// registered on first contact with their id as name.
func New(logger *zap.Logger, users ...chat.User) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router: chi.NewRouter(),
		hub:    newHub(logger),
		store:  newMemStore(),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		users: make(map[string]chat.User),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	s.routes()
	return s
}

// Start runs the live hub.
func (s *Server) Start() {
	go s.hub.run()
}

// Close stops the hub and drops every live connection.
func (s *Server) Close() {
	s.hub.stop()
}

// Handler returns the HTTP handler serving /api and /live.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.Start()
	defer s.Close()

	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("dev server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() {
	r := s.router
	r.Use(cors.Handler(cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api/chat", func(r chi.Router) {
		r.Use(s.authenticator)
		r.Get("/history/{conversationId}", s.getHistory)
		r.Post("/send", s.postSend)
		r.Put("/read", s.putRead)
		r.Delete("/message/{messageId}", s.deleteMessage)
		r.Delete("/clear/{conversationId}", s.deleteConversation)
		r.Get("/unread-count", s.getUnreadCount)
		r.Get("/search/users", s.searchUsers)
		r.Get("/users", s.listUsers)
		r.Get("/conversations", s.listConversations)
	})

	r.With(s.authenticator).Get("/live", s.serveLive)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

// authenticator resolves the bearer token to a user.
func (s *Server) authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		u := s.user(strings.TrimSpace(token))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

func caller(r *http.Request) chat.User {
	u, _ := r.Context().Value(ctxKey{}).(chat.User)
	return u
}

func (s *Server) user(id string) chat.User {
	s.mu.RLock()
	u, ok := s.users[id]
	s.mu.RUnlock()
	if ok {
		return u
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u
	}
	u = chat.User{ID: id, Name: id}
	s.users[id] = u
	return u
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	conv := chi.URLParam(r, "conversationId")
	if !isParticipant(conv, caller(r).ID) {
		writeError(w, http.StatusForbidden, errNotMember.Error())
		return
	}
	msgs := s.store.history(conv)
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) postSend(w http.ResponseWriter, r *http.Request) {
	var req chat.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	m, err := s.accept(caller(r), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": m})
}

type readRequest struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

func (s *Server) putRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	changed := s.markRead(caller(r), req.ConversationID, req.MessageIDs, nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": len(changed)})
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	err := s.store.remove(chi.URLParam(r, "messageId"), caller(r).ID)
	switch {
	case errors.Is(err, errUnknownMsg):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.store.clear(chi.URLParam(r, "conversationId"), caller(r).ID); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) getUnreadCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"unreadCount": s.store.unread(caller(r).ID)})
}

func (s *Server) searchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("query")))
	self := caller(r).ID
	users := []chat.User{}
	s.mu.RLock()
	for _, u := range s.users {
		if u.ID == self {
			continue
		}
		if q == "" || strings.Contains(strings.ToLower(u.Name), q) {
			users = append(users, u)
		}
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	self := caller(r).ID
	users := []chat.User{}
	s.mu.RLock()
	for _, u := range s.users {
		if u.ID != self {
			users = append(users, u)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(users, func(a, b chat.User) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"conversations": s.store.conversations(caller(r).ID)})
}

func (s *Server) serveLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		hub:   s.hub,
		conn:  conn,
		send:  make(chan []byte, 256),
		user:  caller(r),
		rooms: make(map[string]bool),
	}
	submit(s.hub, s.hub.register, c)
	go c.writePump()
	go c.readPump(s.handleEvent)
}

// accept stores a send from either write path and, the first time a client
// id is seen, pushes it to the conversation room and notifies the recipient
// wherever they are not looking at the conversation.
func (s *Server) accept(sender chat.User, req chat.SendRequest) (chat.Message, error) {
	var recipient chat.User
	if req.RecipientID != "" {
		recipient = s.user(req.RecipientID)
		if req.RecipientName != "" && recipient.Name == recipient.ID {
			recipient.Name = req.RecipientName
		}
	}
	m, created, err := s.store.accept(sender, recipient, req)
	if err != nil || !created {
		return m, err
	}
	s.push(delivery{room: m.ConversationID}, chat.EventMessageReceived, m)
	s.push(delivery{users: []string{m.RecipientID}, skipRoom: m.ConversationID}, chat.EventMessageNotification, m)
	return m, nil
}

func (s *Server) markRead(reader chat.User, conv string, ids []string, except *client) []string {
	changed := s.store.markRead(conv, reader.ID, ids)
	if len(changed) > 0 {
		s.push(delivery{room: conv, except: except}, chat.EventMessagesRead, chat.ReadPayload{
			ConversationID: conv,
			MessageIDs:     changed,
			ReaderID:       reader.ID,
		})
	}
	return changed
}

func (s *Server) push(d delivery, event string, data any) {
	f, err := frame(event, data)
	if err != nil {
		s.logger.Error("encode frame failed", zap.String("event", event), zap.Error(err))
		return
	}
	d.frame = f
	submit(s.hub, s.hub.deliver, d)
}

// handleEvent dispatches one inbound live frame.
func (s *Server) handleEvent(c *client, env transport.Envelope) {
	switch env.Event {
	case chat.EventJoin, chat.EventLeave:
		var room string
		if err := json.Unmarshal(env.Data, &room); err != nil || !isParticipant(room, c.user.ID) {
			s.logger.Warn("rejecting room change", zap.String("user_id", c.user.ID), zap.String("room", room))
			return
		}
		if env.Event == chat.EventJoin {
			submit(s.hub, s.hub.join, membership{client: c, room: room})
		} else {
			submit(s.hub, s.hub.leave, membership{client: c, room: room})
		}
	case chat.EventSendMessage:
		var req chat.SendRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			s.logger.Warn("bad sendMessage", zap.Error(err))
			return
		}
		if _, err := s.accept(c.user, req); err != nil {
			s.logger.Info("send rejected", zap.String("user_id", c.user.ID), zap.Error(err))
		}
	case chat.EventTyping:
		var p chat.TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" {
			return
		}
		p.UserID, p.UserName = c.user.ID, c.user.Name
		s.push(delivery{room: p.ConversationID, except: c}, chat.EventUserTyping, p)
	case chat.EventStopTyping:
		var room string
		if err := json.Unmarshal(env.Data, &room); err != nil || room == "" {
			return
		}
		s.push(delivery{room: room, except: c}, chat.EventUserStoppedTyping, chat.TypingPayload{
			ConversationID: room,
			UserID:         c.user.ID,
			UserName:       c.user.Name,
		})
	case chat.EventMarkAsRead:
		var p chat.ReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" {
			return
		}
		s.markRead(c.user, p.ConversationID, p.MessageIDs, c)
	default:
		s.logger.Debug("ignoring live event", zap.String("event", env.Event))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}
