// Package server is the connection gateway: it authenticates websocket
// handshakes, registers connections with the hub and presence registry, and
// runs the read and write loops of every connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/omochice/socket-feed/internal/auth"
	"github.com/omochice/socket-feed/internal/chat"
	"github.com/omochice/socket-feed/internal/fanout"
	"github.com/omochice/socket-feed/internal/logger"
	"github.com/omochice/socket-feed/internal/presence"
	wsconn "github.com/omochice/socket-feed/internal/transport/ws"
	"github.com/omochice/socket-feed/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // browsers connect from the web app origin
	},
}

// ConversationAuthorizer decides whether a user may join a conversation channel.
// Without one, any authenticated connection may join any conversation.
type ConversationAuthorizer interface {
	CanJoin(ctx context.Context, userID, conversationID string) (bool, error)
}

// Options configures the gateway.
type Options struct {
	Addr            string
	WSPath          string
	SendQueue       int
	PingInterval    time.Duration
	WriteWait       time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
	Authorizer      ConversationAuthorizer
	// IngressToken enables POST /internal/events/:kind for the mutation
	// service. Empty leaves the route unregistered.
	IngressToken    string
}

func (o *Options) setDefaults() {
	if o.WSPath == "" {
		o.WSPath = "/ws"
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
}

// Server is the websocket gateway.
type Server struct {
	opts      Options
	hub       *chat.Hub
	presence  *presence.Registry
	auth      auth.Authenticator
	publisher *fanout.Publisher
	engine    *gin.Engine

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	clients  map[*chat.Client]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a gateway. The registry's transition hook is expected to
// publish presence events, see fanout.Publisher.PresenceChanged.
func New(opts Options, hub *chat.Hub, registry *presence.Registry, authn auth.Authenticator, publisher *fanout.Publisher) *Server {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:      opts,
		hub:       hub,
		presence:  registry,
		auth:      authn,
		publisher: publisher,
		clients:   make(map[*chat.Client]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(s.opts.WSPath, s.handleWebSocket)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": s.hub.ClientCount()})
	})
	r.GET("/presence", s.handleOnline)
	r.GET("/presence/:id", s.handlePresence)
	if s.opts.IngressToken != "" {
		events := r.Group("/internal/events", s.requireServiceToken)
		events.POST("/:kind", s.handleMutation)
	}
	return r
}

// Handler returns the HTTP handler serving the gateway routes.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	s.listener = listener
	s.server = srv
	s.mu.Unlock()

	logger.Info("gateway started", zap.String("addr", listener.Addr().String()), zap.String("path", s.opts.WSPath))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop closes the listener and every connection, then waits for their
// cleanup to finish.
func (s *Server) Stop() {
	s.cancel()

	s.mu.Lock()
	srv := s.server
	clients := make([]*chat.Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Close()
	}
	for _, c := range clients {
		_ = c.Conn.Close()
	}
	s.wg.Wait()
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of live connections
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// handleWebSocket authenticates the handshake, then upgrades. A bad credential
// still upgrades so the client can read the Unauthorized close reason, but the
// connection is never registered.
func (s *Server) handleWebSocket(c *gin.Context) {
	userID, authErr := s.auth.Authenticate(c.Request.Context(), auth.TokenFromRequest(c.Request))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}
	conn := wsconn.NewConn(ws, wsconn.Options{
		WriteWait:       s.opts.WriteWait,
		PongWait:        s.opts.PongWait,
		MaxMessageBytes: s.opts.MaxMessageBytes,
	})

	if authErr != nil {
		logger.Info("handshake rejected", zap.String("remote", conn.RemoteAddr()), zap.Error(authErr))
		_ = conn.CloseWith(protocol.CloseUnauthorized, protocol.UnauthorizedReason)
		return
	}

	client := chat.NewClient(conn, userID, s.opts.SendQueue)
	if !s.track(client) {
		_ = conn.CloseWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	if err := s.hub.Register(client); err != nil {
		s.untrack(client)
		_ = conn.Close()
		return
	}

	counted := true
	if _, err := s.presence.Increment(s.ctx, userID); err != nil {
		counted = false
		logger.Error("presence increment failed", zap.String("user", userID), zap.Error(err))
	}

	logger.Info("client connected",
		zap.String("conn", client.ID), zap.String("user", userID), zap.String("remote", conn.RemoteAddr()))

	go s.handleClient(client, counted)
}

func (s *Server) track(client *chat.Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.clients[client] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(client *chat.Client) {
	s.mu.Lock()
	delete(s.clients, client)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) handlePresence(c *gin.Context) {
	userID := c.Param("id")
	n, err := s.presence.Count(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "online": n > 0, "connections": n})
}

func (s *Server) handleOnline(c *gin.Context) {
	online, err := s.presence.OnlineUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}
