package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tanged123/hermes/internal/backplane"
	"github.com/tanged123/hermes/internal/telemetry"
	"github.com/tanged123/hermes/internal/xerror"
)

// Server is the websocket control/telemetry endpoint described in
// spec.md §4.G/§4.H: one bidirectional connection per client, JSON
// text commands in, JSON acks/events and binary telemetry frames out.
type Server struct {
	log    *zap.SugaredLogger
	bp     *backplane.Segment
	sched  SchedulerHandle
	schema Schema

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}

	httpServer *http.Server
}

// Client is one connected control/telemetry session.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	encMu   sync.Mutex
	encoder *telemetry.Encoder
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLog overrides the server's logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(s *Server) { s.log = log }
}

// WithScheduler attaches a scheduler handle so pause/resume/reset/step
// commands can be served. Without it, those commands get back the
// "No scheduler attached" error of spec.md §4.G.
func WithScheduler(sched SchedulerHandle) Option {
	return func(s *Server) { s.sched = sched }
}

// NewServer builds a control server over bp, publishing schema to
// every connecting client.
func NewServer(bp *backplane.Segment, schema Schema, options ...Option) *Server {
	s := &Server{
		log:      zap.NewNop().Sugar(),
		bp:       bp,
		schema:   schema,
		clients:  make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// StartBackground listens on addr and serves connections until ctx is
// canceled or Stop is called. It returns once the listener is bound;
// the accept loop runs in the background.
func (s *Server) StartBackground(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return xerror.NewResourceError("control server listen "+addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpServer = &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("control server stopped", "err", err)
		}
	}()

	return nil
}

// Stop closes the HTTP server and every connected client.
func (s *Server) Stop() error {
	var shutdownErr error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		shutdownErr = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	var closeErr error
	for _, c := range clients {
		closeErr = multierr.Append(closeErr, c.conn.Close())
	}
	return multierr.Append(shutdownErr, closeErr)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("control upgrade failed", "err", err)
		return
	}

	client := &Client{conn: conn}
	s.addClient(client)
	defer s.removeClient(client)

	if err := client.writeJSON(newSchemaMessage(s.schema)); err != nil {
		s.log.Warnw("control schema send failed", "err", err)
		return
	}

	s.serveClient(client)
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
	_ = c.conn.Close()
}

// serveClient reads commands until the connection closes, matching
// spec.md §4.G's "binary messages from a client are discarded with a
// logged warning" and "malformed JSON keeps the connection open"
// requirements.
func (s *Server) serveClient(c *Client) {
	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Infow("control client disconnected", "err", xerror.NewClientDisconnect(err))
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			s.log.Warnw("control client sent unexpected binary message, discarding")
			continue
		}

		var cmd commandEnvelope
		if err := json.Unmarshal(payload, &cmd); err != nil {
			protoErr := xerror.NewProtocolError("malformed command: %v", err)
			_ = c.writeJSON(newErrorMessage(protoErr.Error(), ""))
			continue
		}

		s.handleCommand(c, cmd)
	}
}

func (s *Server) handleCommand(c *Client, cmd commandEnvelope) {
	result := dispatch(cmd, s.bp, s.sched)

	if ack, ok := result.Reply.(subscribeAck); ok {
		c.encMu.Lock()
		c.encoder = telemetry.NewEncoder(ack.signals)
		c.encMu.Unlock()
		result.Reply = ack.ackMessage
	}

	if err := c.writeJSON(result.Reply); err != nil {
		s.log.Warnw("control reply send failed", "err", err)
		return
	}

	if result.Broadcast != nil {
		s.broadcast(*result.Broadcast)
	}
}

func (s *Server) broadcast(msg eventMessage) {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.writeJSON(msg); err != nil {
			s.log.Warnw("control broadcast send failed", "err", err)
		}
	}
}

// StartTelemetryLoop broadcasts a telemetry frame to every subscribed
// client at rateHz until ctx is canceled, per spec.md §4.H.
func (s *Server) StartTelemetryLoop(ctx context.Context, rateHz float64) error {
	if rateHz <= 0 {
		return xerror.NewConfigError("telemetry_hz must be positive, got %v", rateHz)
	}
	interval := time.Duration(float64(time.Second) / rateHz)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.broadcastTelemetry()
			}
		}
	})
	return g.Wait()
}

func (s *Server) broadcastTelemetry() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.encMu.Lock()
		enc := c.encoder
		c.encMu.Unlock()
		if enc == nil {
			continue
		}
		frame, err := enc.Encode(s.bp)
		if err != nil {
			s.log.Warnw("telemetry encode failed", "err", err)
			continue
		}
		if err := c.writeBinary(frame); err != nil {
			s.log.Warnw("telemetry send failed", "err", err)
		}
	}
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) writeBinary(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}
