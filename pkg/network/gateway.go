package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/cbodonnell/rally/pkg/auth/providers"
	"github.com/cbodonnell/rally/pkg/log"
	"github.com/cbodonnell/rally/pkg/messages"
	"github.com/cbodonnell/rally/pkg/sessions"
	"github.com/gorilla/websocket"
)

// Terminal close codes. Each rejection reason gets its own code so clients
// can branch between retrying and giving up.
const (
	CloseCodeSlotOccupied     = 4001
	CloseCodeSessionNotFound  = 4002
	CloseCodeAuthFailure      = 4003
	CloseCodeIdentityMismatch = 4004
	CloseCodeInternalError    = 4011
	CloseCodeServerShutdown   = 4012
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Gateway accepts participant WebSocket connections, authenticates them
// against a session/participant pair, and relays decoded messages into the
// owning session.
type Gateway struct {
	port         int
	tls          *TLSConfig
	registry     *sessions.Registry
	authProvider providers.AuthProvider

	mu    sync.Mutex
	conns map[string]*Conn
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewGatewayOptions struct {
	Port         int
	TLS          *TLSConfig
	Registry     *sessions.Registry
	AuthProvider providers.AuthProvider
}

// NewGateway creates a new connection gateway.
func NewGateway(opts NewGatewayOptions) *Gateway {
	return &Gateway{
		port:         opts.Port,
		tls:          opts.TLS,
		registry:     opts.Registry,
		authProvider: opts.AuthProvider,
		conns:        make(map[string]*Conn),
	}
}

// Handler returns the HTTP handler serving the /play upgrade endpoint.
func (g *Gateway) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/play", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("Failed to upgrade to WebSocket: %v", err)
			return
		}
		log.Debug("New WebSocket connection from %s", ws.RemoteAddr().String())
		go g.handleConnection(ctx, r, ws)
	})
	return mux
}

// Start starts the gateway's WebSocket server and blocks until the context
// is done, then closes all live connections with a shutdown code.
func (g *Gateway) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", g.port)
	server := &http.Server{Addr: addr, Handler: g.Handler(ctx)}

	go func() {
		<-ctx.Done()
		g.closeAll(CloseCodeServerShutdown, "server shutting down")
		server.Shutdown(context.Background())
	}()

	var listenAndServe func() error
	if g.tls != nil {
		log.Info("Gateway listening on %s with TLS", addr)
		listenAndServe = func() error {
			return server.ListenAndServeTLS(g.tls.CertFile, g.tls.KeyFile)
		}
	} else {
		log.Info("Gateway listening on %s", addr)
		listenAndServe = server.ListenAndServe
	}
	if err := listenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server error: %v", err)
	}
	log.Info("Gateway closed")
	return nil
}

// handleConnection authenticates an inbound connection, admits it into its
// session, and runs the read loop until the connection drops.
func (g *Gateway) handleConnection(ctx context.Context, r *http.Request, ws *websocket.Conn) {
	conn := newConn(ws)

	sessionID := r.URL.Query().Get("session")
	token := r.URL.Query().Get("token")

	claims, err := g.authProvider.VerifyToken(ctx, token)
	if err != nil {
		log.Warn("Rejecting connection from %s: %v", ws.RemoteAddr().String(), err)
		conn.closeWithCode(CloseCodeAuthFailure, "authentication failed")
		return
	}

	session, ok := g.registry.Lookup(sessionID)
	if !ok {
		conn.closeWithCode(CloseCodeSessionNotFound, "session not found")
		return
	}

	if err := session.AdmitConnection(claims.ParticipantID, conn); err != nil {
		switch {
		case sessions.IsUnknownParticipant(err):
			conn.closeWithCode(CloseCodeIdentityMismatch, "identity is not part of this session")
		case sessions.IsSlotOccupied(err):
			conn.closeWithCode(CloseCodeSlotOccupied, "participant slot already connected")
		case sessions.IsSessionEnded(err):
			conn.closeWithCode(CloseCodeSessionNotFound, "session already ended")
		default:
			log.Error("Failed to admit connection %s: %v", conn.ID(), err)
			conn.closeWithCode(CloseCodeInternalError, "internal failure")
		}
		return
	}

	g.addConn(conn)
	defer func() {
		g.removeConn(conn)
		session.RecordDisconnect(claims.ParticipantID)
		conn.RequestClose("connection closed")
	}()

	g.readLoop(session, claims.ParticipantID, conn, ws)
}

// readLoop decodes inbound messages and relays them into the session.
// A malformed message gets an error notice on the same connection and never
// terminates it; only a read failure ends the loop.
func (g *Gateway) readLoop(session *sessions.Session, participantID string, conn *Conn, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error("Error reading message from %s: %v", ws.RemoteAddr().String(), err)
			}
			log.Trace("Connection closed for %s", ws.RemoteAddr().String())
			return
		}

		msg, err := messages.DeserializeMessage(data)
		if err != nil {
			g.sendError(conn, "malformed message")
			continue
		}

		switch msg.Type {
		case messages.MessageTypeClientInput:
			input := &messages.ClientInput{}
			if err := json.Unmarshal(msg.Payload, input); err != nil {
				g.sendError(conn, "malformed input payload")
				continue
			}
			if err := session.ApplyInput(participantID, input.Direction); err != nil {
				g.sendError(conn, err.Error())
			}
		case messages.MessageTypeClientPing:
			pong, err := messages.New(messages.MessageTypeServerPong, nil)
			if err != nil {
				log.Error("Failed to build pong message: %v", err)
				continue
			}
			if err := conn.Send(pong); err != nil {
				log.Debug("Failed to send pong to %s: %v", conn.ID(), err)
			}
		default:
			g.sendError(conn, fmt.Sprintf("unrecognized message type: %s", msg.Type))
		}
	}
}

func (g *Gateway) sendError(conn *Conn, reason string) {
	msg, err := messages.New(messages.MessageTypeServerError, &messages.ServerError{Message: reason})
	if err != nil {
		log.Error("Failed to build error message: %v", err)
		return
	}
	if err := conn.Send(msg); err != nil {
		log.Debug("Failed to send error notice to %s: %v", conn.ID(), err)
	}
}

func (g *Gateway) addConn(conn *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[conn.ID()] = conn
}

func (g *Gateway) removeConn(conn *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, conn.ID())
}

func (g *Gateway) closeAll(code int, reason string) {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.closeWithCode(code, reason)
	}
}
