package consult

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/healthconnect/internal/identity"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// readLimit caps a single inbound frame. SDP offers with many candidates can
// exceed the library's 32KiB default.
const readLimit = 1 << 20

// writeTimeout bounds one outbound frame. A peer that stops reading for this
// long has its connection closed, which ends its read loop and frees its slot.
const writeTimeout = 10 * time.Second

// wsPeer adapts a websocket.Conn to Peer.
// Writes are not tied to any request context: a sender's request ending must
// never tear down the receiver's socket.
type wsPeer struct {
	conn *websocket.Conn
}

func (p *wsPeer) Send(payload string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return p.conn.Write(ctx, websocket.MessageText, []byte(payload))
}

// Handler serves the live-consultation WebSocket endpoint.
type Handler struct {
	session        *Session
	allowedOrigins []string
	isDev          bool
	logger         *slog.Logger
}

// NewHandler creates a WebSocket handler relaying through session.
func NewHandler(session *Session, allowedOrigins []string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		session:        session,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
		logger:         logger,
	}
}

// RegisterRoutes mounts the endpoint under r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/live-consultation/{role}", h.ServeHTTP)
}

// ServeHTTP upgrades the request and runs the relay loop until the socket closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	role := Role(chi.URLParam(r, "role"))
	logger := h.logger.With("role", role, "ip", identity.IPFromRequest(r))
	logger.Info("Consultation WebSocket request")

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(readLimit)

	peer := &wsPeer{conn: ws}
	h.session.Connect(peer, role)
	defer h.session.Disconnect(peer)

	h.readLoop(r.Context(), ws, peer, logger)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, peer *wsPeer, logger *slog.Logger) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("WebSocket closed by client")
			} else {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			logger.Debug("Ignoring non-text frame")
			continue
		}
		h.session.Relay(peer, string(data))
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}
