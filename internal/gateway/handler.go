package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tether/internal/cache"
	"tether/internal/metrics"
	"tether/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the fronting proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// TicketLookup is the slice of the ticket store the handler needs for
// typing-event existence checks.
type TicketLookup interface {
	Exists(ctx context.Context, ticketID string) (bool, error)
}

// HandlerOptions carries the transport tuning knobs from configuration.
type HandlerOptions struct {
	SendBuffer   int
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

func (o *HandlerOptions) withDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 100
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
}

// Handler accepts inbound connections on the per-tenant path
// /ws/{namespace}, binds them to their namespace, and dispatches
// subscribe/unsubscribe/typing commands for their lifetime.
type Handler struct {
	registry  *Registry
	publisher types.Publisher
	tickets   TicketLookup
	cache     *cache.Coordinator
	opts      HandlerOptions
	now       func() time.Time
}

// NewHandler wires the websocket endpoint. The publisher is used for
// presence broadcasts triggered by inbound typing commands.
func NewHandler(registry *Registry, publisher types.Publisher, tickets TicketLookup, coordinator *cache.Coordinator, opts HandlerOptions) *Handler {
	opts.withDefaults()
	return &Handler{
		registry:  registry,
		publisher: publisher,
		tickets:   tickets,
		cache:     coordinator,
		opts:      opts,
		now:       time.Now,
	}
}

// HandleWebSocket upgrades a client connection. The tenant id comes
// from the request path and the user id from handshake metadata;
// requests that cannot resolve to a namespace are rejected before the
// upgrade.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	namespace := strings.TrimPrefix(r.URL.Path, "/ws/")
	if namespace == r.URL.Path || !types.IsValidNamespace(namespace) {
		http.Error(w, "Cannot resolve tenant namespace from path", http.StatusBadRequest)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Missing or invalid user_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, namespace, userID, h.opts.SendBuffer, h.now())

	if err := h.registry.Register(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	metrics.TotalConnections.Inc()
	metrics.ActiveConnections.Inc()
	log.Printf("Connection registered: conn=%s user=%s namespace=%s", wsConn.ID(), userID, namespace)

	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump until the transport drops, the
// client closes, or the reaper cuts the connection.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		metrics.ActiveConnections.Dec()
		log.Printf("Connection closed: conn=%s user=%s namespace=%s", conn.ID(), conn.UserID(), conn.Namespace())
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		conn.Touch(h.now())
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})
	conn.conn.SetPingHandler(func(appData string) error {
		// Transport-level ping gets an immediate pong, nothing else.
		conn.Touch(h.now())
		return conn.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: conn=%s err=%v", conn.ID(), err)
			}
			return
		}
		if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
			return
		}

		conn.Touch(h.now())

		if messageType != websocket.TextMessage {
			continue
		}

		var cmd types.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Printf("Dropping malformed command frame: conn=%s err=%v", conn.ID(), err)
			continue
		}

		h.dispatch(conn, cmd)
	}
}

// dispatch applies one inbound command. Commands are fire-and-forget:
// failures are logged, never surfaced to the sender.
func (h *Handler) dispatch(conn *Connection, cmd types.Command) {
	switch cmd.Action {
	case types.ActionJoin:
		if !types.IsValidRoom(cmd.Room) {
			log.Printf("Dropping join with invalid room: conn=%s room=%q", conn.ID(), cmd.Room)
			return
		}
		h.registry.JoinRoom(conn.ID(), cmd.Room)

	case types.ActionLeave:
		if !types.IsValidRoom(cmd.Room) {
			return
		}
		h.registry.LeaveRoom(conn.ID(), cmd.Room)

	case types.ActionPing:
		// Application-level liveness probe: immediate pong, no
		// registry side effects.
		if err := conn.WriteJSON(types.Command{Action: types.ActionPong}); err != nil {
			log.Printf("Failed to send pong: conn=%s err=%v", conn.ID(), err)
		}

	case types.ActionTyping:
		h.handleTyping(conn, cmd)

	default:
		log.Printf("Dropping unknown command: conn=%s action=%q", conn.ID(), cmd.Action)
	}
}

// handleTyping validates that the referenced conversation exists before
// broadcasting presence. Unknown tickets drop the event silently; the
// sender gets no error.
func (h *Handler) handleTyping(conn *Connection, cmd types.Command) {
	if cmd.TicketID == "" {
		metrics.EventsDropped.Inc()
		return
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	exists, err := h.ticketExists(ctx, cmd.TicketID)
	if err != nil {
		log.Printf("Dropping typing event, ticket lookup failed: ticket=%s err=%v", cmd.TicketID, err)
		metrics.EventsDropped.Inc()
		return
	}
	if !exists {
		log.Printf("Dropping typing event for unknown ticket: ticket=%s user=%s", cmd.TicketID, conn.UserID())
		metrics.EventsDropped.Inc()
		return
	}

	ev := types.UserTyping{
		TicketID: cmd.TicketID,
		UserID:   conn.UserID(),
		Typing:   true,
	}
	if err := h.publisher.EmitToRoom(conn.Namespace(), types.TicketRoom(cmd.TicketID), ev); err != nil {
		log.Printf("Failed to broadcast typing event: ticket=%s err=%v", cmd.TicketID, err)
	}
}

// ticketExists consults the tickets bucket first and falls back to the
// store on a miss. The cache is advisory: with no coordinator wired the
// lookup goes straight to the store.
func (h *Handler) ticketExists(ctx context.Context, ticketID string) (bool, error) {
	if h.cache == nil {
		return h.tickets.Exists(ctx, ticketID)
	}

	v, err := h.cache.GetOrLoad("tickets", "ticket:"+ticketID+":exists", 0, func() (interface{}, error) {
		return h.tickets.Exists(ctx, ticketID)
	})
	if err != nil {
		return false, err
	}
	exists, ok := v.(bool)
	return ok && exists, nil
}
