// Package ws is the event channel to driver and rider clients: order
// offers, taken/timeout notices, and rider status updates go out over a
// live socket; driver accept/reject/location updates come back in.
//
// Grounded on the pack's ride-hailing websocket layer (connection registry
// keyed by participant id, per-connection write mutex, JSON-envelope
// message routing, ping/pong keepalive) and the monorepo's JWT auth
// middleware (Claims/ParseWithClaims) for the handshake.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ubi-africa/dispatch-core/internal/dispatch"
	"github.com/ubi-africa/dispatch-core/internal/domain"
	"github.com/ubi-africa/dispatch-core/internal/handler"
	"github.com/ubi-africa/dispatch-core/internal/presence"
)

const (
	writeTimeout    = 5 * time.Second
	closeAckWindow  = 2 * time.Second
	authReadWindow  = 5 * time.Second
	pongWindow      = 60 * time.Second
	pingInterval    = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// conn wraps one socket with the mutex gorilla/websocket requires around
// concurrent writes (a single Conn supports one writer at a time).
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *conn) writeClose(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeAckWindow))
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// Hub holds the live driver/rider socket registry and is the concrete
// implementation of dispatch.DriverNotifier and dispatch.RiderNotifier.
type Hub struct {
	jwtSecret string
	engine    *dispatch.Engine
	presence  *presence.Registry

	driverConns sync.Map // uuid.UUID (driverID) -> *conn
	riderConns  sync.Map // uuid.UUID (riderID) -> *conn
	orderRiders sync.Map // uuid.UUID (orderID) -> uuid.UUID (riderID)
}

// BindOrder records which rider an order belongs to, so a later
// dispatch.RiderUpdate (keyed only by order id) can be routed to the right
// socket. The order handler calls this right after a successful Submit.
func (h *Hub) BindOrder(orderID, riderID uuid.UUID) {
	h.orderRiders.Store(orderID, riderID)
}

// UnbindOrder drops the order->rider mapping once the order reaches a
// terminal state.
func (h *Hub) UnbindOrder(orderID uuid.UUID) {
	h.orderRiders.Delete(orderID)
}

func NewHub(jwtSecret string, engine *dispatch.Engine, presenceRegistry *presence.Registry) *Hub {
	return &Hub{jwtSecret: jwtSecret, engine: engine, presence: presenceRegistry}
}

// SetEngine wires the engine in after construction, breaking the
// construction cycle between Hub (which needs to call back into the
// engine for driver responses) and Engine (which needs the hub as its
// DriverNotifier/RiderNotifier).
func (h *Hub) SetEngine(engine *dispatch.Engine) {
	h.engine = engine
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// authenticate reads the first frame, expecting {"token": "..."}, and
// returns the validated subject id. The client has authReadWindow to send it.
func (h *Hub) authenticate(ws *websocket.Conn) (uuid.UUID, error) {
	ws.SetReadLimit(1 << 16)
	if err := ws.SetReadDeadline(time.Now().Add(authReadWindow)); err != nil {
		return uuid.Nil, err
	}
	mt, payload, err := ws.ReadMessage()
	if err != nil {
		return uuid.Nil, err
	}
	if mt != websocket.TextMessage {
		return uuid.Nil, domain.ErrInvalidRequest
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &auth); err != nil {
		return uuid.Nil, domain.ErrInvalidRequest
	}

	token, err := jwt.ParseWithClaims(auth.Token, &handler.Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(h.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, domain.ErrInvalidRequest
	}
	claims, ok := token.Claims.(*handler.Claims)
	if !ok {
		return uuid.Nil, domain.ErrInvalidRequest
	}
	return uuid.Parse(claims.UserID)
}

// ServeDriverWS upgrades the connection, authenticates it, then services
// driver-originated messages (order:accept, order:reject, location:update)
// until the socket closes.
func (h *Hub) ServeDriverWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("driver websocket upgrade failed")
		return
	}
	c := &conn{ws: wsConn}
	defer wsConn.Close()

	driverID, err := h.authenticate(wsConn)
	if err != nil {
		_ = c.writeJSON(map[string]any{"type": "auth_error", "error": err.Error()})
		return
	}
	_ = c.writeJSON(map[string]any{"type": "auth_success", "driver_id": driverID})

	h.driverConns.Store(driverID, c)
	defer h.driverConns.Delete(driverID)

	log.Info().Str("driver_id", driverID.String()).Msg("driver websocket connected")

	_ = wsConn.SetReadDeadline(time.Now().Add(pongWindow))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWindow))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			if err := c.ping(); err != nil {
				_ = wsConn.Close()
				return
			}
		}
	}()

	for {
		_ = wsConn.SetReadDeadline(time.Now().Add(pongWindow))
		_, payload, err := wsConn.ReadMessage()
		if err != nil {
			c.writeClose(websocket.CloseNormalClosure, "bye")
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = c.writeJSON(map[string]any{"type": "error", "error": "bad json"})
			continue
		}

		switch msg.Type {
		case "order:accept":
			h.handleDriverResponse(r.Context(), c, driverID, msg.Data, true)
		case "order:reject":
			h.handleDriverResponse(r.Context(), c, driverID, msg.Data, false)
		case "location:update":
			h.handleLocationUpdate(r.Context(), c, driverID, msg.Data)
		default:
			_ = c.writeJSON(map[string]any{"type": "error", "error": "unknown message type"})
		}
	}
}

type driverResponsePayload struct {
	OrderID     uuid.UUID `json:"order_id"`
	BatchNumber int       `json:"batch_number"`
	ReasonCode  string    `json:"reason_code,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

func (h *Hub) handleDriverResponse(ctx context.Context, c *conn, driverID uuid.UUID, data json.RawMessage, accept bool) {
	var p driverResponsePayload
	if err := json.Unmarshal(data, &p); err != nil {
		_ = c.writeJSON(map[string]any{"type": "error", "error": "bad payload"})
		return
	}

	var (
		result dispatch.DriverResponseResult
		err    error
	)
	if accept {
		result, err = h.engine.DriverAccept(ctx, p.OrderID, driverID, p.BatchNumber)
	} else {
		result, err = h.engine.DriverReject(ctx, p.OrderID, driverID, p.BatchNumber, p.ReasonCode, p.Detail)
	}
	if err != nil {
		_ = c.writeJSON(map[string]any{"type": "error", "error": err.Error()})
		return
	}
	_ = c.writeJSON(map[string]any{
		"type": "order:response_ack",
		"data": map[string]any{
			"order_id":      p.OrderID,
			"ok":            result.OK,
			"already_taken": result.AlreadyTaken,
			"redispatched":  result.ReDispatched,
			"next_batch":    result.NextBatch,
		},
	})
}

type locationUpdatePayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (h *Hub) handleLocationUpdate(ctx context.Context, c *conn, driverID uuid.UUID, data json.RawMessage) {
	var p locationUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		_ = c.writeJSON(map[string]any{"type": "error", "error": "bad payload"})
		return
	}

	existing, err := h.presence.Get(ctx, driverID)
	if err != nil {
		_ = c.writeJSON(map[string]any{"type": "error", "error": "presence lookup failed"})
		return
	}
	entry := domain.Presence{DriverID: driverID, Availability: domain.AvailabilityAvailable}
	if existing != nil {
		entry = *existing
	}
	entry.LastLat = p.Lat
	entry.LastLng = p.Lng
	entry.LastHeartbeat = time.Now().UTC()

	if err := h.presence.Heartbeat(ctx, entry); err != nil {
		log.Error().Err(err).Str("driver_id", driverID.String()).Msg("presence heartbeat write failed")
	}
}

// ServeRiderWS upgrades and authenticates a rider connection. Riders only
// receive pushes (order:update); the read loop exists to keep the
// connection alive and to detect disconnects.
func (h *Hub) ServeRiderWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("rider websocket upgrade failed")
		return
	}
	c := &conn{ws: wsConn}
	defer wsConn.Close()

	riderID, err := h.authenticate(wsConn)
	if err != nil {
		_ = c.writeJSON(map[string]any{"type": "auth_error", "error": err.Error()})
		return
	}
	_ = c.writeJSON(map[string]any{"type": "auth_success", "rider_id": riderID})

	h.riderConns.Store(riderID, c)
	defer h.riderConns.Delete(riderID)

	log.Info().Str("rider_id", riderID.String()).Msg("rider websocket connected")

	_ = wsConn.SetReadDeadline(time.Now().Add(pongWindow))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWindow))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			if err := c.ping(); err != nil {
				_ = wsConn.Close()
				return
			}
		}
	}()

	for {
		_ = wsConn.SetReadDeadline(time.Now().Add(pongWindow))
		if _, _, err := wsConn.ReadMessage(); err != nil {
			c.writeClose(websocket.CloseNormalClosure, "bye")
			return
		}
	}
}

// SendOffer implements dispatch.DriverNotifier.
func (h *Hub) SendOffer(ctx context.Context, driverID uuid.UUID, offer dispatch.OfferMessage) error {
	c, ok := h.driverConns.Load(driverID)
	if !ok {
		return domain.ErrPresenceNotFound
	}
	return c.(*conn).writeJSON(map[string]any{"type": "order:offer", "data": offer})
}

// SendTaken implements dispatch.DriverNotifier.
func (h *Hub) SendTaken(ctx context.Context, driverID uuid.UUID, orderID uuid.UUID, message string) error {
	c, ok := h.driverConns.Load(driverID)
	if !ok {
		return nil
	}
	return c.(*conn).writeJSON(map[string]any{
		"type": "order:taken",
		"data": map[string]any{"order_id": orderID, "message": message},
	})
}

// SendBatchTimeout implements dispatch.DriverNotifier.
func (h *Hub) SendBatchTimeout(ctx context.Context, driverID uuid.UUID, orderID uuid.UUID) error {
	c, ok := h.driverConns.Load(driverID)
	if !ok {
		return nil
	}
	return c.(*conn).writeJSON(map[string]any{
		"type": "order:batch-timeout",
		"data": map[string]any{"order_id": orderID},
	})
}

// SendUpdate implements dispatch.RiderNotifier. RiderUpdate carries only the
// order id, so the rider connection is resolved through the order->rider
// binding recorded at order creation time.
func (h *Hub) SendUpdate(ctx context.Context, update dispatch.RiderUpdate) error {
	riderID, ok := h.orderRiders.Load(update.OrderID)
	if !ok {
		return nil
	}
	c, ok := h.riderConns.Load(riderID)
	if !ok {
		return nil
	}
	if update.Status == domain.OrderStatusDone || update.Status == domain.OrderStatusCancelled {
		defer h.UnbindOrder(update.OrderID)
	}
	return c.(*conn).writeJSON(map[string]any{"type": "order:update", "data": update})
}
