package sessions

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the frontend domain is fixed
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 64
)

// Delivery is the outcome of a notify-with-acknowledgment attempt.
type Delivery int

const (
	Delivered Delivery = iota
	Rejected
	TimedOut
)

func (d Delivery) String() string {
	switch d {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	default:
		return "timed-out"
	}
}

// Handler receives connection lifecycle and validated client events.
type Handler interface {
	HandleConnect(ctx context.Context, userID, connID string)
	HandleDisconnect(userID, connID string)
	HandleJoin(ctx context.Context, connID, userID string, p JoinQueuePayload)
	HandleLeave(ctx context.Context, connID, userID string)
	HandleQueueStatus(ctx context.Context, connID string, p QueueStatusPayload)
}

// Manager owns the live WebSocket connections. It maps connection IDs to
// sockets, serializes writes through per-connection pumps, and provides
// the two primitives the core needs from the transport: send-with-ack
// (tri-state) and a liveness ping.
type Manager struct {
	handler Handler
	logger  *zap.Logger

	mu     sync.RWMutex
	conns  map[string]*conn
	byUser map[string]string // userID -> connID of the latest connection

	ackMu   sync.Mutex
	pending map[string]chan Delivery
}

type conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan Message
	pong   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:  logger,
		conns:   make(map[string]*conn),
		byUser:  make(map[string]string),
		pending: make(map[string]chan Delivery),
	}
}

// SetHandler wires the event handler. Must be called before serving.
func (m *Manager) SetHandler(h Handler) {
	m.handler = h
}

// HandleWebSocket upgrades GET /ws/{userID} and runs the connection until
// the peer goes away.
func (m *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		http.Error(w, "userID required", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	c := &conn{
		id:     uuid.New().String(),
		userID: userID,
		ws:     ws,
		send:   make(chan Message, sendBufferSize),
		pong:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	m.register(c)
	m.logger.Info("client connected",
		zap.String("user_id", userID),
		zap.String("conn_id", c.id),
		zap.String("remote", r.RemoteAddr))

	go m.writePump(c)
	m.handler.HandleConnect(context.Background(), userID, c.id)
	m.readPump(c)

	m.unregister(c)
	m.handler.HandleDisconnect(userID, c.id)
	m.logger.Info("client disconnected",
		zap.String("user_id", userID),
		zap.String("conn_id", c.id))
}

func (m *Manager) register(c *conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// A reconnect replaces any previous socket for the same user.
	if oldID, ok := m.byUser[c.userID]; ok {
		if old, live := m.conns[oldID]; live {
			old.close()
			delete(m.conns, oldID)
		}
	}
	m.conns[c.id] = c
	m.byUser[c.userID] = c.id
}

func (m *Manager) unregister(c *conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, c.id)
	if m.byUser[c.userID] == c.id {
		delete(m.byUser, c.userID)
	}
	c.close()
}

// close signals the write pump to exit and tears down the socket. The
// send channel is never closed: Send may race against teardown, and a
// send on a closed channel would panic the sender.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (m *Manager) lookup(connID string) (*conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[connID]
	return c, ok
}

// IsConnected reports whether the connection ID still resolves to a live
// socket on this process.
func (m *Manager) IsConnected(connID string) bool {
	_, ok := m.lookup(connID)
	return ok
}

// Send queues an event for delivery on the connection. Fails when the
// connection is gone or its buffer is full; it does not block.
func (m *Manager) Send(connID string, msg Message) error {
	c, ok := m.lookup(connID)
	if !ok {
		return ErrConnGone
	}
	select {
	case <-c.done:
		return ErrConnGone
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SendWithAck delivers an event and waits up to timeout for the client to
// acknowledge or decline it. The message is stamped with an ack_id the
// client must echo back. Send failures and silence both come back as
// TimedOut; only an explicit decline is Rejected.
func (m *Manager) SendWithAck(ctx context.Context, connID string, msg Message, timeout time.Duration) Delivery {
	ackID := uuid.New().String()
	if msg.Data == nil {
		msg.Data = map[string]any{}
	}
	msg.Data["ack_id"] = ackID

	ch := make(chan Delivery, 1)
	m.ackMu.Lock()
	m.pending[ackID] = ch
	m.ackMu.Unlock()
	defer func() {
		m.ackMu.Lock()
		delete(m.pending, ackID)
		m.ackMu.Unlock()
	}()

	if err := m.Send(connID, msg); err != nil {
		m.logger.Warn("ack delivery send failed",
			zap.String("conn_id", connID),
			zap.String("event", msg.Type),
			zap.Error(err))
		return TimedOut
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d := <-ch:
		return d
	case <-timer.C:
		return TimedOut
	case <-ctx.Done():
		return TimedOut
	}
}

func (m *Manager) resolveAck(ackID string, d Delivery) {
	m.ackMu.Lock()
	ch, ok := m.pending[ackID]
	m.ackMu.Unlock()
	if ok {
		ch <- d
	}
}

// Ping implements presence.Prober with a protocol-level ping, waiting up
// to timeout for the peer's pong.
func (m *Manager) Ping(ctx context.Context, connID string, timeout time.Duration) bool {
	c, ok := m.lookup(connID)
	if !ok {
		return false
	}

	// Drain any pong left over from the keepalive ticker.
	select {
	case <-c.pong:
	default:
	}

	if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.pong:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) readPump(c *conn) {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case c.pong <- struct{}{}:
		default:
		}
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				m.logger.Warn("unexpected websocket close",
					zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.sendError(c.id, "invalid message")
			continue
		}
		m.dispatch(c, env)
	}
}

// dispatch validates the payload and hands the event to the handler in
// its own goroutine. Handlers must not run on the read loop: a join that
// commits a match blocks awaiting this connection's own acknowledgment,
// which only the read loop can deliver. Ack resolution stays inline so
// it is never queued behind a blocked handler.
func (m *Manager) dispatch(c *conn, env Envelope) {
	ctx := context.Background()

	switch env.Type {
	case EventJoinQueue:
		var p JoinQueuePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			m.sendError(c.id, "invalid join_queue payload")
			return
		}
		if err := p.Validate(); err != nil {
			m.sendError(c.id, err.Error())
			return
		}
		go m.handler.HandleJoin(ctx, c.id, c.userID, p)

	case EventLeaveQueue:
		go m.handler.HandleLeave(ctx, c.id, c.userID)

	case EventQueueStatus:
		var p QueueStatusPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			m.sendError(c.id, "invalid get_queue_status payload")
			return
		}
		if err := p.Validate(); err != nil {
			m.sendError(c.id, err.Error())
			return
		}
		go m.handler.HandleQueueStatus(ctx, c.id, p)

	case EventMatchAck, EventMatchDecline:
		var p AckPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.AckID == "" {
			m.sendError(c.id, "invalid ack payload")
			return
		}
		outcome := Delivered
		if env.Type == EventMatchDecline {
			outcome = Rejected
		}
		m.resolveAck(p.AckID, outcome)

	default:
		m.logger.Debug("unknown event type",
			zap.String("conn_id", c.id),
			zap.String("type", env.Type))
	}
}

func (m *Manager) sendError(connID, message string) {
	_ = m.Send(connID, newMessage(EventError, map[string]any{"message": message}))
}

func (m *Manager) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, nil)
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
