/*
Package relay forwards listener events to WebSocket clients.

A Hub implements every listener interface of package streaming, so the same
Hub can be registered with any number of listener managers:

	hub := relay.NewHub(nil)
	http.Handle("/events", hub)

	cf.Trading.AddStopoutListener(hub, nil)
	cf.History.AddStrategyTransactionListener(hub, strategyID, nil)

Every event batch is sent to every connected client as one JSON text frame:

	{"type": "stopout", "data": [...]}
*/
package relay // import "github.com/y3sh/copyfactory-sdk-go/relay"

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/y3sh/copyfactory-sdk-go/client/streaming"
	"github.com/y3sh/copyfactory-sdk-go/common"
)

const (
	DefaultSendBuffer   = 64
	DefaultWriteTimeout = 10 * time.Second
)

// Frame types.
const (
	FrameStopout     = "stopout"
	FrameTransaction = "transaction"
	FrameUserLog     = "user-log"
	FrameError       = "error"
)

var ErrHubClosed = errors.New("hub is closed")

var (
	_ streaming.StopoutListener     = (*Hub)(nil)
	_ streaming.TransactionListener = (*Hub)(nil)
	_ streaming.UserLogListener     = (*Hub)(nil)
	_ streaming.ErrorListener       = (*Hub)(nil)
)

// Frame is the JSON message sent to clients.
type Frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// HubParams contains params for NewHub. All fields are optional.
type HubParams struct {
	// SendBuffer is the number of frames queued per client. A client whose
	// queue is full is disconnected.
	SendBuffer int

	WriteTimeout time.Duration

	// CheckOrigin is passed to the websocket.Upgrader; all origins are
	// accepted if nil.
	CheckOrigin func(r *http.Request) bool

	Logger *zerolog.Logger
}

// Hub broadcasts listener events to connected WebSocket clients.
type Hub struct {
	params   HubParams
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mtx     sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// client is a connected WebSocket peer.
type client struct {
	conn *websocket.Conn

	// send queues encoded frames for writeLoop.
	send chan []byte

	// done is closed when the client is dropped.
	done     chan struct{}
	doneOnce sync.Once
}

func (c *client) close() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

// NewHub creates a Hub. params may be nil.
func NewHub(params *HubParams) *Hub {
	h := &Hub{
		clients: make(map[*client]struct{}),
	}

	if params != nil {
		h.params = *params
	}

	if h.params.SendBuffer <= 0 {
		h.params.SendBuffer = DefaultSendBuffer
	}

	if h.params.WriteTimeout <= 0 {
		h.params.WriteTimeout = DefaultWriteTimeout
	}

	checkOrigin := h.params.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}

	if h.params.Logger != nil {
		h.logger = h.params.Logger.With().Str("component", "relay").Logger()
	} else {
		h.logger = zerolog.Nop()
	}

	return h
}

// ServeHTTP upgrades the request to a WebSocket connection and keeps the
// client subscribed until it disconnects. Messages from clients are
// ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an error.
		h.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, h.params.SendBuffer),
		done: make(chan struct{}),
	}

	if err := h.register(c); err != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.params.WriteTimeout),
		)
		conn.Close()
		return
	}

	h.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("client connected")

	go h.writeLoop(c)

	// Read until the peer goes away, so that close frames are handled.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.drop(c)
	h.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("client disconnected")
}

// OnStopout broadcasts stopouts.
func (h *Hub) OnStopout(stopouts []common.Stopout) error {
	return errors.Trace(h.broadcast(FrameStopout, stopouts))
}

// OnTransaction broadcasts transactions.
func (h *Hub) OnTransaction(transactions []common.Transaction) error {
	return errors.Trace(h.broadcast(FrameTransaction, transactions))
}

// OnUserLog broadcasts user log records.
func (h *Hub) OnUserLog(messages []common.UserLogMessage) error {
	return errors.Trace(h.broadcast(FrameUserLog, messages))
}

// OnError broadcasts listener errors as error frames.
func (h *Hub) OnError(err error) {
	h.logger.Warn().Err(err).Msg("listener error")

	data, merr := json.Marshal(Frame{Type: FrameError, Error: err.Error()})
	if merr != nil {
		return
	}
	h.send(data)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return len(h.clients)
}

// Close disconnects all clients. Clients connecting afterwards are
// rejected.
func (h *Hub) Close() error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}

	return nil
}

func (h *Hub) register(c *client) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.closed {
		return errors.Trace(ErrHubClosed)
	}
	h.clients[c] = struct{}{}
	return nil
}

func (h *Hub) drop(c *client) {
	h.mtx.Lock()
	delete(h.clients, c)
	h.mtx.Unlock()

	c.close()
}

func (h *Hub) broadcast(typ string, events interface{}) error {
	data, err := json.Marshal(events)
	if err != nil {
		return errors.Annotatef(err, "encoding %s events", typ)
	}

	frame, err := json.Marshal(Frame{Type: typ, Data: data})
	if err != nil {
		return errors.Trace(err)
	}

	h.send(frame)
	return nil
}

// send queues frame for all clients, dropping those which can't keep up.
func (h *Hub) send(frame []byte) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn().Msg("client is too slow, dropping")
			delete(h.clients, c)
			c.close()
		}
	}
}

// writeLoop writes queued frames to the client connection until the client
// is dropped.
func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.params.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug().Err(err).Msg("write failed")
				h.drop(c)
				return
			}

		case <-c.done:
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.params.WriteTimeout),
			)
			return
		}
	}
}
