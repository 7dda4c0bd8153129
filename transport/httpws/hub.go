package httpws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// wsEnvelope is the JSON frame exchanged over a /ws connection once
// it's open: a server push carries streamId+message, a terminal push
// carries streamId+end, and a client cancel carries the same shape
// back at the server.
type wsEnvelope struct {
	StreamID string `json:"streamId"`
	Message  []byte `json:"message,omitempty"` // base64 via json, codec-encoded bytes
	End      bool   `json:"end,omitempty"`
}

// connection is one upgraded WebSocket socket, multiplexing N
// concurrent server-stream replies, each keyed by a stream ID the
// starting POST handed back via the Stream-Id response header.
type connection struct {
	id     string
	ws     *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex // gorilla/websocket: at most one writer at a time

	mu      sync.Mutex
	streams map[string]chan wsEnvelope // inbound client frames, keyed by stream ID
}

func newConnection(id string, ws *websocket.Conn, logger zerolog.Logger) *connection {
	return &connection{
		id:      id,
		ws:      ws,
		logger:  logger,
		streams: make(map[string]chan wsEnvelope),
	}
}

// newStream registers streamID and returns the channel client cancel
// frames for that stream arrive on.
func (c *connection) newStream(streamID string) chan wsEnvelope {
	ch := make(chan wsEnvelope, 1)
	c.mu.Lock()
	c.streams[streamID] = ch
	c.mu.Unlock()
	return ch
}

// endStream unregisters streamID, once its reply side is done.
func (c *connection) endStream(streamID string) {
	c.mu.Lock()
	ch, ok := c.streams[streamID]
	delete(c.streams, streamID)
	c.mu.Unlock()
	if ok {
		close(ch)
	}
}

// push writes one reply frame for streamID, base64-encoding payload
// (already codec-encoded bytes) into the envelope's message field so
// the framing stays agnostic to which wire codec produced it.
func (c *connection) push(streamID string, payload []byte) error {
	return c.writeJSON(wsEnvelope{StreamID: streamID, Message: payload})
}

// end writes the terminal frame for streamID: {"streamId":id,"end":true},
// with errPayload folded into the same frame's message field when the
// handler ended with an error, so a client distinguishes an error end
// from a clean one by End alone rather than guessing from a payload
// that would otherwise look like an ordinary reply frame.
func (c *connection) end(streamID string, errPayload []byte) error {
	return c.writeJSON(wsEnvelope{StreamID: streamID, Message: errPayload, End: true})
}

func (c *connection) writeJSON(env wsEnvelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

// readLoop dispatches inbound client frames (cancellations) to the
// matching stream's channel, until the socket closes.
func (c *connection) readLoop() {
	for {
		var env wsEnvelope
		if err := c.ws.ReadJSON(&env); err != nil {
			c.logger.Debug().Err(err).Str("connection_id", c.id).Msg("websocket connection closed")
			return
		}
		c.mu.Lock()
		ch := c.streams[env.StreamID]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- env:
			default:
			}
		}
	}
}

func (c *connection) close() {
	_ = c.ws.Close()
}

// hub tracks every open connection, keyed by connection ID, so a
// starting POST (which carries a Connection-Id header) can find the
// socket its streamed reply should be pushed over.
type hub struct {
	logger zerolog.Logger

	mu    sync.Mutex
	conns map[string]*connection
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{logger: logger, conns: make(map[string]*connection)}
}

// register adopts ws as a new connection, sends its assigned ID as
// the connection's first frame, and starts its read loop.
func (h *hub) register(ws *websocket.Conn) *connection {
	id := uuid.NewString()
	c := newConnection(id, ws, h.logger)

	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()

	first, _ := json.Marshal(struct {
		ConnectionID string `json:"connectionId"`
	}{ConnectionID: id})
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.TextMessage, first)
	c.writeMu.Unlock()

	go func() {
		c.readLoop()
		h.mu.Lock()
		delete(h.conns, id)
		h.mu.Unlock()
	}()

	return c
}

func (h *hub) get(connectionID string) (*connection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connectionID]
	return c, ok
}
