package eventbus

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// conn wraps one client's WebSocket, serializing writes: an ack for a
// unary call and pushed reply events for one or more concurrently
// in-flight streamed calls can all be emitted from different
// goroutines on the same socket.
type conn struct {
	ws     *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex
}

func newConn(ws *websocket.Conn, logger zerolog.Logger) *conn {
	return &conn{ws: ws, logger: logger}
}

func (c *conn) writeEnvelope(env envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

func (c *conn) ack(ackID int64, data ackEnvelope) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.writeEnvelope(envelope{AckID: ackID, Data: b})
}

// emit pushes one "<path>_<streamId>_reply" frame. payload is nil for
// a terminal end:true frame that carries no error, and the encoded
// error for one that does.
func (c *conn) emit(event string, payload []byte, end bool) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		data = b
	}
	return c.writeEnvelope(envelope{Event: event, Data: data, End: end})
}

func (c *conn) close() error { return c.ws.Close() }
