// Package eventbuschan implements client.Channel over
// transport/eventbus: every call travels as one "grpc_request_v2"
// event over a single shared WebSocket connection, acked with an
// (error, payload) pair for a unary reply or a stream ID for a
// streamed one, whose frames then arrive as separate
// "<path>_<streamId>_reply" events.
package eventbuschan

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"modapp.dev/rpc/client"
	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
)

const requestEvent = "grpc_request_v2"

// envelope mirrors transport/eventbus's wire frame. Kept as a
// package-local copy since the server package doesn't export it.
type envelope struct {
	Event string          `json:"event,omitempty"`
	AckID int64           `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	End   bool            `json:"end,omitempty"`
}

type requestEnvelope struct {
	Meta    map[string]any `json:"meta"`
	Payload []byte         `json:"payload"`
}

type ackEnvelope struct {
	Error    []byte `json:"error,omitempty"`
	Payload  []byte `json:"payload,omitempty"`
	StreamID string `json:"streamId,omitempty"`
}

func replyEvent(path, streamID string) string {
	return path + "_" + streamID + "_reply"
}

// Chan is a client.Channel backed by a single shared WebSocket
// connection to a transport/eventbus server, dialed lazily on first
// call.
type Chan struct {
	url   string
	codec codec.Codec

	mu      sync.Mutex
	ws      *websocket.Conn
	nextAck int64
	acks    map[int64]chan envelope
	streams map[string]chan envelope
}

// New builds a Chan dialing url ("ws://host:port/path") lazily.
func New(url string, c codec.Codec) *Chan {
	return &Chan{
		url:     url,
		codec:   c,
		acks:    make(map[int64]chan envelope),
		streams: make(map[string]chan envelope),
	}
}

func (c *Chan) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		return c.ws.Close()
	}
	return nil
}

func (c *Chan) ensureWS() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		return c.ws, nil
	}
	ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return nil, rpcerr.B().Code(rpcerr.Unavailable).Msg("eventbuschan: dial failed").Cause(err).Err()
	}
	c.ws = ws
	go c.readLoop(ws)
	return ws, nil
}

// readLoop fans every inbound frame out to whichever caller is
// waiting on it: an ack by AckID, or a streamed reply event by its
// full event name. Frame order on one connection guarantees a call's
// ack is read before any of its reply events, so registering a
// stream's channel while handling its ack (in sendRequest) never races
// a frame that arrives before the registration exists.
func (c *Chan) readLoop(ws *websocket.Conn) {
	for {
		var env envelope
		if err := ws.ReadJSON(&env); err != nil {
			c.mu.Lock()
			for _, ch := range c.acks {
				close(ch)
			}
			c.acks = make(map[int64]chan envelope)
			for _, ch := range c.streams {
				close(ch)
			}
			c.streams = make(map[string]chan envelope)
			c.mu.Unlock()
			return
		}

		if env.Event == "" {
			c.mu.Lock()
			ch := c.acks[env.AckID]
			delete(c.acks, env.AckID)
			c.mu.Unlock()
			if ch != nil {
				ch <- env
			}
			continue
		}

		c.mu.Lock()
		ch := c.streams[env.Event]
		c.mu.Unlock()
		if ch == nil {
			continue
		}
		ch <- env
		if env.End {
			c.mu.Lock()
			delete(c.streams, env.Event)
			c.mu.Unlock()
			close(ch)
		}
	}
}

// sendRequest writes one grpc_request_v2 frame for path and blocks for
// its ack, returning the decoded ackEnvelope.
func (c *Chan) sendRequest(ctx context.Context, path string, payload []byte, meta map[string]any) (ackEnvelope, error) {
	ws, err := c.ensureWS()
	if err != nil {
		return ackEnvelope{}, err
	}

	reqMeta := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		reqMeta[k] = v
	}
	reqMeta["methodName"] = path

	reqData, err := json.Marshal(requestEnvelope{Meta: reqMeta, Payload: payload})
	if err != nil {
		return ackEnvelope{}, err
	}

	ackID := atomic.AddInt64(&c.nextAck, 1)
	ackCh := make(chan envelope, 1)
	c.mu.Lock()
	c.acks[ackID] = ackCh
	c.mu.Unlock()

	if err := c.writeJSON(ws, envelope{Event: requestEvent, AckID: ackID, Data: reqData}); err != nil {
		c.mu.Lock()
		delete(c.acks, ackID)
		c.mu.Unlock()
		return ackEnvelope{}, err
	}

	select {
	case env, ok := <-ackCh:
		if !ok {
			return ackEnvelope{}, rpcerr.B().Code(rpcerr.Unavailable).Msg("eventbuschan: connection closed waiting for ack").Err()
		}
		var ack ackEnvelope
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			return ackEnvelope{}, err
		}
		return ack, nil
	case <-ctx.Done():
		return ackEnvelope{}, ctx.Err()
	}
}

var writeMu sync.Mutex

func (c *Chan) writeJSON(ws *websocket.Conn, env envelope) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	return ws.WriteJSON(env)
}

func (c *Chan) UnaryUnary(ctx context.Context, path string, req model.Value, reply *model.Schema, meta map[string]any) (model.Value, error) {
	b, err := c.codec.Encode(req)
	if err != nil {
		return nil, err
	}
	ack, err := c.sendRequest(ctx, path, b, meta)
	if err != nil {
		return nil, err
	}
	if ack.Error != nil {
		return nil, decodeEncodedError(ack.Error)
	}
	return c.codec.Decode(ack.Payload, reply)
}

func (c *Chan) UnaryStream(ctx context.Context, path string, req model.Value, reply *model.Schema, meta map[string]any) (client.Stream, error) {
	b, err := c.codec.Encode(req)
	if err != nil {
		return nil, err
	}
	ack, err := c.sendRequest(ctx, path, b, meta)
	if err != nil {
		return nil, err
	}
	if ack.Error != nil {
		return nil, decodeEncodedError(ack.Error)
	}
	if ack.StreamID == "" {
		return nil, rpcerr.B().Code(rpcerr.Internal).Msg("eventbuschan: ack carried neither payload, error nor streamId").Err()
	}

	event := replyEvent(path, ack.StreamID)
	ch := make(chan envelope, 8)
	c.mu.Lock()
	c.streams[event] = ch
	c.mu.Unlock()

	return &stream{c: c, event: event, frames: ch, reply: reply, codec: c.codec}, nil
}

// StreamUnary has no wire on this transport: a single grpc_request_v2
// event carries the whole unary request side, with no convention for a
// client to push further request frames after it.
func (c *Chan) StreamUnary(ctx context.Context, path string, reply *model.Schema, meta map[string]any) (client.ClientStream, error) {
	return nil, rpcerr.B().Code(rpcerr.Unavailable).Msg("eventbuschan: client-streaming calls are not supported").Err()
}

func (c *Chan) StreamStream(ctx context.Context, path string, reply *model.Schema, meta map[string]any) (client.BidiStream, error) {
	return nil, rpcerr.B().Code(rpcerr.Unavailable).Msg("eventbuschan: client-streaming calls are not supported").Err()
}

type stream struct {
	c      *Chan
	event  string
	frames chan envelope
	reply  *model.Schema
	codec  codec.Codec
	done   bool
}

func (s *stream) Recv() (model.Value, error) {
	if s.done {
		return nil, io.EOF
	}
	env, ok := <-s.frames
	if !ok {
		s.done = true
		return nil, io.EOF
	}
	if env.End {
		s.done = true
		if len(env.Data) == 0 {
			return nil, io.EOF
		}
		var payload []byte
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return nil, err
		}
		if len(payload) == 0 {
			return nil, io.EOF
		}
		return nil, decodeEncodedError(payload)
	}
	var payload []byte
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, err
	}
	return s.codec.Decode(payload, s.reply)
}

func (s *stream) End() error {
	s.done = true
	s.c.mu.Lock()
	delete(s.c.streams, s.event)
	s.c.mu.Unlock()
	return nil
}

// decodeEncodedError recovers an *rpcerr.Error from codec.EncodeError
// output. This transport has no out-of-band status channel at all
// (unlike httpws's HTTP status for a unary call), so even a UU call's
// ack.Error only ever yields rpcerr.Unknown plus whatever message the
// codec's deliberately lossy error encoding preserved.
func decodeEncodedError(body []byte) error {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	msg := string(body)
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != nil {
		var s string
		if json.Unmarshal(payload.Error, &s) == nil {
			msg = s
		} else {
			msg = string(payload.Error)
		}
	}
	return rpcerr.B().Code(rpcerr.Unknown).Msg(msg).Err()
}

