// Package httpchan implements client.Channel over transport/httpws:
// a plain POST per call, with US/SS replies multiplexed over a single
// lazily-opened WebSocket connection keyed by the Connection-Id /
// Stream-Id header dance that server side expects.
package httpchan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"modapp.dev/rpc/client"
	"modapp.dev/rpc/codec"
	"modapp.dev/rpc/model"
	"modapp.dev/rpc/rpcerr"
)

// wsEnvelope mirrors transport/httpws's wire frame. Kept as a
// package-local copy rather than an import since the server package
// doesn't export it.
type wsEnvelope struct {
	StreamID string `json:"streamId"`
	Message  []byte `json:"message,omitempty"`
	End      bool   `json:"end,omitempty"`
}

// Chan is a client.Channel backed by an HTTP/1.1 base URL and, once a
// streamed call needs one, a single shared WebSocket connection.
type Chan struct {
	baseURL string
	http    *http.Client
	codec   codec.Codec

	wsURL string

	mu      sync.Mutex
	ws      *websocket.Conn
	connID  string
	streams map[string]chan wsEnvelope
}

// New builds a Chan dialing baseURL ("http://host:port") lazily.
// wsURL is the corresponding "ws://host:port/ws" endpoint; if empty,
// it's derived from baseURL by swapping scheme and appending "/ws".
func New(baseURL, wsURL string, c codec.Codec) *Chan {
	if wsURL == "" {
		wsURL = strings.Replace(baseURL, "http", "ws", 1) + "/ws"
	}
	return &Chan{
		baseURL: baseURL,
		wsURL:   wsURL,
		http:    &http.Client{},
		codec:   c,
		streams: make(map[string]chan wsEnvelope),
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

// httpPathFor mirrors httpws.httpPathFor: "/pkg.Service/Method" ->
// "/pkg/service/method".
func httpPathFor(epPath string) string {
	return strings.ReplaceAll(strings.ToLower(epPath), ".", "/")
}

func (c *Chan) UnaryUnary(ctx context.Context, path string, req model.Value, reply *model.Schema, meta map[string]any) (model.Value, error) {
	b, err := c.codec.Encode(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+httpPathFor(path), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	setMetaHeaders(httpReq, meta)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, rpcerr.B().Code(rpcerr.Unavailable).Msg("httpchan: request failed").Cause(err).Err()
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, errorFromBody(c.codec, resp.StatusCode, body)
	}
	return c.codec.Decode(body, reply)
}

// UnaryStream opens (or reuses) the shared WebSocket connection, POSTs
// the request carrying its Connection-Id, and returns a Stream reading
// the Stream-Id the POST's response header named.
func (c *Chan) UnaryStream(ctx context.Context, path string, req model.Value, reply *model.Schema, meta map[string]any) (client.Stream, error) {
	connID, err := c.ensureWS()
	if err != nil {
		return nil, err
	}

	b, err := c.codec.Encode(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+httpPathFor(path), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	setMetaHeaders(httpReq, meta)
	httpReq.Header.Set("Connection-Id", connID)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, rpcerr.B().Code(rpcerr.Unavailable).Msg("httpchan: request failed").Cause(err).Err()
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return nil, errorFromBody(c.codec, resp.StatusCode, body)
	}
	streamID := resp.Header.Get("Stream-Id")
	if streamID == "" {
		return nil, rpcerr.B().Code(rpcerr.Internal).Msg("httpchan: server did not return a Stream-Id").Err()
	}

	ch := make(chan wsEnvelope, 8)
	c.mu.Lock()
	c.streams[streamID] = ch
	c.mu.Unlock()

	return &stream{c: c, streamID: streamID, frames: ch, reply: reply, codec: c.codec}, nil
}

// StreamUnary has no wire on this transport: a starting POST carries
// exactly one request frame (see transport/httpws's singleReader), and
// there's no gRPC-style client-streaming mode for plain HTTP/WebSocket.
func (c *Chan) StreamUnary(ctx context.Context, path string, reply *model.Schema, meta map[string]any) (client.ClientStream, error) {
	return nil, rpcerr.B().Code(rpcerr.Unavailable).Msg("httpchan: client-streaming calls are not supported").Err()
}

func (c *Chan) StreamStream(ctx context.Context, path string, reply *model.Schema, meta map[string]any) (client.BidiStream, error) {
	return nil, rpcerr.B().Code(rpcerr.Unavailable).Msg("httpchan: client-streaming calls are not supported").Err()
}

// ensureWS opens the shared /ws connection on first use, reads its
// hello frame for the assigned connection ID, and starts the read loop
// that fans inbound frames out to whichever stream they're keyed to.
func (c *Chan) ensureWS() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		return c.connID, nil
	}

	ws, _, err := websocket.DefaultDialer.Dial(c.wsURL, nil)
	if err != nil {
		return "", rpcerr.B().Code(rpcerr.Unavailable).Msg("httpchan: websocket dial failed").Cause(err).Err()
	}

	var hello struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := ws.ReadJSON(&hello); err != nil {
		ws.Close()
		return "", rpcerr.B().Code(rpcerr.Unavailable).Msg("httpchan: reading connection greeting failed").Cause(err).Err()
	}

	c.ws = ws
	c.connID = hello.ConnectionID
	go c.readLoop(ws)
	return c.connID, nil
}

func (c *Chan) readLoop(ws *websocket.Conn) {
	for {
		var env wsEnvelope
		if err := ws.ReadJSON(&env); err != nil {
			c.mu.Lock()
			for _, ch := range c.streams {
				close(ch)
			}
			c.streams = make(map[string]chan wsEnvelope)
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		ch := c.streams[env.StreamID]
		c.mu.Unlock()
		if ch != nil {
			ch <- env
			if env.End {
				c.mu.Lock()
				delete(c.streams, env.StreamID)
				c.mu.Unlock()
				close(ch)
			}
		}
	}
}

type stream struct {
	c        *Chan
	streamID string
	frames   chan wsEnvelope
	reply    *model.Schema
	codec    codec.Codec
	done     bool
}

// Recv decodes the next frame. The terminal frame (End true) folds an
// encoded handler error into its Message field when the call failed;
// Recv reports that as an error directly rather than handing the
// caller a reply value decoded from what is actually an error body.
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
		if len(env.Message) == 0 {
			return nil, io.EOF
		}
		return nil, decodeEncodedError(s.codec, env.Message)
	}
	return s.codec.Decode(env.Message, s.reply)
}

// End stops delivery of this stream's frames and sends the stream's
// end frame over the WebSocket, which cancels the handler server-side.
func (s *stream) End() error {
	s.done = true
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	delete(s.c.streams, s.streamID)
	if s.c.ws == nil {
		return nil
	}
	return s.c.ws.WriteJSON(wsEnvelope{StreamID: s.streamID, End: true})
}

func setMetaHeaders(r *http.Request, meta map[string]any) {
	for k, v := range meta {
		r.Header.Set("X-Meta-"+k, fmt.Sprint(v))
	}
}

// errorFromBody recovers an *rpcerr.Error from a non-2xx HTTP response
// whose body is codec.EncodeError's output, reconstructing the code
// from the HTTP status since the JSON codec's error body is
// deliberately lossy about it (mirrors httpws.writeError's status
// mapping in reverse).
func errorFromBody(c codec.Codec, status int, body []byte) error {
	code := codeFromHTTPStatus(status)
	return decodeEncodedErrorWithCode(c, code, body)
}

// decodeEncodedError recovers a streamed reply's folded error frame.
// Unlike a unary call's HTTP status, a WS frame carries no out-of-band
// code, so the result always reports rpcerr.Unknown; only the message
// survives.
func decodeEncodedError(c codec.Codec, body []byte) error {
	return decodeEncodedErrorWithCode(c, rpcerr.Unknown, body)
}

func decodeEncodedErrorWithCode(c codec.Codec, code rpcerr.Code, body []byte) error {
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
	return rpcerr.B().Code(code).Msg(msg).Err()
}

func codeFromHTTPStatus(status int) rpcerr.Code {
	switch status {
	case http.StatusNotFound:
		return rpcerr.NotFound
	case http.StatusUnprocessableEntity:
		return rpcerr.InvalidArgument
	case http.StatusUnauthorized:
		return rpcerr.Unauthenticated
	case http.StatusForbidden:
		return rpcerr.PermissionDenied
	case http.StatusServiceUnavailable:
		return rpcerr.Unavailable
	case http.StatusGatewayTimeout:
		return rpcerr.DeadlineExceeded
	case 499:
		return rpcerr.Cancelled
	default:
		return rpcerr.Internal
	}
}
