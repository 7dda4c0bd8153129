package eventbus

import "encoding/json"

// requestEvent is the single event name every call travels under,
// carrying (meta, payload) together in one JSON object where Socket.IO
// itself would pass them as separate event arguments.
const requestEvent = "grpc_request_v2"

// envelope is the one frame shape this transport's wire format uses,
// standing in for Socket.IO's own packet encoding. A client->server
// call sets Event and AckID; a server->client ack or streamed-reply
// push sets AckID/Event respectively and Data, ending a stream with
// End.
type envelope struct {
	Event string          `json:"event,omitempty"`
	AckID int64           `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	End   bool            `json:"end,omitempty"`
}

// requestEnvelope is the Data payload of a requestEvent frame.
type requestEnvelope struct {
	Meta    map[string]any `json:"meta"`
	Payload []byte         `json:"payload"`
}

// ackEnvelope is the Data payload of the ack replying to a
// requestEvent frame. For a unary reply exactly one of Error or
// Payload is set, the (error, payload) pair a Socket.IO ack callback
// would return. For a streamed reply, StreamID is set instead; the
// actual payloads arrive as separate "<path>_<streamId>_reply" events.
type ackEnvelope struct {
	Error    []byte `json:"error,omitempty"`
	Payload  []byte `json:"payload,omitempty"`
	StreamID string `json:"streamId,omitempty"`
}

func replyEvent(path, streamID string) string {
	return path + "_" + streamID + "_reply"
}
