package wire

import "encoding/json"

// NewRequest builds a request Message, marshaling data as its payload.
func NewRequest(no int, typ string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgRequest, Request: &Request{No: no, Type: typ, Data: raw}}, nil
}

// NewResponse builds a success response Message carrying data as its body.
func NewResponse(no int, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: MsgResponse, Response: &Response{No: no, Data: raw}}, nil
}

// NewErrorResponse builds a failure response Message carrying errMsg.
func NewErrorResponse(no int, errMsg string) Message {
	return Message{Type: MsgResponse, Response: &Response{No: no, Error: errMsg}}
}

// Ping and Pong are the fixed keepalive frames (no payload, no sequence
// number).
var (
	Ping = Message{Type: MsgPing}
	Pong = Message{Type: MsgPong}
)
