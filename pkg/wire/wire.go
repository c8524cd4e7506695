package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
)

var (
	// ErrMalformed is returned when a frame's JSON array does not match
	// the expected shape for its declared type.
	ErrMalformed = errors.New("wire: malformed frame")

	// ErrUnknownType is returned when the first array element is not one
	// of the known MsgType values.
	ErrUnknownType = errors.New("wire: unknown message type")
)

// Encode marshals m into a JSON array frame terminated by Separator.
func Encode(m Message) ([]byte, error) {
	var arr []any
	switch m.Type {
	case MsgRequest:
		if m.Request == nil {
			return nil, ErrMalformed
		}
		arr = []any{int(MsgRequest), m.Request}
	case MsgResponse:
		if m.Response == nil {
			return nil, ErrMalformed
		}
		arr = []any{int(MsgResponse), m.Response}
	case MsgPing:
		arr = []any{int(MsgPing)}
	case MsgPong:
		arr = []any{int(MsgPong)}
	default:
		return nil, ErrUnknownType
	}

	body, err := json.Marshal(arr)
	if err != nil {
		return nil, err
	}
	return append(body, Separator), nil
}

// Decode parses a single frame (without its trailing Separator) into a
// Message.
func Decode(raw []byte) (Message, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return Message{}, ErrMalformed
	}
	if len(parts) == 0 {
		return Message{}, ErrMalformed
	}

	var kind int
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return Message{}, ErrMalformed
	}

	switch MsgType(kind) {
	case MsgRequest:
		if len(parts) != 2 {
			return Message{}, ErrMalformed
		}
		var req Request
		if err := json.Unmarshal(parts[1], &req); err != nil {
			return Message{}, ErrMalformed
		}
		return Message{Type: MsgRequest, Request: &req}, nil
	case MsgResponse:
		if len(parts) != 2 {
			return Message{}, ErrMalformed
		}
		var resp Response
		if err := json.Unmarshal(parts[1], &resp); err != nil {
			return Message{}, ErrMalformed
		}
		return Message{Type: MsgResponse, Response: &resp}, nil
	case MsgPing:
		return Message{Type: MsgPing}, nil
	case MsgPong:
		return Message{Type: MsgPong}, nil
	default:
		return Message{}, ErrUnknownType
	}
}

// Scanner reads Separator-delimited frames off a stream and decodes them
// one at a time.
type Scanner struct {
	r *bufio.Reader
}

// NewScanner wraps r for frame-at-a-time reading.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Next blocks until a full frame has been read, then decodes it. It
// returns io.EOF when the underlying stream is closed with no partial
// frame pending.
func (s *Scanner) Next() (Message, error) {
	raw, err := s.r.ReadBytes(Separator)
	if err != nil {
		if err == io.EOF && len(raw) == 0 {
			return Message{}, io.EOF
		}
		if err != io.EOF {
			return Message{}, err
		}
	}
	if len(raw) > 0 && raw[len(raw)-1] == Separator {
		raw = raw[:len(raw)-1]
	}
	if len(raw) == 0 {
		return Message{}, io.EOF
	}
	return Decode(raw)
}
