package packet

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the wire wrapper: the type identifier selects how Data is decoded.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeError reports an envelope, or the data region of a known type, that
// could not be decoded. TransactionID is set when the data still carried a
// readable one.
type DecodeError struct {
	Type          string
	TransactionID string
	Err           error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode envelope: %v", e.Err)
	}
	return fmt.Sprintf("decode %s packet: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Codec wraps packets in envelopes and back.
type Codec struct {
	types *TypeRegistry
}

// NewCodec returns a codec decoding through types; nil selects the built-in types.
func NewCodec(types *TypeRegistry) *Codec {
	if types == nil {
		types = NewBuiltinTypeRegistry()
	}
	return &Codec{types: types}
}

func (c *Codec) Types() *TypeRegistry {
	return c.types
}

// Encode validates p and returns its envelope. Nothing is returned for an
// invalid packet.
func (c *Codec) Encode(p Packet) ([]byte, error) {
	if p == nil {
		return nil, NewValidationError("", "packet cannot be nil")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s packet: %w", p.Type(), err)
	}

	b, err := json.Marshal(&Envelope{Type: p.Type(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", p.Type(), err)
	}
	return b, nil
}

// Decode returns the packet carried by b. The packet is not validated.
func (c *Codec) Decode(b []byte) (Packet, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)}
	}
	if env.Type == "" {
		return nil, &DecodeError{Err: fmt.Errorf("%w: missing type", ErrMalformedEnvelope)}
	}

	decode, err := c.types.Resolve(env.Type)
	if err != nil {
		var ute *UnknownTypeError
		if errors.As(err, &ute) {
			ute.TransactionID = peekTransactionID(env.Data)
		}
		return nil, err
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &DecodeError{Type: env.Type, Err: fmt.Errorf("%w: missing data", ErrMalformedEnvelope)}
	}

	p, err := decode(env.Data)
	if err != nil {
		return nil, &DecodeError{Type: env.Type, TransactionID: peekTransactionID(env.Data), Err: err}
	}
	return p, nil
}

func peekTransactionID(data json.RawMessage) string {
	var v struct {
		TransactionID string `json:"transactionId"`
	}
	if len(data) == 0 || json.Unmarshal(data, &v) != nil {
		return ""
	}
	return v.TransactionID
}
