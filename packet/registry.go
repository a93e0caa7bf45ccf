package packet

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownType = errors.New("unknown packet type")

// DecodeFunc decodes the data region of an envelope into a concrete packet.
type DecodeFunc func(data []byte) (Packet, error)

// Factory returns a new zero packet to decode into.
type Factory func() Packet

type UnknownTypeError struct {
	Type string
	// TransactionID is read from the envelope's data region when present so the
	// caller can still answer the request.
	TransactionID string
}

func (e *UnknownTypeError) Error() string {
	return "Unknown packet type: " + e.Type
}

func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownType
}

// TypeRegistry maps a type identifier to the function decoding that type.
// Registering an identifier twice replaces the previous entry.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]DecodeFunc
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]DecodeFunc)}
}

// NewBuiltinTypeRegistry returns a registry that knows OUT_PACKET and
// SIMPLE_IN_PACKET.
func NewBuiltinTypeRegistry() *TypeRegistry {
	r := NewTypeRegistry()
	r.RegisterFactory(TypeOutPacket, func() Packet { return &OutPacket{} })
	r.RegisterFactory(TypeSimpleInPacket, func() Packet { return &SimpleInPacket{} })
	return r
}

func (r *TypeRegistry) Register(typeID string, decode DecodeFunc) {
	if typeID == "" || decode == nil {
		panic("packet: register with empty type id or nil decoder")
	}

	r.mu.Lock()
	r.types[typeID] = decode
	r.mu.Unlock()
}

// RegisterFactory registers a JSON decoder that fills the packet returned by f.
func (r *TypeRegistry) RegisterFactory(typeID string, f Factory) {
	r.Register(typeID, func(data []byte) (Packet, error) {
		p := f()
		if err := json.Unmarshal(data, p); err != nil {
			return nil, err
		}
		return p, nil
	})
}

func (r *TypeRegistry) Resolve(typeID string) (DecodeFunc, error) {
	r.mu.RLock()
	decode, ok := r.types[typeID]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownTypeError{Type: typeID}
	}
	return decode, nil
}

func (r *TypeRegistry) Has(typeID string) bool {
	_, err := r.Resolve(typeID)
	return err == nil
}

// Types returns the registered identifiers in sorted order.
func (r *TypeRegistry) Types() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (r *TypeRegistry) String() string {
	return fmt.Sprintf("packet types %v", r.Types())
}
