// Package dispatch maps packet types to the handlers producing their responses.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stn81/ocean/packet"
)

// Handler produces the response to one request. Returned errors are converted
// to error responses by the Dispatcher.
type Handler interface {
	Handle(ctx context.Context, p packet.Packet) (*packet.OutPacket, error)
}

type HandlerFunc func(ctx context.Context, p packet.Packet) (*packet.OutPacket, error)

func (f HandlerFunc) Handle(ctx context.Context, p packet.Packet) (*packet.OutPacket, error) {
	return f(ctx, p)
}

// Typed adapts a handler for one concrete packet type.
func Typed[T packet.Packet](fn func(ctx context.Context, p T) (*packet.OutPacket, error)) Handler {
	return HandlerFunc(func(ctx context.Context, p packet.Packet) (*packet.OutPacket, error) {
		t, ok := p.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected packet %T for type %s", p, p.Type())
		}
		return fn(ctx, t)
	})
}

// Registry holds one handler per packet type; the last registration wins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// NewDefaultRegistry returns a registry serving SIMPLE_IN_PACKET.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(packet.TypeSimpleInPacket, SimpleInHandler())
	return r
}

func (r *Registry) Register(typeID string, h Handler) {
	if typeID == "" || h == nil {
		panic("dispatch: register with empty type id or nil handler")
	}

	r.mu.Lock()
	r.handlers[typeID] = h
	r.mu.Unlock()
}

func (r *Registry) RegisterFunc(typeID string, fn HandlerFunc) {
	r.Register(typeID, fn)
}

func (r *Registry) Lookup(typeID string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[typeID]
	r.mu.RUnlock()
	return h, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// SimpleInHandler answers SIMPLE_IN_PACKET requests.
func SimpleInHandler() Handler {
	return Typed(func(_ context.Context, p *packet.SimpleInPacket) (*packet.OutPacket, error) {
		return packet.Success(p.ID, "Server received: "+p.Message), nil
	})
}
