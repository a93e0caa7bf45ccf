package ocean

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/stn81/ocean/packet"
)

// CircuitBreakerClient fails fast while the breaker is open. Error responses
// from the server are answers, not failures, and do not trip the breaker.
type CircuitBreakerClient struct {
	breaker *gobreaker.CircuitBreaker
	Client
}

var _ Client = (*CircuitBreakerClient)(nil)

func NewCircuitBreakerClient(client Client, breaker *gobreaker.CircuitBreaker) *CircuitBreakerClient {
	return &CircuitBreakerClient{
		Client:  client,
		breaker: breaker,
	}
}

// NewBreaker returns a breaker that opens after maxFailures consecutive
// transport failures and tries again after openTimeout.
func NewBreaker(name string, maxFailures uint32, openTimeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			var ve *packet.ValidationError
			return err == nil || errors.As(err, &ve) || errors.Is(err, ErrDuplicateTransaction)
		},
	})
}

func (c *CircuitBreakerClient) Breaker() *gobreaker.CircuitBreaker {
	return c.breaker
}

func (c *CircuitBreakerClient) Dial(addr string) (err error) {
	_, err = c.breaker.Execute(func() (interface{}, error) { return nil, c.Client.Dial(addr) })
	return
}

func (c *CircuitBreakerClient) Call(ctx context.Context, req packet.Packet) (resp *packet.OutPacket, err error) {
	var reply interface{}

	reply, err = c.breaker.Execute(func() (interface{}, error) { return c.Client.Call(ctx, req) })
	if err == nil {
		resp = reply.(*packet.OutPacket)
	}
	return
}

func (c *CircuitBreakerClient) CallWithTimeout(ctx context.Context, req packet.Packet, timeout time.Duration) (resp *packet.OutPacket, err error) {
	var reply interface{}

	reply, err = c.breaker.Execute(func() (interface{}, error) { return c.Client.CallWithTimeout(ctx, req, timeout) })
	if err == nil {
		resp = reply.(*packet.OutPacket)
	}
	return
}

func (c *CircuitBreakerClient) Send(ctx context.Context, req packet.Packet) (pending *Pending, err error) {
	var reply interface{}

	reply, err = c.breaker.Execute(func() (interface{}, error) { return c.Client.Send(ctx, req) })
	if err == nil {
		pending = reply.(*Pending)
	}
	return
}
