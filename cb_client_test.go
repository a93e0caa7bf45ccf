package ocean

import (
	"context"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stn81/ocean/packet"
	"github.com/stn81/ocean/session"
)

func TestCircuitBreakerOpensOnTransportFailures(t *testing.T) {
	client := NewCircuitBreakerClient(&errClient{ErrConnectionLost}, NewBreaker("test", 2, time.Minute))
	req := packet.NewSimpleInPacket("1", "x")

	for i := 0; i < 2; i++ {
		_, err := client.Call(context.Background(), req)
		assert.ErrorIs(t, err, ErrConnectionLost)
	}
	assert.Equal(t, gobreaker.StateOpen, client.Breaker().State())

	_, err := client.Call(context.Background(), req)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreakerIgnoresCallerErrors(t *testing.T) {
	client := NewCircuitBreakerClient(&errClient{packet.NewValidationError(packet.TypeSimpleInPacket, "bad")}, NewBreaker("test", 1, time.Minute))

	for i := 0; i < 3; i++ {
		_, err := client.Call(context.Background(), packet.NewSimpleInPacket("", "x"))
		var ve *packet.ValidationError
		assert.ErrorAs(t, err, &ve)
	}
	assert.Equal(t, gobreaker.StateClosed, client.Breaker().State())
}

func TestCircuitBreakerPassesResponses(t *testing.T) {
	srv := startServer(t, session.Config{})
	conf := NewTCPClientConfig()
	client := NewCircuitBreakerClient(NewTCPClient(context.Background(), conf), NewBreaker("test", 1, time.Minute))
	t.Cleanup(client.Close)

	require.NoError(t, client.Dial(srv.Addr().String()))

	out, err := client.CallWithTimeout(context.Background(), packet.NewSimpleInPacket(client.NextID(), "hi"), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Server received: hi", out.Response())

	pending, err := client.Send(context.Background(), packet.NewSimpleInPacket(client.NextID(), "async"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err = pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Server received: async", out.Response())
	assert.Equal(t, gobreaker.StateClosed, client.Breaker().State())
}
