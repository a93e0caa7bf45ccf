package ocean

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stn81/ocean/metrics"
	"github.com/stn81/ocean/packet"
)

func TestCorrelatorResolve(t *testing.T) {
	c := NewCorrelator(nil, nil)

	p, err := c.Register("1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	require.True(t, c.Resolve(packet.Success("1", "ok")))
	assert.Equal(t, 0, c.Len())

	out, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Response())

	// a second response for the same id has nobody waiting
	assert.False(t, c.Resolve(packet.Success("1", "again")))
}

func TestCorrelatorRegisterErrors(t *testing.T) {
	c := NewCorrelator(nil, nil)

	_, err := c.Register("")
	assert.ErrorIs(t, err, packet.ErrEmptyTransactionID)

	_, err = c.Register("7")
	require.NoError(t, err)
	_, err = c.Register("7")
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	c.Shutdown()
	_, err = c.Register("8")
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestCorrelatorUnknownResponse(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCorrelator(nil, metrics.New(reg))

	assert.False(t, c.Resolve(packet.Success("nobody", "x")))

	expected := `
# HELP ocean_client_responses_total Total number of responses received by the client by outcome
# TYPE ocean_client_responses_total counter
ocean_client_responses_total{outcome="discarded"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ocean_client_responses_total"))
}

func TestCorrelatorCancel(t *testing.T) {
	c := NewCorrelator(nil, nil)
	p, err := c.Register("1")
	require.NoError(t, err)

	boom := errors.New("boom")
	assert.True(t, c.Cancel("1", boom))
	assert.False(t, c.Cancel("1", boom))

	<-p.Done()
	out, err := p.Result()
	assert.Nil(t, out)
	assert.ErrorIs(t, err, boom)

	// the late response is discarded
	assert.False(t, c.Resolve(packet.Success("1", "late")))
}

func TestCorrelatorFailAll(t *testing.T) {
	c := NewCorrelator(nil, nil)

	var all []*Pending
	for _, id := range []string{"a", "b", "c"} {
		p, err := c.Register(id)
		require.NoError(t, err)
		all = append(all, p)
	}

	assert.Equal(t, 3, c.FailAll(ErrConnectionLost))
	for _, p := range all {
		_, err := p.Wait(context.Background())
		assert.ErrorIs(t, err, ErrConnectionLost)
	}

	// still open for new requests
	_, err := c.Register("d")
	assert.NoError(t, err)
}

func TestCorrelatorFailFor(t *testing.T) {
	c := NewCorrelator(nil, nil)
	oldConn, newConn := &struct{ n int }{1}, &struct{ n int }{2}

	a, err := c.RegisterFor("a", oldConn)
	require.NoError(t, err)
	b, err := c.RegisterFor("b", oldConn)
	require.NoError(t, err)
	_, err = c.RegisterFor("c", newConn)
	require.NoError(t, err)

	assert.Equal(t, 2, c.FailFor(oldConn, ErrConnectionLost))
	for _, p := range []*Pending{a, b} {
		_, err := p.Wait(context.Background())
		assert.ErrorIs(t, err, ErrConnectionLost)
	}

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Resolve(packet.Success("c", "ok")))
	assert.Equal(t, 0, c.FailFor(oldConn, ErrConnectionLost))
}

func TestCorrelatorShutdownIdempotent(t *testing.T) {
	c := NewCorrelator(nil, nil)
	p, err := c.Register("1")
	require.NoError(t, err)

	c.Shutdown()
	c.Shutdown()

	_, err = p.Wait(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.Equal(t, 0, c.Len())
}

func TestPendingWaitContext(t *testing.T) {
	c := NewCorrelator(nil, nil)
	p, err := c.Register("1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, c.Len(), "giving up waiting does not settle the request")
}

func TestCorrelatorExactlyOnce(t *testing.T) {
	const rounds = 200

	for i := 0; i < rounds; i++ {
		c := NewCorrelator(nil, nil)
		p, err := c.Register("x")
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			settled atomic.Int32
		)
		wg.Add(3)
		go func() {
			defer wg.Done()
			if c.Resolve(packet.Success("x", "ok")) {
				settled.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if c.Cancel("x", ErrTimeout) {
				settled.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			settled.Add(int32(c.FailAll(ErrConnectionLost)))
		}()
		wg.Wait()

		require.Equal(t, int32(1), settled.Load())
		<-p.Done()
	}
}
