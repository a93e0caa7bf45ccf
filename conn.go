package ocean

import (
	"net"
	"sync/atomic"
	"time"
)

// meteredConn applies per-call deadlines and counts the bytes moved.
type meteredConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64
}

func newMeteredConn(conn net.Conn, readTimeout, writeTimeout time.Duration) *meteredConn {
	c := &meteredConn{Conn: conn}
	_ = c.setReadTimeout(readTimeout)
	_ = c.setWriteTimeout(writeTimeout)
	return c
}

func (c *meteredConn) setReadTimeout(d time.Duration) error {
	c.readTimeout = d
	if d == 0 {
		return c.Conn.SetReadDeadline(time.Time{})
	}
	return nil
}

func (c *meteredConn) setWriteTimeout(d time.Duration) error {
	c.writeTimeout = d
	if d == 0 {
		return c.Conn.SetWriteDeadline(time.Time{})
	}
	return nil
}

func (c *meteredConn) Read(b []byte) (n int, err error) {
	if c.readTimeout > 0 {
		if err = c.Conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return
		}
	}
	n, err = c.Conn.Read(b)
	c.bytesIn.Add(uint64(n))
	return
}

func (c *meteredConn) Write(b []byte) (n int, err error) {
	if c.writeTimeout > 0 {
		if err = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return
		}
	}
	n, err = c.Conn.Write(b)
	c.bytesOut.Add(uint64(n))
	return
}

func (c *meteredConn) ReadBytes() uint64 {
	return c.bytesIn.Load()
}

func (c *meteredConn) WriteBytes() uint64 {
	return c.bytesOut.Load()
}
