package network_test

import (
	"bytes"
	"net"
	"sync"
	"time"
)

// fakeConn is a net.PacketConn that records writes and never receives.
type fakeConn struct {
	mu     sync.Mutex
	writes []sentDatagram
	local  net.Addr
	closed chan struct{}
	once   sync.Once
}

type sentDatagram struct {
	data []byte
	to   string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		local:  &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9002},
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	<-c.closed
	return 0, nil, net.ErrClosed
}

func (c *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, sentDatagram{data: append([]byte(nil), p...), to: addr.String()})
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr                { return c.local }
func (c *fakeConn) SetDeadline(time.Time) error        { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error    { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error   { return nil }

// count returns how many times exactly data was written.
func (c *fakeConn) count(data []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.writes {
		if bytes.Equal(w.data, data) {
			n++
		}
	}
	return n
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: port}
}
