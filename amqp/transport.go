package amqp

import (
	"net"
	"sync"
)

const readBufferSize = 64 * 1024

// Transport moves raw bytes for a connection. Start begins delivering
// received chunks to onReceive on a single goroutine; onClosed is called once
// when the transport stops, with the error that stopped it.
type Transport interface {
	Send(b []byte) error
	Start(onReceive func([]byte), onClosed func(error))
	Close() error
}

type connTransport struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

// NewConnTransport adapts a net.Conn.
func NewConnTransport(conn net.Conn) Transport {
	return &connTransport{conn: conn}
}

func (t *connTransport) Send(b []byte) error {
	for len(b) > 0 {
		n, err := t.conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func (t *connTransport) Start(onReceive func([]byte), onClosed func(error)) {
	go func() {
		buf := make([]byte, readBufferSize)
		for {
			n, err := t.conn.Read(buf)
			if n > 0 {
				onReceive(buf[:n])
			}
			if err != nil {
				onClosed(err)
				return
			}
		}
	}()
}

func (t *connTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
