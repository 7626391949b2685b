package connection

import (
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrNoFile is returned by File when the underlying connection is not backed
// by an operating system socket (for example a net.Pipe end).
var ErrNoFile = errors.New("connection: underlying conn has no file descriptor")

type filer interface {
	File() (*os.File, error)
}

// Conn is a net.Conn whose Close is idempotent.
type Conn struct {
	net.Conn

	id       string
	once     sync.Once
	closed   atomic.Bool
	closeErr error
	onClose  func(*Conn)
}

// Wrap takes ownership of c. onClose, if non-nil, runs exactly once right
// after the underlying connection is closed.
func Wrap(c net.Conn, onClose func(*Conn)) *Conn {
	return &Conn{
		Conn:    c,
		id:      uuid.New().String(),
		onClose: onClose,
	}
}

// ID returns the identifier assigned at Wrap time.
func (c *Conn) ID() string {
	return c.id
}

// Close closes the underlying connection the first time it is called and
// returns that result on every call.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.closeErr = c.Conn.Close()
		c.closed.Store(true)
		if c.onClose != nil {
			c.onClose(c)
		}
	})
	return c.closeErr
}

// Closed reports whether Close has run.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Unwrap returns the connection given to Wrap.
func (c *Conn) Unwrap() net.Conn {
	return c.Conn
}

// File returns a duplicate of the socket's file descriptor. The duplicate is
// independent: closing it does not close c, and closing c does not close it.
func (c *Conn) File() (*os.File, error) {
	f, ok := c.Conn.(filer)
	if !ok {
		return nil, ErrNoFile
	}
	return f.File()
}
