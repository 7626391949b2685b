package connection_test

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/conn-dispatcher/internal/connection"
)

type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

var _ = Describe("Conn", func() {
	var (
		client net.Conn
		server *countingConn
	)

	BeforeEach(func() {
		var s net.Conn
		client, s = net.Pipe()
		server = &countingConn{Conn: s}
	})

	AfterEach(func() {
		client.Close()
	})

	It("assigns a uuid", func() {
		c := connection.Wrap(server, nil)
		_, err := uuid.Parse(c.ID())
		Expect(err).NotTo(HaveOccurred())
		Expect(connection.Wrap(server, nil).ID()).NotTo(Equal(c.ID()))
	})

	It("closes the underlying connection once no matter how often Close is called", func() {
		var hooks atomic.Int32
		c := connection.Wrap(server, func(*connection.Conn) { hooks.Add(1) })

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = c.Close()
			}()
		}
		wg.Wait()

		Expect(server.closes.Load()).To(Equal(int32(1)))
		Expect(hooks.Load()).To(Equal(int32(1)))
		Expect(c.Closed()).To(BeTrue())
	})

	It("reports not closed before Close", func() {
		c := connection.Wrap(server, nil)
		Expect(c.Closed()).To(BeFalse())
		Expect(c.Unwrap()).To(BeIdenticalTo(server))
	})

	It("refuses to export a descriptor for in-memory pipes", func() {
		c := connection.Wrap(server, nil)
		_, err := c.File()
		Expect(err).To(MatchError(connection.ErrNoFile))
	})

	It("exports an independent descriptor for TCP connections", func() {
		ln, err := net.Listen("tcp4", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer ln.Close()

		dialed, err := net.Dial("tcp4", ln.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		defer dialed.Close()

		accepted, err := ln.Accept()
		Expect(err).NotTo(HaveOccurred())

		c := connection.Wrap(accepted, nil)
		f, err := c.File()
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Close()).To(Succeed())

		// The duplicate still refers to the live socket.
		fc, err := net.FileConn(f)
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Close()).To(Succeed())

		_, err = fc.Write([]byte("ok"))
		Expect(err).NotTo(HaveOccurred())
		Expect(fc.Close()).To(Succeed())

		buf := make([]byte, 2)
		_, err = dialed.Read(buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(buf)).To(Equal("ok"))
	})
})
