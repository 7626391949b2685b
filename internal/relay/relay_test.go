package relay_test

import (
	"bytes"
	"crypto/rand"
	"io"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/conn-dispatcher/internal/relay"
)

var _ = Describe("Run", func() {
	var (
		clientPeer   *net.TCPConn
		clientSide   *countingConn
		upstreamSide *countingConn
		upstreamPeer *net.TCPConn
		statsCh      chan relay.Stats
	)

	BeforeEach(func() {
		var cs, us *net.TCPConn
		clientPeer, cs = tcpPair()
		us, upstreamPeer = tcpPair()
		clientSide = &countingConn{Conn: cs}
		upstreamSide = &countingConn{Conn: us}

		statsCh = make(chan relay.Stats, 1)
		go func() {
			statsCh <- relay.Run(clientSide, upstreamSide)
		}()
	})

	AfterEach(func() {
		clientPeer.Close()
		upstreamPeer.Close()
	})

	It("delivers exactly the client's bytes upstream", func() {
		payload := []byte("GET / HTTP/1.0\r\nHost: example\r\n\r\n")
		_, err := clientPeer.Write(payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(clientPeer.CloseWrite()).To(Succeed())

		received, err := io.ReadAll(upstreamPeer)
		Expect(err).NotTo(HaveOccurred())
		Expect(received).To(Equal(payload))

		var stats relay.Stats
		Eventually(statsCh, time.Second).Should(Receive(&stats))
		Expect(stats.ClientToUpstream).To(Equal(int64(len(payload))))
		Expect(stats.ClosedBy).To(Equal(relay.ClientToUpstream))
	})

	It("delivers exactly the upstream's bytes to the client", func() {
		payload := []byte("HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\nhi")
		_, err := upstreamPeer.Write(payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(upstreamPeer.Close()).To(Succeed())

		received, err := io.ReadAll(clientPeer)
		Expect(err).NotTo(HaveOccurred())
		Expect(received).To(Equal(payload))

		var stats relay.Stats
		Eventually(statsCh, time.Second).Should(Receive(&stats))
		Expect(stats.UpstreamToClient).To(Equal(int64(len(payload))))
		Expect(stats.ClosedBy).To(Equal(relay.UpstreamToClient))
		Expect(stats.Err).NotTo(HaveOccurred())
	})

	It("relays large payloads byte for byte", func() {
		payload := make([]byte, 1<<20)
		_, err := rand.Read(payload)
		Expect(err).NotTo(HaveOccurred())

		go func() {
			defer GinkgoRecover()
			_, err := upstreamPeer.Write(payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(upstreamPeer.CloseWrite()).To(Succeed())
		}()

		received, err := io.ReadAll(clientPeer)
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.Equal(received, payload)).To(BeTrue())
	})

	It("closes both ends exactly once when one side hangs up", func() {
		Expect(clientPeer.Close()).To(Succeed())

		Eventually(statsCh, time.Second).Should(Receive())
		Expect(clientSide.closes.Load()).To(Equal(int32(1)))
		Expect(upstreamSide.closes.Load()).To(Equal(int32(1)))

		// The upstream observes the teardown even though it never sent anything.
		Expect(upstreamPeer.SetReadDeadline(time.Now().Add(time.Second))).To(Succeed())
		_, err := upstreamPeer.Read(make([]byte, 1))
		Expect(err).To(MatchError(io.EOF))
	})

	It("tears down when the upstream hangs up first", func() {
		Expect(upstreamPeer.Close()).To(Succeed())

		Eventually(statsCh, time.Second).Should(Receive())
		Expect(clientSide.closes.Load()).To(Equal(int32(1)))
		Expect(upstreamSide.closes.Load()).To(Equal(int32(1)))
	})
})
