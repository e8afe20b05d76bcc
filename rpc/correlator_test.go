package rpc_test

import (
	"context"
	"net"
	"sync"

	"github.com/watt-toolkit/pjrmi/rpc"
	"github.com/watt-toolkit/pjrmi/wire"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// echoServer answers every inbound frame with ArbitraryItem carrying the
// same payload, on the same request id, simulating a well-behaved peer.
func echoServer(conn net.Conn) {
	for {
		h, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		resp := wire.Header{MsgType: wire.ArbitraryItem, ThreadID: h.ThreadID, RequestID: h.RequestID, PayloadSize: int32(len(payload))}
		if wire.WriteFrame(conn, resp, payload) != nil {
			return
		}
	}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	seen []wire.MsgType
}

func (d *recordingDispatcher) Dispatch(threadID int64, msgType wire.MsgType, payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, msgType)
}

var _ = Describe("Correlator", func() {
	It("round-trips a synchronous call in reentrant mode", func() {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()
		go echoServer(server)

		d := &recordingDispatcher{}
		c := rpc.NewCorrelator(client, true, 4, d)
		go c.Run(context.Background())

		_, payload, err := c.Call(wire.MethodCall, []byte{1, 2, 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(payload).To(Equal([]byte{1, 2, 3}))
	})

	It("dispatches unsolicited frames to the worker pool instead of blocking Call", func() {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		d := &recordingDispatcher{}
		c := rpc.NewCorrelator(client, true, 4, d)
		go c.Run(context.Background())

		// server sends one unsolicited CALLBACK, then answers the client's
		// upcoming METHOD_CALL by echo - a single goroutine owns all writes
		// and reads on the server side of the pipe to avoid interleaving.
		go func() {
			h := wire.Header{MsgType: wire.Callback, ThreadID: 1, RequestID: rpc.UnsolicitedRequestID, PayloadSize: 0}
			if wire.WriteFrame(server, h, nil) != nil {
				return
			}
			echoServer(server)
		}()

		_, payload, err := c.Call(wire.MethodCall, []byte("hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(payload).To(Equal([]byte("hi")))
	})

	It("assigns each request a distinct monotonically increasing id", func() {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()
		go echoServer(server)

		d := &recordingDispatcher{}
		c := rpc.NewCorrelator(client, true, 4, d)
		go c.Run(context.Background())

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := c.Call(wire.MethodCall, []byte{byte(1)})
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()
	})
})
