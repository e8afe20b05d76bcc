package session_test

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/watt-toolkit/pjrmi/registry/types"
	"github.com/watt-toolkit/pjrmi/session"
	"github.com/watt-toolkit/pjrmi/transport"
	"github.com/watt-toolkit/pjrmi/wire"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// noopDispatcher satisfies rpc.Dispatcher for the reentrant-mode test,
// where Connect starts a receiver goroutine that must have somewhere to
// send unsolicited frames even though none arrive in these tests.
type noopDispatcher struct{}

func (noopDispatcher) Dispatch(int64, wire.MsgType, []byte) {}

func readASCII(r io.Reader) (string, error) {
	lb, err := wire.ReadFull(r, 2)
	if err != nil {
		return "", err
	}
	n := int(int16(binary.BigEndian.Uint16(lb)))
	if n < 0 {
		n = -n
	}
	b, err := wire.ReadFull(r, n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readUTF16Len(r io.Reader) (int, error) {
	b, err := wire.ReadFull(r, 4)
	if err != nil {
		return 0, err
	}
	return int(int32(binary.BigEndian.Uint32(b))), nil
}

func readHello(r io.Reader) error {
	if _, err := readASCII(r); err != nil { // protocol version
		return err
	}
	n, err := readUTF16Len(r) // command line, 2 bytes per unit
	if err != nil {
		return err
	}
	if _, err := wire.ReadFull(r, n*2); err != nil {
		return err
	}
	if _, err := wire.ReadFull(r, 4); err != nil { // pid
		return err
	}
	if _, err := wire.ReadFull(r, 8); err != nil { // self id
		return err
	}
	return nil
}

func writeASCII(w io.Writer, s string, isError bool) error {
	buf := make([]byte, 2+len(s))
	n := int16(len(s))
	if isError {
		n = -n
	}
	binary.BigEndian.PutUint16(buf[:2], uint16(n))
	copy(buf[2:], s)
	_, err := w.Write(buf)
	return err
}

// emptyDescriptor builds a minimal zero-method, zero-field descriptor for
// name, just enough for types.DecodeDescriptor to round-trip it.
func emptyDescriptor(id types.ID, name string) *types.Descriptor {
	return &types.Descriptor{ID: id, Name: name, Methods: map[string][]types.Method{}}
}

// fakeServer plays the other half of Connect's handshake on conn, then
// answers TYPE_REQUEST/LOCK/UNLOCK frames until conn is closed.
func fakeServer(conn io.ReadWriter, serviceName string, capByte byte) {
	if err := readHello(conn); err != nil {
		return
	}
	if writeASCII(conn, "PJRMI_1.13", false) != nil {
		return
	}
	if writeASCII(conn, serviceName, false) != nil {
		return
	}
	if _, err := conn.Write([]byte{capByte}); err != nil {
		return
	}

	nextID := types.ID(1)
	for {
		h, payload, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		switch h.MsgType {
		case wire.TypeRequest:
			r := wire.NewReader(payload)
			kind, _ := r.Byte()
			var name string
			if kind == 0 {
				name, _ = r.UTF16String()
			}
			d := emptyDescriptor(nextID, name)
			nextID++
			w := wire.NewWriter(64)
			d.Encode(w)
			resp := wire.Header{MsgType: wire.TypeDescription, ThreadID: h.ThreadID, RequestID: h.RequestID, PayloadSize: int32(w.Len())}
			if wire.WriteFrame(conn, resp, w.Bytes()) != nil {
				return
			}
		case wire.Lock, wire.Unlock:
			resp := wire.Header{MsgType: wire.EmptyAck, ThreadID: h.ThreadID, RequestID: h.RequestID, PayloadSize: 0}
			if wire.WriteFrame(conn, resp, nil) != nil {
				return
			}
		default:
			return
		}
	}
}

// failingHandshakeServer echoes a version mismatch instead of the real
// protocol string, modeling a peer running an incompatible build.
func failingHandshakeServer(conn io.ReadWriter) {
	if err := readHello(conn); err != nil {
		return
	}
	writeASCII(conn, "PJRMI_0.9", false)
}

// rejectingServer echoes the hello correctly but refuses the service name
// with a negative-length error string.
func rejectingServer(conn io.ReadWriter, reason string) {
	if err := readHello(conn); err != nil {
		return
	}
	if writeASCII(conn, "PJRMI_1.13", false) != nil {
		return
	}
	writeASCII(conn, reason, true)
}

var _ = Describe("Session", func() {
	It("connects, negotiates non-reentrant mode, and resolves the bootstrap type set", func() {
		client, server := transport.NewInProcessPair()
		go fakeServer(server, "test-service", 0)

		s, err := session.Connect(context.Background(), session.Config{
			Transport:   client,
			CommandLine: "pjrmictl --test",
		})
		Expect(err).NotTo(HaveOccurred())
		defer s.Disconnect()

		Expect(s.ServiceName()).To(Equal("test-service"))
		Expect(s.Reentrant()).To(BeFalse())
		Expect(s.Connected()).To(BeTrue())

		d, err := s.Types.ClassForName("int")
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Name).To(Equal("int"))
	})

	It("negotiates reentrant mode when the capability byte requests it", func() {
		client, server := transport.NewInProcessPair()
		go fakeServer(server, "reentrant-service", 1)

		s, err := session.Connect(context.Background(), session.Config{
			Transport:   client,
			CommandLine: "pjrmictl --reentrant",
			Dispatcher:  noopDispatcher{},
			Workers:     4,
		})
		Expect(err).NotTo(HaveOccurred())
		defer s.Disconnect()

		Expect(s.Reentrant()).To(BeTrue())
	})

	It("fails fast on a hello version mismatch", func() {
		client, server := transport.NewInProcessPair()
		go failingHandshakeServer(server)

		_, err := session.Connect(context.Background(), session.Config{
			Transport:   client,
			CommandLine: "pjrmictl",
		})
		Expect(err).To(HaveOccurred())
	})

	It("fails when the server rejects the connection with a service-string error", func() {
		client, server := transport.NewInProcessPair()
		go rejectingServer(server, "no such service")

		_, err := session.Connect(context.Background(), session.Config{
			Transport:   client,
			CommandLine: "pjrmictl",
		})
		Expect(err).To(HaveOccurred())
	})

	It("is reentrant by local refcount for Lock/Unlock", func() {
		client, server := transport.NewInProcessPair()

		var frames int
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := readHello(server); err != nil {
				return
			}
			writeASCII(server, "PJRMI_1.13", false)
			writeASCII(server, "lock-service", false)
			server.Write([]byte{0})
			nextID := types.ID(1)
			for {
				h, payload, err := wire.ReadFrame(server)
				if err != nil {
					return
				}
				if h.MsgType == wire.TypeRequest { // bootstrap types, not counted
					r := wire.NewReader(payload)
					r.Byte()
					name, _ := r.UTF16String()
					w := wire.NewWriter(64)
					emptyDescriptor(nextID, name).Encode(w)
					nextID++
					resp := wire.Header{MsgType: wire.TypeDescription, ThreadID: h.ThreadID, RequestID: h.RequestID, PayloadSize: int32(len(w.Bytes()))}
					if wire.WriteFrame(server, resp, w.Bytes()) != nil {
						return
					}
					continue
				}
				frames++
				resp := wire.Header{MsgType: wire.EmptyAck, ThreadID: h.ThreadID, RequestID: h.RequestID}
				if wire.WriteFrame(server, resp, nil) != nil {
					return
				}
			}
		}()

		s, err := session.Connect(context.Background(), session.Config{
			Transport:   client,
			CommandLine: "pjrmictl",
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Lock("x")).To(Succeed())
		Expect(s.Lock("x")).To(Succeed())   // reentrant, no wire traffic
		Expect(s.Unlock("x")).To(Succeed()) // still held once
		Expect(s.Unlock("x")).To(Succeed()) // now released, sends UNLOCK

		Expect(s.Disconnect()).To(Succeed())
		<-done

		Expect(frames).To(Equal(2)) // one LOCK, one UNLOCK
	})

	It("rejects an unmatched Unlock", func() {
		client, server := transport.NewInProcessPair()
		go fakeServer(server, "svc", 0)

		s, err := session.Connect(context.Background(), session.Config{
			Transport:   client,
			CommandLine: "pjrmictl",
		})
		Expect(err).NotTo(HaveOccurred())
		defer s.Disconnect()

		Expect(s.Unlock("never-locked")).To(HaveOccurred())
	})

	It("makes Disconnect idempotent", func() {
		client, server := transport.NewInProcessPair()
		go fakeServer(server, "svc", 0)

		s, err := session.Connect(context.Background(), session.Config{
			Transport:   client,
			CommandLine: "pjrmictl",
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Disconnect()).To(Succeed())
		Expect(s.Disconnect()).To(Succeed())
		Expect(s.Connected()).To(BeFalse())
	})
})
