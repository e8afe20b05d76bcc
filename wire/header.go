package wire

import (
	"encoding/binary"
	"io"

	"github.com/watt-toolkit/pjrmi/cmn/cos"
)

// HeaderSize is the fixed on-wire size of a frame header: 1 (msg type) +
// 8 (thread id) + 4 (request id) + 4 (payload size), all big-endian.
const HeaderSize = 1 + 8 + 4 + 4

// MaxPayloadSize is the addressable array limit on the peer (spec.md §4.1).
const MaxPayloadSize = 1<<31 - 1

// NoRequestID is the reserved request id for unsolicited server->client
// frames (spec.md §3 invariant: -1 is reserved and never allocated).
const NoRequestID int32 = -1

type Header struct {
	MsgType     MsgType
	ThreadID    int64
	RequestID   int32
	PayloadSize int32
}

// Encode writes the header into a caller-supplied HeaderSize-byte buffer.
func (h Header) Encode(buf []byte) {
	_ = buf[HeaderSize-1] // bounds check hint
	buf[0] = byte(h.MsgType)
	binary.BigEndian.PutUint64(buf[1:9], uint64(h.ThreadID))
	binary.BigEndian.PutUint32(buf[9:13], uint32(h.RequestID))
	binary.BigEndian.PutUint32(buf[13:17], uint32(h.PayloadSize))
}

func DecodeHeader(buf []byte) (h Header, err error) {
	if len(buf) < HeaderSize {
		return h, cos.NewErrFraming("short header: %d bytes", len(buf))
	}
	h.MsgType = MsgType(buf[0])
	h.ThreadID = int64(binary.BigEndian.Uint64(buf[1:9]))
	h.RequestID = int32(binary.BigEndian.Uint32(buf[9:13]))
	h.PayloadSize = int32(binary.BigEndian.Uint32(buf[13:17]))
	if h.PayloadSize < 0 {
		return h, cos.NewErrFraming("negative payload size %d", h.PayloadSize)
	}
	return h, nil
}

// ReadFull reads exactly n bytes, treating any EOF (even after a partial
// read) as a fatal framing error per spec.md §4.1.
func ReadFull(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, cos.NewErrFraming("EOF before complete frame (wanted %d bytes): %v", n, err)
		}
		return nil, err
	}
	return buf, nil
}

// ReadFrame reads one frame (header + payload) off r. A connection that
// returns clean EOF right at a frame boundary (zero bytes read) also
// surfaces as ErrFraming - the transport layer is responsible for
// distinguishing "peer closed" from "peer misbehaved" if it cares to.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	hb, err := ReadFull(r, HeaderSize)
	if err != nil {
		return Header{}, nil, err
	}
	h, err := DecodeHeader(hb)
	if err != nil {
		return Header{}, nil, err
	}
	if h.PayloadSize == 0 {
		return h, nil, nil
	}
	payload, err := ReadFull(r, int(h.PayloadSize))
	if err != nil {
		return Header{}, nil, err
	}
	return h, payload, nil
}

// WriteFrame writes header+payload as a single Write so that, combined
// with the caller holding the send lock, concurrent senders cannot
// interleave (spec.md §4.1: "senders must write the whole header and
// payload under a lock").
func WriteFrame(w io.Writer, h Header, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return cos.NewErrFraming("payload too large: %d bytes", len(payload))
	}
	h.PayloadSize = int32(len(payload))
	buf := make([]byte, HeaderSize+len(payload))
	h.Encode(buf[:HeaderSize])
	copy(buf[HeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}
