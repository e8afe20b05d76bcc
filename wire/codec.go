package wire

import (
	"encoding/binary"
	"math"
	"unicode/utf16"

	"github.com/watt-toolkit/pjrmi/cmn/cos"
)

// Writer accumulates a payload using the primitives from spec.md §4.1/§4.4.
// It never allocates per-call; callers reuse one Writer per outbound frame.
type Writer struct{ buf []byte }

func NewWriter(capHint int) *Writer { return &Writer{buf: make([]byte, 0, capHint)} }

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Reset()        { w.buf = w.buf[:0] }
func (w *Writer) Len() int      { return len(w.buf) }

func (w *Writer) Byte(b byte)   { w.buf = append(w.buf, b) }
func (w *Writer) Bool(v bool) {
	if v {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}
func (w *Writer) Short(v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf = append(w.buf, b[:]...)
}
func (w *Writer) Char(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *Writer) Int(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}
func (w *Writer) Long(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}
func (w *Writer) Float32(v float32) { w.Int(int32(math.Float32bits(v))) }
func (w *Writer) Float64(v float64) { w.Long(int64(math.Float64bits(v))) }

// RawBytes appends a length-prefixed (int32) byte array, per the
// length-prefixed-byte-array primitive of spec.md §4.1.
func (w *Writer) RawBytes(b []byte) {
	w.Int(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// UTF16String writes a 4-byte length prefix (UTF-16 code unit count)
// followed by big-endian UTF-16 code units, per spec.md §4.4.
func (w *Writer) UTF16String(s string) {
	units := utf16.Encode([]rune(s))
	w.Int(int32(len(units)))
	for _, u := range units {
		w.Char(u)
	}
}

// ASCIIString writes an int16 length followed by that many ASCII bytes;
// used only by the handshake (spec.md §4.2), where a negative length
// signals an error string instead of a successful hello/service-name.
func (w *Writer) ASCIIString(s string) {
	w.Short(int16(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader parses a payload using the same primitives, tracking position and
// surfacing short reads as ErrFraming.
type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return cos.NewErrFraming("short read: need %d, have %d", n, r.Remaining())
	}
	return nil
}

func (r *Reader) Byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.Byte()
	return b != 0, err
}

func (r *Reader) Short() (int16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(r.buf[r.off : r.off+2]))
	r.off += 2
	return v, nil
}

func (r *Reader) Char() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off : r.off+2])
	r.off += 2
	return v, nil
}

func (r *Reader) Int() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.off : r.off+4]))
	r.off += 4
	return v, nil
}

func (r *Reader) Long() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.off : r.off+8]))
	r.off += 8
	return v, nil
}

func (r *Reader) Float32() (float32, error) {
	v, err := r.Int()
	return math.Float32frombits(uint32(v)), err
}

func (r *Reader) Float64() (float64, error) {
	v, err := r.Long()
	return math.Float64frombits(uint64(v)), err
}

func (r *Reader) RawBytes() ([]byte, error) {
	n, err := r.Int()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, cos.NewErrFraming("negative byte-array length %d", n)
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+int(n)]
	r.off += int(n)
	return b, nil
}

func (r *Reader) UTF16String() (string, error) {
	n, err := r.Int()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", cos.NewErrFraming("negative string length %d", n)
	}
	units := make([]uint16, n)
	for i := range units {
		u, err := r.Char()
		if err != nil {
			return "", err
		}
		units[i] = u
	}
	return string(utf16.Decode(units)), nil
}

// ASCIIStringResult carries either a successful ASCII payload or, when the
// encoded length is negative, an error message (spec.md §4.2 hello/service
// name exchange).
type ASCIIStringResult struct {
	Text    string
	IsError bool
}

func (r *Reader) ASCIIString() (ASCIIStringResult, error) {
	n, err := r.Short()
	if err != nil {
		return ASCIIStringResult{}, err
	}
	isErr := n < 0
	l := int(n)
	if isErr {
		l = -l
	}
	if err := r.need(l); err != nil {
		return ASCIIStringResult{}, err
	}
	s := string(r.buf[r.off : r.off+l])
	r.off += l
	return ASCIIStringResult{Text: s, IsError: isErr}, nil
}
