package polarhouse

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// reader decodes the primitive values of the native wire format from a byte
// stream: varuints, fixed-width little-endian scalars and length-prefixed
// strings. All multi-byte scalars are little-endian.
type reader struct {
	r *bufio.Reader
}

func newReader(r io.Reader) *reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &reader{r: br}
	}
	return &reader{r: bufio.NewReader(r)}
}

func (r *reader) uvarint() (uint64, error) {
	return binary.ReadUvarint(r.r)
}

func (r *reader) bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// str reads a uvarint length followed by that many bytes. The length is
// bounded to keep a corrupt stream from provoking a huge allocation.
func (r *reader) str() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("string length %d exceeds limit", n)
	}
	buf, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

const maxStringLen = 1 << 30

func (r *reader) uint8() (uint8, error) {
	return r.r.ReadByte()
}

func (r *reader) uint16() (uint16, error) {
	buf, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func (r *reader) uint32() (uint32, error) {
	buf, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (r *reader) uint64() (uint64, error) {
	buf, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (r *reader) int32() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}

func (r *reader) float32() (float32, error) {
	v, err := r.uint32()
	return math.Float32frombits(v), err
}

func (r *reader) float64() (float64, error) {
	v, err := r.uint64()
	return math.Float64frombits(v), err
}

func (r *reader) bool() (bool, error) {
	v, err := r.uint8()
	return v != 0, err
}

// writer accumulates an encoded frame in memory. Frames are small enough
// (queries, handshakes, cache blocks) that building them in one buffer and
// writing them out in a single call keeps the connection code simple.
type writer struct {
	buf []byte
}

func (w *writer) uvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *writer) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) {
	w.uvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) uint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) uint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *writer) int32(v int32) {
	w.uint32(uint32(v))
}

func (w *writer) float32(v float32) {
	w.uint32(math.Float32bits(v))
}

func (w *writer) float64(v float64) {
	w.uint64(math.Float64bits(v))
}

func (w *writer) bool(v bool) {
	if v {
		w.uint8(1)
	} else {
		w.uint8(0)
	}
}

func (w *writer) writeTo(out io.Writer) error {
	_, err := out.Write(w.buf)
	w.buf = w.buf[:0]
	return err
}
