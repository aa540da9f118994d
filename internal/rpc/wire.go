// Package rpc is the binary RPC transport: a grpc-go server using a
// hand-rolled wire codec instead of protobuf. grpc-go's encoding.Codec
// interface is a first-class extension point precisely for this, nothing
// here depends on protoc or a .proto file, only on grpc-go's transport,
// health checking, and message-size enforcement.
package rpc

import (
	"encoding/binary"
	"fmt"
)

// binWriter is a minimal length-prefixed binary encoder shared by every
// wire message in this package. There is no varint economy here, frames
// are already bounded by max_frame_bytes, so fixed-width lengths keep
// the encode/decode logic trivial to audit.
type binWriter struct {
	buf []byte
}

func (w *binWriter) Bytes() []byte { return w.buf }

func (w *binWriter) putUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *binWriter) putUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *binWriter) putBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *binWriter) putBytes(v []byte) {
	w.putUint32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *binWriter) putString(v string) {
	w.putBytes([]byte(v))
}

func (w *binWriter) putBytesSlice(v [][]byte) {
	w.putUint32(uint32(len(v)))
	for _, b := range v {
		w.putBytes(b)
	}
}

// binReader is the matching decoder. Every read checks remaining length
// first; a truncated or over-long frame returns an error rather than
// panicking on an out-of-range slice.
type binReader struct {
	buf []byte
	off int
}

func newBinReader(b []byte) *binReader { return &binReader{buf: b} }

func (r *binReader) need(n int) error {
	if r.off+n > len(r.buf) {
		return fmt.Errorf("rpc: truncated message at offset %d, need %d more bytes", r.off, n)
	}
	return nil
}

func (r *binReader) uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *binReader) uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v, nil
}

func (r *binReader) boolean() (bool, error) {
	if err := r.need(1); err != nil {
		return false, err
	}
	v := r.buf[r.off] != 0
	r.off++
	return v, nil
}

func (r *binReader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *binReader) string() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *binReader) bytesSlice() ([][]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, n)
	for i := range out {
		b, err := r.bytes()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (r *binReader) done() error {
	if r.off != len(r.buf) {
		return fmt.Errorf("rpc: %d trailing bytes after decoding message", len(r.buf)-r.off)
	}
	return nil
}
