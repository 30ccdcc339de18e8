// Package wire implements the length-prefixed framing and the CBOR message
// schema used on the host<->enclave vsock channel.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a single frame payload. The attestation
// document is the largest message on the wire and comfortably fits well
// under this; anything larger indicates a desynced or hostile peer.
const DefaultMaxFrameSize = 16 << 20 // 16 MiB

// ErrTransportClosed is returned when the peer closes the connection
// between frames (EOF exactly at a frame boundary) or partway through a
// frame's payload. A connection closed inside the 8-byte length header
// yields a wrapped io.ErrUnexpectedEOF instead.
var ErrTransportClosed = errors.New("wire: transport closed")

// ErrOversizedFrame is returned when a frame's declared length exceeds the
// configured ceiling.
var ErrOversizedFrame = errors.New("wire: frame exceeds maximum size")

// ReadFrame reads one u64-length-prefixed frame from r. maxSize <= 0 uses
// DefaultMaxFrameSize.
func ReadFrame(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrTransportClosed
		}
		return nil, fmt.Errorf("wire: read frame length: %w", err)
	}

	n := binary.LittleEndian.Uint64(lenBuf[:])
	if int64(n) > maxSize {
		return nil, ErrOversizedFrame
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTransportClosed
		}
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}
	return payload, nil
}

// WriteFrame writes payload to w prefixed with its length as a little-endian
// u64.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}
