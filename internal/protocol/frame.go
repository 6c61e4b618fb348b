// Package protocol implements the shop wire format: length-prefixed JSON
// objects, one request or response per frame.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// DefaultMaxFrameSize bounds a single encoded message
const DefaultMaxFrameSize = 4096

const headerSize = 4

// ErrFrameTooLarge is returned for a frame whose declared length exceeds the
// limit. On read the payload has already been drained, so the stream is
// still aligned on the next frame.
var ErrFrameTooLarge = errors.New("frame too large")

// ReadFrame reads one frame: a 4-byte big-endian length then the payload
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if int64(size) > int64(maxSize) {
		if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, size, maxSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload as a single frame. Header and payload go out in
// one Write so concurrent writers on a locked conn cannot interleave.
func WriteFrame(w io.Writer, payload []byte, maxSize int) error {
	if len(payload) > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, len(payload), maxSize)
	}
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

// StreamConn frames messages over a byte stream such as a TCP connection
type StreamConn struct {
	conn    net.Conn
	maxSize int

	writeMu sync.Mutex
}

// NewStreamConn wraps conn. A maxSize of zero means DefaultMaxFrameSize.
func NewStreamConn(conn net.Conn, maxSize int) *StreamConn {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &StreamConn{conn: conn, maxSize: maxSize}
}

// ReadFrame reads the next frame. Only one goroutine may read at a time.
func (c *StreamConn) ReadFrame() ([]byte, error) {
	return ReadFrame(c.conn, c.maxSize)
}

// WriteFrame writes one frame; safe for concurrent use
func (c *StreamConn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.conn, payload, c.maxSize)
}

// SetReadDeadline interrupts a blocked ReadFrame at t
func (c *StreamConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline bounds subsequent writes
func (c *StreamConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *StreamConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *StreamConn) Close() error {
	return c.conn.Close()
}
