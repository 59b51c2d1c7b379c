// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonlrpc

import (
	"bytes"
	"encoding/json"

	"golang.org/x/xerrors"
)

// maxInboundBuffer bounds the per-connection inbound buffer. Left unbounded,
// a slow-loris peer that never sends a newline could grow memory without
// limit; this caps growth and treats hitting the cap as a fatal connection
// error.
const maxInboundBuffer = 16 << 20 // 16 MiB

// byteConn is the minimal non-blocking read/write surface JSONLStream needs;
// rawConn satisfies it. Kept as an interface (rather than depending directly
// on rawConn) so tests can frame an in-memory buffer without opening a real
// socket.
type byteConn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// JSONLStream is the newline-delimited, one-JSON-value-per-line framing
// buffer: an append-only outbound buffer drained by non-blocking flushes,
// and an inbound buffer that grows until a line terminator appears.
type JSONLStream struct {
	conn     byteConn
	writeBuf []byte
	readBuf  []byte
}

// NewJSONLStream wraps conn for line framing.
func NewJSONLStream(conn byteConn) *JSONLStream {
	return &JSONLStream{conn: conn}
}

// WriteBufLen returns the outbound buffer's current byte count.
func (s *JSONLStream) WriteBufLen() int { return len(s.writeBuf) }

// QueueValue serializes v as JSON followed by a single newline and appends
// it to the outbound buffer without attempting any write.
func (s *JSONLStream) QueueValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("jsonlrpc: marshaling value: %w", err)
	}
	s.writeBuf = append(s.writeBuf, data...)
	s.writeBuf = append(s.writeBuf, '\n')
	return nil
}

// Flush writes the outbound buffer with repeated non-blocking writes until
// it is drained or the socket stops accepting bytes. It returns ErrWouldBlock (not an error) if
// the buffer is not fully drained because the socket isn't writable, and
// nil once the buffer is empty.
func (s *JSONLStream) Flush() error {
	for len(s.writeBuf) > 0 {
		n, err := s.conn.Write(s.writeBuf)
		if n > 0 {
			s.writeBuf = s.writeBuf[n:]
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrWouldBlock
		}
	}
	// Reclaim the backing array once drained so a long session doesn't
	// retain its largest-ever queued burst forever.
	if cap(s.writeBuf) > 0 && len(s.writeBuf) == 0 {
		s.writeBuf = nil
	}
	return nil
}

// ReadLine returns the next newline-terminated line (without the
// terminator) if one is already fully buffered, performing at most one
// non-blocking read(2)-equivalent call to try to complete it otherwise. It
// returns ErrWouldBlock when no complete line is available yet, and any
// other error is fatal to the connection.
func (s *JSONLStream) ReadLine() ([]byte, error) {
	if line, ok := s.takeBufferedLine(); ok {
		return line, nil
	}
	buf := make([]byte, 64*1024)
	n, err := s.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, xerrors.Errorf("jsonlrpc: %w", errConnectionEOF)
	}
	s.readBuf = append(s.readBuf, buf[:n]...)
	if len(s.readBuf) > maxInboundBuffer {
		return nil, ErrBufferTooLarge
	}
	if line, ok := s.takeBufferedLine(); ok {
		return line, nil
	}
	return nil, ErrWouldBlock
}

// errConnectionEOF marks a clean peer-initiated close observed as a zero-byte
// non-blocking read; it is treated the same as any other fatal I/O error by
// Connection.
var errConnectionEOF = xerrors.New("connection closed by peer")

func (s *JSONLStream) takeBufferedLine() ([]byte, bool) {
	idx := bytes.IndexByte(s.readBuf, '\n')
	if idx < 0 {
		return nil, false
	}
	line := make([]byte, idx)
	copy(line, s.readBuf[:idx])
	rest := len(s.readBuf) - idx - 1
	if rest == 0 {
		s.readBuf = s.readBuf[:0]
	} else {
		copy(s.readBuf, s.readBuf[idx+1:])
		s.readBuf = s.readBuf[:rest]
	}
	return line, true
}
