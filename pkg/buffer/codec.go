package buffer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/finnlundgren/pgproto/codes"
	psqlerr "github.com/finnlundgren/pgproto/errors"
)

// MsgReader provides big-endian primitive reads and null-terminated string
// scans over a single message body. Every Get* method consumes bytes from the
// front of Msg and shrinks it in place; the caller never owns a separate
// cursor, mirroring the way the teacher's buffer.Reader narrows itself down
// to the body of one message at a time.
type MsgReader struct {
	Msg []byte
}

// GetString reads a null-terminated string from the front of the message.
func (r *MsgReader) GetString() (string, error) {
	pos := bytes.IndexByte(r.Msg, 0)
	if pos == -1 {
		return "", NewMissingNulTerminator()
	}

	// A copy, not a zero-copy cast: Msg aliases the frame Reader's internal
	// buffer, which Dispatch documents as valid only for the duration of one
	// call. The buffer is reused for the very next message (reader.go resets
	// currMsg to 0 once drained), so a string built on top of it without
	// copying would read back as whatever lands there next.
	s := string(r.Msg[:pos])
	r.Msg = r.Msg[pos+1:]
	return s, nil
}

// GetBytes returns the next n bytes. n == -1 is treated as the wire's NULL
// sentinel and returns (nil, nil) without consuming anything. Any other
// negative n is a malformed length the backend has no business sending.
func (r *MsgReader) GetBytes(n int) ([]byte, error) {
	if n == -1 {
		return nil, nil
	}

	if n < -1 {
		return nil, psqlerr.WithSeverity(
			psqlerr.WithCode(fmt.Errorf("negative byte length %d", n), codes.ProtocolViolation),
			psqlerr.LevelFatal,
		)
	}

	if len(r.Msg) < n {
		return nil, NewInsufficientData(len(r.Msg), n)
	}

	v := r.Msg[:n]
	r.Msg = r.Msg[n:]
	return v, nil
}

// GetByte returns the next single byte.
func (r *MsgReader) GetByte() (byte, error) {
	if len(r.Msg) < 1 {
		return 0, NewInsufficientData(len(r.Msg), 1)
	}

	v := r.Msg[0]
	r.Msg = r.Msg[1:]
	return v, nil
}

// GetUint16 reads a big-endian uint16.
func (r *MsgReader) GetUint16() (uint16, error) {
	if len(r.Msg) < 2 {
		return 0, NewInsufficientData(len(r.Msg), 2)
	}

	v := binary.BigEndian.Uint16(r.Msg[:2])
	r.Msg = r.Msg[2:]
	return v, nil
}

// GetInt16 reads a big-endian int16.
func (r *MsgReader) GetInt16() (int16, error) {
	v, err := r.GetUint16()
	return int16(v), err
}

// GetUint32 reads a big-endian uint32.
func (r *MsgReader) GetUint32() (uint32, error) {
	if len(r.Msg) < 4 {
		return 0, NewInsufficientData(len(r.Msg), 4)
	}

	v := binary.BigEndian.Uint32(r.Msg[:4])
	r.Msg = r.Msg[4:]
	return v, nil
}

// GetInt32 reads a big-endian int32.
func (r *MsgReader) GetInt32() (int32, error) {
	v, err := r.GetUint32()
	return int32(v), err
}

// Len returns the number of unread bytes remaining in the message.
func (r *MsgReader) Len() int {
	return len(r.Msg)
}
