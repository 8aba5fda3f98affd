package buffer

import (
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/finnlundgren/pgproto/codes"
	psqlerr "github.com/finnlundgren/pgproto/errors"
)

// DefaultBufferSize is the fixed in_buf capacity used when no explicit size
// is configured.
const DefaultBufferSize = 1 << 14 // 16384 bytes

// HeaderSize is the on-wire size of a message header: one identifier byte
// plus the four-byte big-endian length field.
const HeaderSize = 5

// ErrNegativeLength is returned when a message declares a length field that,
// once the identifier byte is accounted for, is smaller than HeaderSize.
var ErrNegativeLength = errors.New("message declares a negative or implausibly small length")

// Dispatch is invoked once per fully reassembled message. msgType is the
// identifier byte and body is the message's payload, exclusive of the
// 5-byte header. body aliases the reader's internal buffer and is only
// valid for the duration of the call.
type Dispatch func(msgType byte, body []byte) error

// Reader reassembles length-prefixed PostgreSQL wire messages out of
// arbitrarily fragmented transport deliveries. It performs no I/O itself; a
// transport calls GetBuffer to obtain a region to fill and BufferUpdated to
// report how much of it was actually written, mirroring the
// get_buffer/buffer_updated contract of an event-driven byte stream
// protocol. This inverts the teacher's blocking io.Reader-based
// buffer.Reader into a push model, while keeping its fixed-buffer-plus-spill
// strategy for oversized messages.
type Reader struct {
	logger *slog.Logger

	inBuf  []byte
	spill  []byte
	active []byte // points at inBuf or spill

	currMsg  int // offset into active at the start of the in-progress message
	received int // bytes available starting at currMsg
	msgLen   int // HeaderSize while header-pending, else the full on-wire length

	dispatch Dispatch
}

// NewReader constructs a Reader with the given fixed buffer size (0 or
// negative selects DefaultBufferSize) and the handler invoked per complete
// message.
func NewReader(logger *slog.Logger, bufferSize int, dispatch Dispatch) *Reader {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	inBuf := make([]byte, bufferSize)
	return &Reader{
		logger:   logger,
		inBuf:    inBuf,
		active:   inBuf,
		msgLen:   HeaderSize,
		dispatch: dispatch,
	}
}

// GetBuffer returns the writable region the transport should fill next.
func (r *Reader) GetBuffer() []byte {
	writePos := r.currMsg + r.received
	return r.active[writePos:]
}

// growSpill allocates a spill buffer sized to the full in-progress message,
// copies across the bytes already received (including the header), and
// switches the active buffer to it. Upholds the invariant that a message
// always occupies one contiguous buffer.
func (r *Reader) growSpill() {
	r.spill = make([]byte, r.msgLen)
	copy(r.spill, r.active[r.currMsg:r.currMsg+r.received])
	r.active = r.spill
	r.currMsg = 0
}

// freeSpill releases the spill buffer and returns the reader to in_buf.
func (r *Reader) freeSpill() {
	r.spill = nil
	r.active = r.inBuf
	r.currMsg = 0
	r.received = 0
}

// BufferUpdated reports that n bytes were written into the region last
// returned by GetBuffer. It delivers every complete message the new data
// completes, in order, via Dispatch, and returns the first error
// encountered, whether from framing itself or from a dispatched handler.
func (r *Reader) BufferUpdated(n int) error {
	r.received += n

	for r.received >= r.msgLen {
		if r.msgLen == HeaderSize {
			length, err := r.parseHeader()
			if err != nil {
				return err
			}

			r.msgLen = length
			if r.msgLen > len(r.inBuf) {
				r.growSpill()
			}

			continue
		}

		msgType := r.active[r.currMsg]
		body := r.active[r.currMsg+HeaderSize : r.currMsg+r.msgLen]

		if r.logger != nil {
			r.logger.Debug("<- reassembled message", slog.Int("length", r.msgLen), slog.Int("type", int(msgType)))
		}

		err := r.dispatch(msgType, body)

		consumed := r.msgLen
		if r.spill != nil {
			r.freeSpill()
		} else {
			r.currMsg += consumed
			r.received -= consumed
		}
		r.msgLen = HeaderSize

		if err != nil {
			return err
		}
	}

	if r.spill == nil && r.currMsg > 0 {
		copy(r.inBuf, r.inBuf[r.currMsg:r.currMsg+r.received])
		r.currMsg = 0
	}

	return nil
}

// parseHeader reads the length field following the identifier byte and
// returns the full on-wire message length (identifier + length field +
// body).
func (r *Reader) parseHeader() (int, error) {
	length := int32(binary.BigEndian.Uint32(r.active[r.currMsg+1 : r.currMsg+5]))
	if length < 4 {
		return 0, psqlerr.WithSeverity(psqlerr.WithCode(ErrNegativeLength, codes.ProtocolViolation), psqlerr.LevelFatal)
	}

	return int(length) + 1, nil
}
