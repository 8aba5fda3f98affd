package buffer

import (
	"errors"
	"fmt"

	"github.com/finnlundgren/pgproto/codes"
	psqlerr "github.com/finnlundgren/pgproto/errors"
)

// ErrMissingNulTerminator is returned when a null-terminated string is read
// past the end of the message body without finding a NUL byte. Test against
// it with errors.Is; NewMissingNulTerminator decorates it with a code and
// severity the same way the teacher decorates its own framing errors.
var ErrMissingNulTerminator = errors.New("NUL terminator not found")

// ErrInsufficientData is the sentinel wrapped by every short-read error
// produced while decoding a message body; test with errors.Is.
var ErrInsufficientData = errors.New("insufficient data remaining in message")

// NewMissingNulTerminator decorates ErrMissingNulTerminator with the code and
// severity a caller would need to surface it the way a ServerError is
// surfaced, without having actually come from the backend.
func NewMissingNulTerminator() error {
	return psqlerr.WithSeverity(psqlerr.WithCode(ErrMissingNulTerminator, codes.DataCorrupted), psqlerr.LevelFatal)
}

// NewInsufficientData constructs the error returned when fewer than want
// bytes remain in the message body being decoded.
func NewInsufficientData(have, want int) error {
	err := fmt.Errorf("%w: have %d bytes, need %d", ErrInsufficientData, have, want)
	return psqlerr.WithSeverity(psqlerr.WithCode(err, codes.DataCorrupted), psqlerr.LevelFatal)
}
