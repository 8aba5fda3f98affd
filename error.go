package wire

import (
	"strconv"

	"github.com/finnlundgren/pgproto/codes"
	psqlerr "github.com/finnlundgren/pgproto/errors"
	"github.com/finnlundgren/pgproto/pkg/buffer"
)

// errFieldType identifies a single field inside an ErrorResponse or
// NoticeResponse message body.
// http://www.postgresql.org/docs/current/static/protocol-error-fields.html
type errFieldType byte

const (
	errFieldSeverity       errFieldType = 'S'
	errFieldMsgPrimary     errFieldType = 'M'
	errFieldSQLState       errFieldType = 'C'
	errFieldDetail         errFieldType = 'D'
	errFieldHint           errFieldType = 'H'
	errFieldSrcFile        errFieldType = 'F'
	errFieldSrcLine        errFieldType = 'L'
	errFieldSrcFunction    errFieldType = 'R'
	errFieldConstraintName errFieldType = 'n'
)

// parseErrorFields walks the field-tag/NUL-terminated-string pairs shared by
// ErrorResponse and NoticeResponse, terminated by a single extra NUL byte,
// and assembles a ServerError from them. The localized variants of the
// severity (field byte 'V', present since protocol 3.0 alongside the legacy
// 'S') are ignored: 'S' is always present and is what we surface.
func parseErrorFields(body []byte) (*psqlerr.ServerError, error) {
	r := &buffer.MsgReader{Msg: body}
	result := &psqlerr.ServerError{}

	for {
		tag, err := r.GetByte()
		if err != nil {
			return nil, psqlerr.NewProtocolError(codes.ProtocolViolation, "truncated ErrorResponse", err)
		}

		if tag == 0 {
			break
		}

		value, err := r.GetString()
		if err != nil {
			return nil, psqlerr.NewProtocolError(codes.ProtocolViolation, "truncated ErrorResponse field", err)
		}

		switch errFieldType(tag) {
		case errFieldSeverity:
			result.Severity = psqlerr.Severity(value)
		case errFieldSQLState:
			result.Code = codes.Code(value)
		case errFieldMsgPrimary:
			result.Message = value
		case errFieldDetail:
			result.Detail = value
		case errFieldHint:
			result.Hint = value
		case errFieldConstraintName:
			result.ConstraintName = value
		case errFieldSrcFile:
			if result.Source == nil {
				result.Source = &psqlerr.Source{}
			}
			result.Source.File = value
		case errFieldSrcFunction:
			if result.Source == nil {
				result.Source = &psqlerr.Source{}
			}
			result.Source.Function = value
		case errFieldSrcLine:
			if result.Source == nil {
				result.Source = &psqlerr.Source{}
			}
			if n, err := strconv.Atoi(value); err == nil {
				result.Source.Line = int32(n)
			}
		}
	}

	return result, nil
}
