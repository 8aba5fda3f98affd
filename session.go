package wire

import (
	"fmt"
	"strings"

	"github.com/finnlundgren/pgproto/codes"
	psqlerr "github.com/finnlundgren/pgproto/errors"
	"github.com/finnlundgren/pgproto/pkg/buffer"
	"github.com/finnlundgren/pgproto/pkg/convert"
	"github.com/finnlundgren/pgproto/pkg/types"
)

// FieldDescriptor describes a single result column, as carried by
// RowDescription.
type FieldDescriptor struct {
	Name     string
	TypeOID  uint32
	Size     int16
	TypeMod  int32
	Format   int16
	TableOID uint32
	ColNum   int16
}

// Result is one statement's worth of output: either a row-returning
// statement (Fields and Data populated) or a command that affected rows
// without returning any (Fields and Data nil, Tag describing the effect).
type Result struct {
	Fields []FieldDescriptor
	Data   [][]any
	Tag    string
}

// Session holds everything the protocol state machine needs for a single
// connection: out-of-band status mirrored from the backend, the in-flight
// result accumulator, and the bookkeeping for the single pending operation.
// Session owns this state exclusively; once an operation's future resolves,
// the caller holds the only reference to its Results.
type Session struct {
	transactionStatus types.TransactionStatus
	backendPID        int32
	backendSecretKey  int32
	statusParameters  map[string]string
	usesUTF8          bool
	usesISO           bool

	resultNFields int16
	resultOIDs    []uint32
	resultFields  []FieldDescriptor
	resultData    [][]any
	results       []Result
	recordedError error

	onNotice OnNoticeFn
}

func newSession(onNotice OnNoticeFn) *Session {
	return &Session{
		statusParameters: make(map[string]string),
		onNotice:         onNotice,
	}
}

// Parameters returns a snapshot of the status parameters mirrored from the
// backend's ParameterStatus messages (server_version, client_encoding, and
// so on).
func (s *Session) Parameters() map[string]string {
	out := make(map[string]string, len(s.statusParameters))
	for k, v := range s.statusParameters {
		out[k] = v
	}
	return out
}

// BackendPID returns the backend process id reported by BackendKeyData, used
// to target cancel requests on a side connection (cancellation itself is out
// of scope here).
func (s *Session) BackendPID() int32 { return s.backendPID }

// BackendSecretKey returns the backend secret key reported by
// BackendKeyData.
func (s *Session) BackendSecretKey() int32 { return s.backendSecretKey }

// TransactionStatus returns the most recent transaction status reported by
// ReadyForQuery ('I' idle, 'T' in-transaction, 'E' failed).
func (s *Session) TransactionStatus() types.TransactionStatus { return s.transactionStatus }

// recordError applies the precedence rule from the error-handling design
// (see psqlerr.Supersedes): the first error recorded during an operation is
// kept, whatever its kind.
func (s *Session) recordError(err error) {
	if psqlerr.Supersedes(s.recordedError, err) {
		s.recordedError = err
	}
}

func (s *Session) resetOperation() {
	s.resultNFields = 0
	s.resultOIDs = nil
	s.resultFields = nil
	s.resultData = nil
	s.results = nil
	s.recordedError = nil
}

func (s *Session) resetStatement() {
	s.resultNFields = 0
	s.resultOIDs = nil
	s.resultFields = nil
	s.resultData = nil
}

// handleAuthentication processes an AuthenticationRequest ('R') body. Only
// AuthenticationOk (specifier 0) is supported; every other specifier is
// routed through authenticator as an extension point, and defaults to a
// ProtocolError when none is configured.
func (s *Session) handleAuthentication(body []byte, authenticate Authenticator) error {
	r := &buffer.MsgReader{Msg: body}
	specifier, err := r.GetInt32()
	if err != nil {
		return psqlerr.NewProtocolError(codes.ProtocolViolation, "truncated AuthenticationRequest", err)
	}

	if specifier == authOK {
		return nil
	}

	if authenticate != nil {
		return authenticate(specifier, r)
	}

	return psqlerr.NewProtocolError(codes.FeatureNotSupported, fmt.Sprintf("unsupported authentication specifier %d", specifier), nil)
}

func (s *Session) handleBackendKeyData(body []byte) error {
	if len(body) != 8 {
		return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed BackendKeyData", nil)
	}

	r := &buffer.MsgReader{Msg: body}
	pid, _ := r.GetInt32()
	secret, _ := r.GetInt32()
	s.backendPID = pid
	s.backendSecretKey = secret
	return nil
}

func (s *Session) handleParameterStatus(body []byte) error {
	r := &buffer.MsgReader{Msg: body}

	name, err := r.GetString()
	if err != nil {
		return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed ParameterStatus name", err)
	}

	value, err := r.GetString()
	if err != nil {
		return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed ParameterStatus value", err)
	}

	if r.Len() != 0 {
		return psqlerr.NewProtocolError(codes.ProtocolViolation, "trailing data after ParameterStatus", nil)
	}

	s.statusParameters[name] = value

	switch name {
	case "client_encoding":
		s.usesUTF8 = value == "UTF8"
	case "DateStyle":
		s.usesISO = strings.HasPrefix(value, "ISO")
	}

	return nil
}

func (s *Session) handleNoticeResponse(body []byte) error {
	notice, err := parseErrorFields(body)
	if err != nil {
		return err
	}

	if s.onNotice != nil {
		s.onNotice(notice)
	}

	return nil
}

func (s *Session) handleErrorResponse(body []byte) error {
	serverErr, err := parseErrorFields(body)
	if err != nil {
		return err
	}

	s.recordError(serverErr)
	return nil
}

func (s *Session) handleRowDescription(body []byte) error {
	if s.recordedError != nil {
		return nil
	}

	r := &buffer.MsgReader{Msg: body}

	nfields, err := r.GetInt16()
	if err != nil {
		return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed RowDescription", err)
	}

	if nfields < 0 {
		return psqlerr.NewProtocolError(codes.ProtocolViolation, "negative RowDescription field count", nil)
	}

	fields := make([]FieldDescriptor, nfields)
	oids := make([]uint32, nfields)

	for i := range fields {
		name, err := r.GetString()
		if err != nil {
			return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed RowDescription field name", err)
		}

		tableOID, err := r.GetUint32()
		if err != nil {
			return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed RowDescription", err)
		}

		colNum, err := r.GetInt16()
		if err != nil {
			return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed RowDescription", err)
		}

		typeOID, err := r.GetUint32()
		if err != nil {
			return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed RowDescription", err)
		}

		size, err := r.GetInt16()
		if err != nil {
			return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed RowDescription", err)
		}

		typeMod, err := r.GetInt32()
		if err != nil {
			return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed RowDescription", err)
		}

		format, err := r.GetInt16()
		if err != nil {
			return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed RowDescription", err)
		}

		fields[i] = FieldDescriptor{
			Name:     name,
			TypeOID:  typeOID,
			Size:     size,
			TypeMod:  typeMod,
			Format:   format,
			TableOID: tableOID,
			ColNum:   colNum,
		}
		oids[i] = typeOID
	}

	s.resultNFields = nfields
	s.resultOIDs = oids
	s.resultFields = fields
	s.resultData = [][]any{}
	return nil
}

func (s *Session) handleDataRow(body []byte) error {
	if s.recordedError != nil {
		return nil
	}

	r := &buffer.MsgReader{Msg: body}

	nfields, err := r.GetInt16()
	if err != nil {
		return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed DataRow", err)
	}

	if nfields != s.resultNFields {
		return psqlerr.NewProtocolError(codes.ProtocolViolation, "DataRow column count does not match RowDescription", nil)
	}

	row := make([]any, nfields)
	for i := 0; i < int(nfields); i++ {
		size, err := r.GetInt32()
		if err != nil {
			return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed DataRow column size", err)
		}

		raw, err := r.GetBytes(int(size))
		if err != nil {
			return psqlerr.NewProtocolError(codes.ProtocolViolation, "truncated DataRow column", err)
		}

		value, err := convert.Decode(s.resultOIDs[i], raw)
		if err != nil {
			return err
		}

		row[i] = value
	}

	s.resultData = append(s.resultData, row)
	return nil
}

func (s *Session) handleCommandComplete(body []byte) error {
	r := &buffer.MsgReader{Msg: body}

	tag, err := r.GetString()
	if err != nil {
		return psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed CommandComplete", err)
	}

	s.results = append(s.results, Result{
		Fields: s.resultFields,
		Data:   s.resultData,
		Tag:    tag,
	})

	s.resetStatement()
	return nil
}

func (s *Session) handleEmptyBody(body []byte, name string) error {
	if len(body) != 0 {
		return psqlerr.NewProtocolError(codes.ProtocolViolation, name+" must have an empty body", nil)
	}

	return nil
}

func (s *Session) handleReadyForQuery(body []byte) (results []Result, operationErr error) {
	if len(body) != 1 {
		return nil, psqlerr.NewProtocolError(codes.ProtocolViolation, "malformed ReadyForQuery", nil)
	}

	status := types.TransactionStatus(body[0])
	if !status.Valid() {
		return nil, psqlerr.NewProtocolError(codes.ProtocolViolation, "invalid ReadyForQuery status byte", nil)
	}

	s.transactionStatus = status

	if s.recordedError != nil {
		err := s.recordedError
		s.resetOperation()
		return nil, err
	}

	results = s.results
	if results == nil {
		results = []Result{}
	}
	s.resetOperation()
	return results, nil
}
