// Package mock provides a minimal PostgreSQL backend for driving Client
// against a net.Pipe() connection in tests, adapted from the teacher's
// internal/mock client helper: where the teacher mocked a SQL client talking
// to a real server, this mocks the server side of a real client.
package mock

import (
	"log/slog"
	"net"

	"github.com/finnlundgren/pgproto/pkg/buffer"
	"github.com/finnlundgren/pgproto/pkg/types"
)

// Backend is a hand-driven stand-in for a PostgreSQL server: tests write
// canned responses and read the client's requests through it.
type Backend struct {
	conn   net.Conn
	Writer *buffer.Writer
}

// NewBackend wraps the given connection (typically one half of a
// net.Pipe()) with wire-aware read/write helpers.
func NewBackend(conn net.Conn) *Backend {
	return &Backend{
		conn:   conn,
		Writer: buffer.NewWriter(slog.Default(), conn),
	}
}

// ReadMessage blocks for exactly one frontend message and returns its type
// byte and body. It performs its own ad hoc framing since the backend side
// has no need for the full push-style Frame Reader.
func (b *Backend) ReadMessage() (byte, []byte, error) {
	header := make([]byte, 5)
	if _, err := readFull(b.conn, header); err != nil {
		return 0, nil, err
	}

	length := int(header[1])<<24 | int(header[2])<<16 | int(header[3])<<8 | int(header[4])
	body := make([]byte, length-4)
	if len(body) > 0 {
		if _, err := readFull(b.conn, body); err != nil {
			return 0, nil, err
		}
	}

	return header[0], body, nil
}

// ReadStartupMessage reads the one message with no leading type byte that a
// connection ever sends: the StartupMessage.
func (b *Backend) ReadStartupMessage() (version int32, params map[string]string, err error) {
	header := make([]byte, 4)
	if _, err := readFull(b.conn, header); err != nil {
		return 0, nil, err
	}

	length := int(header[0])<<24 | int(header[1])<<16 | int(header[2])<<8 | int(header[3])
	body := make([]byte, length-4)
	if _, err := readFull(b.conn, body); err != nil {
		return 0, nil, err
	}

	r := &buffer.MsgReader{Msg: body}
	v, err := r.GetInt32()
	if err != nil {
		return 0, nil, err
	}

	params = make(map[string]string)
	for {
		key, err := r.GetString()
		if err != nil {
			return 0, nil, err
		}
		if key == "" {
			break
		}
		value, err := r.GetString()
		if err != nil {
			return 0, nil, err
		}
		params[key] = value
	}

	return v, params, nil
}

// SendAuthenticationOk writes AuthenticationOk.
func (b *Backend) SendAuthenticationOk() error {
	b.Writer.Start(types.ClientMessage(types.ServerAuth))
	b.Writer.AddInt32(0)
	return b.Writer.End()
}

// SendBackendKeyData writes BackendKeyData with the given PID and key.
func (b *Backend) SendBackendKeyData(pid, key int32) error {
	b.Writer.Start(types.ClientMessage(types.ServerBackendKeyData))
	b.Writer.AddInt32(pid)
	b.Writer.AddInt32(key)
	return b.Writer.End()
}

// SendParameterStatus writes one ParameterStatus message.
func (b *Backend) SendParameterStatus(name, value string) error {
	b.Writer.Start(types.ClientMessage(types.ServerParameterStatus))
	b.Writer.AddString(name)
	b.Writer.AddNullTerminate()
	b.Writer.AddString(value)
	b.Writer.AddNullTerminate()
	return b.Writer.End()
}

// SendReadyForQuery writes ReadyForQuery with the given status byte.
func (b *Backend) SendReadyForQuery(status types.TransactionStatus) error {
	b.Writer.Start(types.ClientMessage(types.ServerReady))
	b.Writer.AddByte(byte(status))
	return b.Writer.End()
}

// SendRowDescription writes a RowDescription for the given column names and
// type OIDs (table OID, column number and format are zeroed, size and type
// mod are -1, sufficient for driving the client's text-format decode path).
func (b *Backend) SendRowDescription(names []string, oids []uint32) error {
	b.Writer.Start(types.ClientMessage(types.ServerRowDescription))
	b.Writer.AddInt16(int16(len(names)))
	for i, name := range names {
		b.Writer.AddString(name)
		b.Writer.AddNullTerminate()
		b.Writer.AddInt32(0) // table OID
		b.Writer.AddInt16(0) // column number
		b.Writer.AddInt32(int32(oids[i]))
		b.Writer.AddInt16(-1) // size
		b.Writer.AddInt32(-1) // type mod
		b.Writer.AddInt16(0)  // format: text
	}
	return b.Writer.End()
}

// SendDataRow writes one DataRow, encoding each value as its text
// representation, or as SQL NULL when nulls is non-nil and nulls[i] is true.
func (b *Backend) SendDataRow(values []string, nulls []bool) error {
	b.Writer.Start(types.ClientMessage(types.ServerDataRow))
	b.Writer.AddInt16(int16(len(values)))
	for i, v := range values {
		if nulls != nil && nulls[i] {
			b.Writer.AddInt32(-1)
			continue
		}
		b.Writer.AddInt32(int32(len(v)))
		b.Writer.AddString(v)
	}
	return b.Writer.End()
}

// SendCommandComplete writes CommandComplete with the given tag.
func (b *Backend) SendCommandComplete(tag string) error {
	b.Writer.Start(types.ClientMessage(types.ServerCommandComplete))
	b.Writer.AddString(tag)
	b.Writer.AddNullTerminate()
	return b.Writer.End()
}

// SendErrorResponse writes a minimal ErrorResponse with severity, SQLSTATE
// code and message.
func (b *Backend) SendErrorResponse(severity, code, message string) error {
	b.Writer.Start(types.ClientMessage(types.ServerErrorResponse))
	b.Writer.AddByte('S')
	b.Writer.AddString(severity)
	b.Writer.AddNullTerminate()
	b.Writer.AddByte('C')
	b.Writer.AddString(code)
	b.Writer.AddNullTerminate()
	b.Writer.AddByte('M')
	b.Writer.AddString(message)
	b.Writer.AddNullTerminate()
	b.Writer.AddNullTerminate()
	return b.Writer.End()
}

// Close closes the underlying connection.
func (b *Backend) Close() error {
	return b.conn.Close()
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
