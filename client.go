// Package wire implements the core protocol state machine of a PostgreSQL
// frontend/backend (wire protocol version 3.0) client: message framing,
// session state, and result assembly, driven by a transport the caller
// supplies. It follows the teacher's server-side dispatch-by-identifier-byte
// style, turned around to face the backend instead of a SQL client.
package wire

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/finnlundgren/pgproto/codes"
	psqlerr "github.com/finnlundgren/pgproto/errors"
	"github.com/finnlundgren/pgproto/pkg/buffer"
	"github.com/finnlundgren/pgproto/pkg/convert"
	"github.com/finnlundgren/pgproto/pkg/types"
)

// clientState tracks the per-connection protocol state machine described by
// the session design: INIT -> AWAITING_AUTH -> READY <-> AWAITING_RESULT,
// with CLOSED absorbing on any unrecoverable protocol error.
type clientState int

const (
	stateInit clientState = iota
	stateAwaitingAuth
	stateReady
	stateAwaitingResult
	stateClosed
)

// ErrNotReady is returned by Execute when called before Startup has
// completed, or while a previous operation is still in flight.
var ErrNotReady = fmt.Errorf("client is not ready to accept a new operation")

// ErrClosed is returned by any operation attempted after the connection has
// been closed, whether by the caller or by an unrecoverable protocol error.
var ErrClosed = fmt.Errorf("client connection is closed")

// ErrTooManyParams is the argument error raised synchronously when a query
// is given more parameters than the wire format's i16 count field can carry.
var ErrTooManyParams = psqlerr.WithHint(
	psqlerr.WithCode(fmt.Errorf("parameter count exceeds the protocol maximum of 32767"), codes.ProgramLimitExceeded),
	"split the statement or bind fewer parameters per query",
)

const maxParams = 32767

// future is the single pending operation's promise. Completing it twice is a
// no-op, satisfying the ready-idempotence property.
type future struct {
	done    chan struct{}
	once    sync.Once
	results []Result
	err     error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) resolve(results []Result, err error) {
	f.once.Do(func() {
		f.results = results
		f.err = err
		close(f.done)
	})
}

func (f *future) wait(ctx context.Context) ([]Result, error) {
	select {
	case <-f.done:
		return f.results, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Client is a single connection's protocol state machine. It owns the
// transport, the frame reader, the outbound message writer, and the Session
// accumulating backend state. Client methods are safe to call from one
// goroutine at a time; at most one Startup or Execute may be in flight,
// mirroring the protocol's own single-pending-operation invariant.
type Client struct {
	logger          *slog.Logger
	bufferSize      int
	dialTimeout     time.Duration
	tlsConfig       *tls.Config
	applicationName string
	onNotice        OnNoticeFn
	authenticator   Authenticator

	conn   net.Conn
	reader *buffer.Reader
	writer *buffer.Writer
	readWG sync.WaitGroup

	session *Session

	mu      sync.Mutex
	state   clientState
	pending *future
}

// NewClient constructs a Client ready to Dial. It performs no I/O.
func NewClient(options ...OptionFn) *Client {
	c := &Client{
		logger:      slog.Default(),
		dialTimeout: 10 * time.Second,
	}

	for _, option := range options {
		option(c)
	}

	c.session = newSession(c.onNotice)
	return c
}

// WithAuthenticator registers the extension-point handler for
// AuthenticationRequest specifiers other than AuthenticationOk.
func WithAuthenticator(auth Authenticator) OptionFn {
	return func(c *Client) {
		c.authenticator = auth
	}
}

// Dial opens the TCP connection (optionally upgrading to TLS) and starts the
// background read loop that feeds the frame reader. It performs no protocol
// handshake; call Startup afterwards.
func (c *Client) Dial(ctx context.Context, address string) error {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}

	if c.tlsConfig != nil {
		conn = tls.Client(conn, c.tlsConfig)
	}

	c.Attach(conn)
	return nil
}

// Attach wires an already-established net.Conn to the client and starts the
// background read loop, bypassing Dial's own net.DialContext. This is the
// seam used to drive a Client over a net.Pipe() in tests against a mock
// backend; production callers should use Dial.
func (c *Client) Attach(conn net.Conn) {
	c.conn = conn
	c.writer = buffer.NewWriter(c.logger, conn)
	c.reader = buffer.NewReader(c.logger, c.bufferSize, c.dispatch)

	c.readWG.Add(1)
	go c.readLoop()
}

// readLoop repeatedly fills the frame reader's buffer from the connection
// and reports the bytes read, driving message dispatch. It exits on any
// connection error or when BufferUpdated reports a protocol violation, in
// which case the connection is torn down and the pending future, if any, is
// rejected.
func (c *Client) readLoop() {
	defer c.readWG.Done()

	for {
		buf := c.reader.GetBuffer()
		n, err := c.conn.Read(buf)
		if err != nil {
			c.fail(psqlerr.NewProtocolError(codes.ConnectionFailure, "connection closed while reading", err))
			return
		}

		if err := c.reader.BufferUpdated(n); err != nil {
			if !psqlerr.IsProtocolError(err) {
				err = psqlerr.NewProtocolError(psqlerr.GetCode(err), "malformed message framing", err)
			}
			c.fail(err)
			return
		}
	}
}

// fail transitions the connection to CLOSED, rejects the pending future (if
// any), and closes the transport. Mirrors the "any -> CLOSED on unrecoverable
// ProtocolError" transition. The error is logged with whatever code,
// severity, detail and hint a decorator chain attached to it, the same
// fields a ServerError would carry, so a framing failure and a backend
// ErrorResponse read the same way in the logs.
func (c *Client) fail(err error) {
	c.mu.Lock()
	c.state = stateClosed
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.logger.Error("connection failed",
		slog.String("error", err.Error()),
		slog.String("code", string(psqlerr.GetCode(err))),
		slog.String("severity", string(psqlerr.DefaultSeverity(psqlerr.GetSeverity(err)))),
		slog.String("detail", psqlerr.GetDetail(err)),
		slog.String("hint", psqlerr.GetHint(err)),
	)

	if pending != nil {
		pending.resolve(nil, err)
	}

	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) resolvePending(results []Result, err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if pending != nil {
		pending.resolve(results, err)
	}
}

// beginOperation validates the current state allows a new operation and
// installs a fresh pending future, transitioning AWAITING_AUTH/READY state
// appropriately. wantState is the state required before the call; nextState
// is the state entered for the duration of the operation.
func (c *Client) beginOperation(wantState, nextState clientState) (*future, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil, ErrClosed
	}

	if c.state != wantState {
		return nil, ErrNotReady
	}

	f := newFuture()
	c.pending = f
	c.state = nextState
	return f, nil
}

// Startup sends the StartupMessage and awaits AuthenticationOk followed by
// the first ReadyForQuery. applicationName, given non-empty, overrides the
// application_name set at construction time via WithApplicationName for
// this connection. password is accepted but neither stored nor used: the
// trust/Ok path needs none, and an Authenticator is not given it.
func (c *Client) Startup(ctx context.Context, user, database, applicationName, password string) error {
	f, err := c.beginOperation(stateInit, stateAwaitingAuth)
	if err != nil {
		return err
	}

	if applicationName == "" {
		applicationName = c.applicationName
	}

	if err := c.writeStartup(user, database, applicationName); err != nil {
		c.fail(err)
		return err
	}

	_, err = f.wait(ctx)
	return err
}

func (c *Client) writeStartup(user, database, applicationName string) error {
	c.writer.StartUntyped()
	c.writer.AddInt32(int32(types.Version30))

	c.writer.AddString("user")
	c.writer.AddNullTerminate()
	c.writer.AddString(user)
	c.writer.AddNullTerminate()

	if database != "" {
		c.writer.AddString("database")
		c.writer.AddNullTerminate()
		c.writer.AddString(database)
		c.writer.AddNullTerminate()
	}

	if applicationName != "" {
		c.writer.AddString("application_name")
		c.writer.AddNullTerminate()
		c.writer.AddString(applicationName)
		c.writer.AddNullTerminate()
	}

	c.writer.AddString("DateStyle")
	c.writer.AddNullTerminate()
	c.writer.AddString("ISO")
	c.writer.AddNullTerminate()

	c.writer.AddString("client_encoding")
	c.writer.AddNullTerminate()
	c.writer.AddString("UTF8")
	c.writer.AddNullTerminate()

	c.writer.AddNullTerminate() // terminates the parameter list
	return c.writer.EndUntyped()
}

// Execute runs a query, taking the simple-query path when params is empty
// and the extended Parse/Bind/Describe/Execute/Flush/Sync path otherwise.
func (c *Client) Execute(ctx context.Context, query string, params []any) ([]Result, error) {
	if len(params) > maxParams {
		return nil, ErrTooManyParams
	}

	f, err := c.beginOperation(stateReady, stateAwaitingResult)
	if err != nil {
		return nil, err
	}

	if len(params) == 0 {
		err = c.writeSimpleQuery(query)
	} else {
		err = c.writeExtendedQuery(query, params)
	}

	if err != nil {
		c.fail(err)
		return nil, err
	}

	return f.wait(ctx)
}

func (c *Client) writeSimpleQuery(query string) error {
	c.writer.Start(types.ClientSimpleQuery)
	c.writer.AddString(query)
	c.writer.AddNullTerminate()
	return c.writer.End()
}

func (c *Client) writeExtendedQuery(query string, params []any) error {
	encoded := make([]convert.Param, len(params))
	for i, p := range params {
		param, err := convert.Encode(p)
		if err != nil {
			return err
		}
		encoded[i] = param
	}

	// Parse: empty statement name, query text, parameter OIDs.
	c.writer.Start(types.ClientParse)
	c.writer.AddNullTerminate() // unnamed statement
	c.writer.AddString(query)
	c.writer.AddNullTerminate()
	c.writer.AddInt16(int16(len(encoded)))
	for _, p := range encoded {
		c.writer.AddInt32(int32(p.OID))
	}
	if err := c.writer.End(); err != nil {
		return err
	}

	// Bind: unnamed portal, unnamed statement, per-param format codes,
	// per-param [size][bytes], single text result format.
	c.writer.Start(types.ClientBind)
	c.writer.AddNullTerminate() // unnamed portal
	c.writer.AddNullTerminate() // unnamed statement
	c.writer.AddInt16(int16(len(encoded)))
	for _, p := range encoded {
		c.writer.AddInt16(p.Format)
	}
	c.writer.AddInt16(int16(len(encoded)))
	for _, p := range encoded {
		c.writer.AddInt32(p.Size)
		if p.Size >= 0 {
			c.writer.AddBytes(p.Payload)
		}
	}
	c.writer.AddInt16(1)
	c.writer.AddInt16(convert.FormatText)
	if err := c.writer.End(); err != nil {
		return err
	}

	// Describe the unnamed portal.
	c.writer.Start(types.ClientDescribe)
	c.writer.AddByte(byte(types.DescribePortal))
	c.writer.AddNullTerminate()
	if err := c.writer.End(); err != nil {
		return err
	}

	// Execute the unnamed portal with no row limit.
	c.writer.Start(types.ClientExecute)
	c.writer.AddNullTerminate() // unnamed portal
	c.writer.AddInt32(0)
	if err := c.writer.End(); err != nil {
		return err
	}

	c.writer.Start(types.ClientFlush)
	if err := c.writer.End(); err != nil {
		return err
	}

	c.writer.Start(types.ClientSync)
	return c.writer.End()
}

// Session exposes the connection's accumulated out-of-band state (status
// parameters, backend key, transaction status).
func (c *Client) Session() *Session {
	return c.session
}

// Close terminates the connection, sending a Terminate message if the
// transport is still writable.
func (c *Client) Close() error {
	c.mu.Lock()
	already := c.state == stateClosed
	c.state = stateClosed
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if pending != nil {
		pending.resolve(nil, ErrClosed)
	}

	if already || c.conn == nil {
		return nil
	}

	c.writer.Start(types.ClientTerminate)
	_ = c.writer.End()

	err := c.conn.Close()
	c.readWG.Wait()
	return err
}
