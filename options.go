package wire

import (
	"crypto/tls"
	"log/slog"
	"time"
)

// OptionFn follows the teacher's functional-options pattern: each option
// mutates the Client being constructed before the connection is dialed.
type OptionFn func(*Client)

// WithLogger sets the structured logger used for wire-level tracing. The
// default is slog.Default().
func WithLogger(logger *slog.Logger) OptionFn {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBufferSize overrides the fixed frame-reassembly buffer size. The
// default is buffer.DefaultBufferSize (16384 bytes).
func WithBufferSize(size int) OptionFn {
	return func(c *Client) {
		c.bufferSize = size
	}
}

// WithDialTimeout bounds how long Dial waits to establish the TCP
// connection before the handshake begins.
func WithDialTimeout(timeout time.Duration) OptionFn {
	return func(c *Client) {
		c.dialTimeout = timeout
	}
}

// WithTLSConfig enables a TLS-upgraded connection using the given
// configuration. When unset the connection remains in cleartext.
func WithTLSConfig(config *tls.Config) OptionFn {
	return func(c *Client) {
		c.tlsConfig = config
	}
}

// WithApplicationName sets the application_name startup parameter reported
// to the server.
func WithApplicationName(name string) OptionFn {
	return func(c *Client) {
		c.applicationName = name
	}
}

// OnNoticeFn is invoked for every NoticeResponse the backend sends outside
// of an error path, such as warnings raised by RAISE NOTICE.
type OnNoticeFn func(notice error)

// WithOnNotice registers a callback invoked whenever the backend sends a
// NoticeResponse. Notices never fail the in-flight operation; they are
// forwarded for observability only.
func WithOnNotice(fn OnNoticeFn) OptionFn {
	return func(c *Client) {
		c.onNotice = fn
	}
}
