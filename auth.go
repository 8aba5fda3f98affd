package wire

import "github.com/finnlundgren/pgproto/pkg/buffer"

// authOK is the AuthenticationRequest specifier indicating the connection
// is already authenticated and no further auth messages are required.
const authOK int32 = 0

// Authenticator handles an AuthenticationRequest specifier other than
// AuthenticationOk. It is an extension point: the present core implements
// only the trust/Ok path. Returning nil accepts the request and lets the
// handshake continue; returning an error fails the handshake.
//
// r exposes only the remaining bytes of the AuthenticationRequest body
// (the 4-byte specifier has already been consumed). The Authenticator gets
// no handle on the connection or the client's writer, so it cannot send a
// response message such as a password or SASL reply.
type Authenticator func(specifier int32, r *buffer.MsgReader) error
