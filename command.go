package wire

import (
	"fmt"
	"log/slog"

	"github.com/finnlundgren/pgproto/codes"
	psqlerr "github.com/finnlundgren/pgproto/errors"
	"github.com/finnlundgren/pgproto/pkg/types"
)

// dispatch is wired into buffer.Reader as the per-message callback. It
// switches on the backend identifier byte, updates Session state, and signals
// the pending future at the natural end-of-operation points (ReadyForQuery,
// or immediately on a ProtocolError).
func (c *Client) dispatch(msgType byte, body []byte) error {
	msg := types.ServerMessage(msgType)

	c.logger.Debug("<- dispatching message", slog.String("type", msg.String()))

	var err error

	switch msg {
	case types.ServerAuth:
		err = c.session.handleAuthentication(body, c.authenticator)
	case types.ServerBackendKeyData:
		err = c.session.handleBackendKeyData(body)
	case types.ServerParameterStatus:
		err = c.session.handleParameterStatus(body)
	case types.ServerRowDescription:
		err = c.session.handleRowDescription(body)
	case types.ServerDataRow:
		err = c.session.handleDataRow(body)
	case types.ServerCommandComplete:
		err = c.session.handleCommandComplete(body)
	case types.ServerParseComplete:
		err = c.session.handleEmptyBody(body, "ParseComplete")
	case types.ServerBindComplete:
		err = c.session.handleEmptyBody(body, "BindComplete")
	case types.ServerNoData:
		err = c.session.handleEmptyBody(body, "NoData")
	case types.ServerEmptyQuery:
		err = c.session.handleEmptyBody(body, "EmptyQueryResponse")
	case types.ServerNoticeResponse:
		err = c.session.handleNoticeResponse(body)
	case types.ServerErrorResponse:
		err = c.session.handleErrorResponse(body)
	case types.ServerReady:
		results, operationErr := c.session.handleReadyForQuery(body)
		if psqlerr.IsProtocolError(operationErr) {
			err = operationErr
			break
		}
		c.advanceAfterReady()
		c.resolvePending(results, operationErr)
		return nil
	default:
		err = psqlerr.NewProtocolError(codes.ProtocolViolation, fmt.Sprintf("unknown message identifier %q", msgType), nil)
	}

	if err != nil {
		c.session.recordError(err)
		if psqlerr.IsProtocolError(err) {
			c.resolvePending(nil, c.session.recordedError)
			return err
		}
	}

	return nil
}

// advanceAfterReady drives the AWAITING_AUTH -> READY and
// AWAITING_RESULT -> READY transitions; both collapse to the same action
// since both are waiting on exactly one ReadyForQuery.
func (c *Client) advanceAfterReady() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateAwaitingAuth || c.state == stateAwaitingResult {
		c.state = stateReady
	}
}
