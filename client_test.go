package wire_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wire "github.com/finnlundgren/pgproto"
	"github.com/finnlundgren/pgproto/internal/mock"
	"github.com/finnlundgren/pgproto/pkg/types"
)

// dial wires a Client to one half of a net.Pipe() and a mock.Backend to the
// other, bypassing Client.Dial's real net.Dial since net.Pipe connections
// are already established in-process.
func dial(t *testing.T, options ...wire.OptionFn) (*wire.Client, *mock.Backend) {
	t.Helper()

	clientConn, backendConn := net.Pipe()
	backend := mock.NewBackend(backendConn)

	options = append([]wire.OptionFn{wire.WithLogger(slogt.New(t))}, options...)
	client := wire.NewClient(options...)
	client.Attach(clientConn)

	t.Cleanup(func() {
		_ = backend.Close()
	})

	return client, backend
}

func startup(t *testing.T, client *wire.Client, backend *mock.Backend) {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- client.Startup(ctx, "u", "", "", "")
	}()

	_, _, err := backend.ReadStartupMessage()
	require.NoError(t, err)

	require.NoError(t, backend.SendAuthenticationOk())
	require.NoError(t, backend.SendReadyForQuery(types.TransactionIdle))

	require.NoError(t, <-done)
}

func TestStartupOnly(t *testing.T) {
	client, backend := dial(t)

	startup(t, client, backend)

	assert.Equal(t, types.TransactionIdle, client.Session().TransactionStatus())
}

func TestSimpleSelect(t *testing.T) {
	client, backend := dial(t)
	startup(t, client, backend)

	results := make(chan []wire.Result, 1)
	errs := make(chan error, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r, err := client.Execute(ctx, "SELECT 1", nil)
		results <- r
		errs <- err
	}()

	typ, body, err := backend.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte('Q'), typ)
	require.Equal(t, "SELECT 1\x00", string(body))

	require.NoError(t, backend.SendRowDescription([]string{"?column?"}, []uint32{23}))
	require.NoError(t, backend.SendDataRow([]string{"1"}, nil))
	require.NoError(t, backend.SendCommandComplete("SELECT 1"))
	require.NoError(t, backend.SendReadyForQuery(types.TransactionIdle))

	require.NoError(t, <-errs)
	got := <-results

	require.Len(t, got, 1)
	assert.Equal(t, "SELECT 1", got[0].Tag)
	require.Len(t, got[0].Data, 1)
	assert.Equal(t, int64(1), got[0].Data[0][0])
}

func TestServerErrorMidRows(t *testing.T) {
	client, backend := dial(t)
	startup(t, client, backend)

	errs := make(chan error, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := client.Execute(ctx, "SELECT * FROM t", nil)
		errs <- err
	}()

	_, _, err := backend.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, backend.SendRowDescription([]string{"a"}, []uint32{23}))
	require.NoError(t, backend.SendDataRow([]string{"1"}, nil))
	require.NoError(t, backend.SendDataRow([]string{"2"}, nil))
	require.NoError(t, backend.SendErrorResponse("ERROR", "42601", "boom"))
	require.NoError(t, backend.SendReadyForQuery(types.TransactionIdle))

	err = <-errs
	require.Error(t, err)
}
