package buffer_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finnlundgren/pgproto/pkg/buffer"
)

// encodeMessage builds a length-prefixed wire message: 1 identifier byte + a
// big-endian self-inclusive length field + body.
func encodeMessage(t byte, body []byte) []byte {
	out := make([]byte, 5+len(body))
	out[0] = t
	binary.BigEndian.PutUint32(out[1:5], uint32(len(body)+4))
	copy(out[5:], body)
	return out
}

func feed(t *testing.T, r *buffer.Reader, stream []byte, chunkSize int) {
	t.Helper()

	for len(stream) > 0 {
		buf := r.GetBuffer()
		require.NotEmpty(t, buf)

		// Like a real transport, never deliver more than the region offered.
		n := chunkSize
		if n > len(stream) {
			n = len(stream)
		}
		if n > len(buf) {
			n = len(buf)
		}

		copy(buf, stream[:n])

		err := r.BufferUpdated(n)
		require.NoError(t, err)

		stream = stream[n:]
	}
}

func TestReaderFramingIsChunkSizeIndependent(t *testing.T) {
	stream := append(encodeMessage('Q', []byte("SELECT 1\x00")), encodeMessage('S', []byte("ok"))...)

	for _, chunkSize := range []int{1, 2, 3, 7, 64, len(stream)} {
		var got []struct {
			typ  byte
			body string
		}

		r := buffer.NewReader(nil, 0, func(msgType byte, body []byte) error {
			got = append(got, struct {
				typ  byte
				body string
			}{msgType, string(body)})
			return nil
		})

		feed(t, r, append([]byte(nil), stream...), chunkSize)

		require.Len(t, got, 2, "chunk size %d", chunkSize)
		assert.Equal(t, byte('Q'), got[0].typ)
		assert.Equal(t, "SELECT 1\x00", got[0].body)
		assert.Equal(t, byte('S'), got[1].typ)
		assert.Equal(t, "ok", got[1].body)
	}
}

func TestReaderOversizedMessageSpills(t *testing.T) {
	body := make([]byte, 20000)
	for i := range body {
		body[i] = byte(i)
	}

	stream := append(encodeMessage('T', body), encodeMessage('Z', []byte("I"))...)

	type dispatched struct {
		typ  byte
		body []byte
	}
	var got []dispatched

	r := buffer.NewReader(nil, 1024, func(msgType byte, b []byte) error {
		got = append(got, dispatched{msgType, append([]byte(nil), b...)})
		return nil
	})

	feed(t, r, stream, 777)

	require.Len(t, got, 2)
	assert.Equal(t, byte('T'), got[0].typ)
	assert.Equal(t, body, got[0].body)
	assert.Equal(t, byte('Z'), got[1].typ)
	assert.Equal(t, []byte("I"), got[1].body)
}
