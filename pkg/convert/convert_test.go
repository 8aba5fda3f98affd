package convert_test

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finnlundgren/pgproto/pkg/convert"
)

func TestDecodeInteger(t *testing.T) {
	v, err := convert.Decode(convert.OidInt4, []byte("42"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestDecodeFloat(t *testing.T) {
	v, err := convert.Decode(convert.OidFloat8, []byte("3.5"))
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)
}

func TestDecodeBool(t *testing.T) {
	v, err := convert.Decode(convert.OidBool, []byte("t"))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = convert.Decode(convert.OidBool, []byte("f"))
	require.NoError(t, err)
	assert.Equal(t, false, v)

	_, err = convert.Decode(convert.OidBool, []byte("x"))
	assert.Error(t, err)
}

func TestDecodeNull(t *testing.T) {
	v, err := convert.Decode(convert.OidInt4, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDecodeDefaultsToText(t *testing.T) {
	v, err := convert.Decode(convert.OidText, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestEncodeOidMappingMonotonicity(t *testing.T) {
	p, err := convert.Encode(42)
	require.NoError(t, err)
	assert.Equal(t, convert.OidInt4, p.OID)
	assert.Equal(t, int32(4), p.Size)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x2a}, p.Payload)

	p, err = convert.Encode(int64(math.MaxInt32) + 1)
	require.NoError(t, err)
	assert.Equal(t, convert.OidInt8, p.OID)
	assert.Equal(t, int32(8), p.Size)

	huge, ok := new(big.Int).SetString("99999999999999999999999999999999", 10)
	require.True(t, ok)
	p, err = convert.Encode(huge)
	require.NoError(t, err)
	assert.Equal(t, convert.OidText, p.OID)
}

func TestEncodeNull(t *testing.T) {
	p, err := convert.Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), p.Size)
	assert.Nil(t, p.Payload)
}

func TestEncodeBool(t *testing.T) {
	p, err := convert.Encode(true)
	require.NoError(t, err)
	assert.Equal(t, convert.OidBool, p.OID)
	assert.Equal(t, "t", string(p.Payload))
}
