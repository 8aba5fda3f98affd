// Package convert maps between PostgreSQL wire values and Go values: OID
// plus raw bytes into a typed value on the way in, and an arbitrary Go value
// into a wire Param on the way out. It is the client analogue of the
// teacher's pgtype-driven column encoder, built instead on lib/pq's OID
// table, shopspring/decimal for NUMERIC and google/uuid for UUID, since the
// client owns no catalog and must decide encoding from the Go value alone.
package convert

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq/oid"
	"github.com/shopspring/decimal"

	"github.com/finnlundgren/pgproto/codes"
	psqlerr "github.com/finnlundgren/pgproto/errors"
)

// Well-known OIDs with non-default inbound handling.
const (
	OidBool          = uint32(oid.T_bool)
	OidInt2          = uint32(oid.T_int2)
	OidInt4          = uint32(oid.T_int4)
	OidInt8          = uint32(oid.T_int8)
	OidOid           = uint32(oid.T_oid)
	OidXid           = uint32(oid.T_xid)
	OidCid           = uint32(oid.T_cid)
	OidFloat4        = uint32(oid.T_float4)
	OidFloat8        = uint32(oid.T_float8)
	OidText          = uint32(oid.T_text)
	OidNumeric       = uint32(oid.T_numeric)
	OidUUID          = uint32(2950)
	OidDate          = uint32(oid.T_date)
	OidTimestamp     = uint32(oid.T_timestamp)
	OidTimestampTZ   = uint32(oid.T_timestamptz)
)

// Decode converts the wire bytes for the given OID into a typed Go value.
// nil data represents the SQL NULL and always decodes to nil regardless of
// OID. The wire format for every type handled here is text, per the
// text-format defaults used throughout the extended query flow.
func Decode(typeOID uint32, data []byte) (any, error) {
	if data == nil {
		return nil, nil
	}

	text := string(data)

	switch typeOID {
	case OidInt2, OidInt4, OidInt8, OidOid, OidXid, OidCid:
		return decodeInteger(text)
	case OidFloat4, OidFloat8:
		return decodeFloat(text)
	case OidBool:
		return decodeBool(data)
	case OidNumeric:
		d, err := decimal.NewFromString(text)
		if err != nil {
			return nil, psqlerr.NewProtocolError(codes.InvalidTextRepresentation, "malformed numeric value", err)
		}
		return d, nil
	case OidUUID:
		id, err := uuid.Parse(text)
		if err != nil {
			return nil, psqlerr.NewProtocolError(codes.InvalidTextRepresentation, "malformed uuid value", err)
		}
		return id, nil
	case OidDate:
		t, err := time.Parse("2006-01-02", text)
		if err != nil {
			return nil, psqlerr.NewProtocolError(codes.InvalidDatetimeFormat, "malformed date value", err)
		}
		return t, nil
	case OidTimestamp:
		t, err := time.Parse("2006-01-02 15:04:05.999999", text)
		if err != nil {
			return nil, psqlerr.NewProtocolError(codes.InvalidDatetimeFormat, "malformed timestamp value", err)
		}
		return t, nil
	case OidTimestampTZ:
		t, err := time.Parse("2006-01-02 15:04:05.999999-07", text)
		if err != nil {
			return nil, psqlerr.NewProtocolError(codes.InvalidDatetimeFormat, "malformed timestamptz value", err)
		}
		return t, nil
	default:
		return text, nil
	}
}

// decodeInteger parses the ASCII-decimal integer wire representation shared
// by INT2/INT4/INT8/OID/XID/CID. Arbitrary precision is used on the wire; the
// result narrows to int64 when it fits, else falls back to *big.Int.
func decodeInteger(text string) (any, error) {
	n, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, psqlerr.NewProtocolError(codes.InvalidTextRepresentation, "malformed integer value", nil)
	}

	if n.IsInt64() {
		return n.Int64(), nil
	}

	return n, nil
}

func decodeFloat(text string) (any, error) {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, psqlerr.NewProtocolError(codes.InvalidTextRepresentation, "malformed float value", err)
	}

	return f, nil
}

func decodeBool(data []byte) (any, error) {
	if len(data) != 1 {
		return nil, psqlerr.NewProtocolError(codes.InvalidTextRepresentation, "malformed boolean value", nil)
	}

	switch data[0] {
	case 't':
		return true, nil
	case 'f':
		return false, nil
	default:
		return nil, psqlerr.NewProtocolError(codes.InvalidTextRepresentation, "malformed boolean value", nil)
	}
}

// Param is a bound outbound parameter, ready to be written into a Bind
// message: its OID, format code, and payload (nil payload with Size -1 means
// SQL NULL).
type Param struct {
	OID     uint32
	Format  int16
	Size    int32
	Payload []byte
}

// FormatText and FormatBinary are the two legal FormatCode values carried by
// both Bind parameter formats and result column formats.
const (
	FormatText   int16 = 0
	FormatBinary int16 = 1
)

// Encode maps an arbitrary Go value (as supplied to Execute) into a Param
// ready for the Bind message, following the outbound mapping: integers that
// fit int32 become binary INT4, larger ones up to int64 become binary INT8,
// anything larger becomes text TEXT; floats become binary FLOAT8; bools and
// strings become text BOOL/TEXT; everything else is stringified to text.
func Encode(value any) (Param, error) {
	if value == nil {
		return Param{OID: OidText, Size: -1}, nil
	}

	switch v := value.(type) {
	case bool:
		return textParam(OidBool, boolText(v)), nil
	case int:
		return encodeInt(int64(v)), nil
	case int8:
		return encodeInt(int64(v)), nil
	case int16:
		return encodeInt(int64(v)), nil
	case int32:
		return encodeInt(int64(v)), nil
	case int64:
		return encodeInt(v), nil
	case uint8:
		return encodeInt(int64(v)), nil
	case uint16:
		return encodeInt(int64(v)), nil
	case uint32:
		return encodeInt(int64(v)), nil
	case uint:
		if uint64(v) <= math.MaxInt64 {
			return encodeInt(int64(v)), nil
		}
		return encodeBigInt(fmt.Sprintf("%d", v)), nil
	case uint64:
		if v <= math.MaxInt64 {
			return encodeInt(int64(v)), nil
		}
		return encodeBigInt(fmt.Sprintf("%d", v)), nil
	case float32:
		return encodeFloat8(float64(v)), nil
	case float64:
		return encodeFloat8(v), nil
	case string:
		return textParam(OidText, v), nil
	case decimal.Decimal:
		return textParam(OidNumeric, v.String()), nil
	case uuid.UUID:
		return textParam(OidUUID, v.String()), nil
	case time.Time:
		return textParam(OidTimestampTZ, v.Format("2006-01-02 15:04:05.999999-07:00")), nil
	case *big.Int:
		return encodeBigInt(v.String()), nil
	default:
		return textParam(OidText, fmt.Sprintf("%v", v)), nil
	}
}

func encodeInt(v int64) Param {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		payload := make([]byte, 4)
		putInt32(payload, int32(v))
		return Param{OID: OidInt4, Format: FormatBinary, Size: 4, Payload: payload}
	}

	payload := make([]byte, 8)
	putInt64(payload, v)
	return Param{OID: OidInt8, Format: FormatBinary, Size: 8, Payload: payload}
}

func encodeBigInt(decimalText string) Param {
	return textParam(OidText, decimalText)
}

func encodeFloat8(v float64) Param {
	payload := make([]byte, 8)
	putUint64(payload, math.Float64bits(v))
	return Param{OID: OidFloat8, Format: FormatBinary, Size: 8, Payload: payload}
}

func textParam(typeOID uint32, text string) Param {
	payload := []byte(text)
	return Param{OID: typeOID, Format: FormatText, Size: int32(len(payload)), Payload: payload}
}

func boolText(v bool) string {
	if v {
		return "t"
	}
	return "f"
}

func putInt32(b []byte, v int32) {
	putUint32(b, uint32(v))
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putInt64(b []byte, v int64) {
	putUint64(b, uint64(v))
}

func putUint64(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}
