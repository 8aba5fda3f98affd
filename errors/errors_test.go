package errors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/finnlundgren/pgproto/codes"
	psqlerr "github.com/finnlundgren/pgproto/errors"
)

// TestDecoratorChain exercises the full With*/Get* decorator chain the
// session uses to attach Postgres-style diagnostic fields to an error
// originating on the client side, the same way a ServerError carries fields
// parsed off the wire.
func TestDecoratorChain(t *testing.T) {
	base := errors.New("constraint violated")

	decorated := psqlerr.WithSource(
		psqlerr.WithConstraintName(
			psqlerr.WithHint(
				psqlerr.WithDetail(
					psqlerr.WithSeverity(
						psqlerr.WithCode(base, codes.IntegrityConstraintViolation),
						psqlerr.LevelError,
					),
					"Key (id)=(1) already exists.",
				),
				"retry with a different key",
			),
			"users_pkey",
		),
		"session.go", 42, "handleErrorResponse",
	)

	assert.Equal(t, codes.IntegrityConstraintViolation, psqlerr.GetCode(decorated))
	assert.Equal(t, psqlerr.LevelError, psqlerr.GetSeverity(decorated))
	assert.Equal(t, "Key (id)=(1) already exists.", psqlerr.GetDetail(decorated))
	assert.Equal(t, "retry with a different key", psqlerr.GetHint(decorated))
	assert.Equal(t, "users_pkey", psqlerr.GetConstraintName(decorated))

	src := psqlerr.GetSource(decorated)
	assert.NotNil(t, src)
	assert.Equal(t, "session.go", src.File)
	assert.Equal(t, int32(42), src.Line)
	assert.Equal(t, "handleErrorResponse", src.Function)

	assert.True(t, errors.Is(decorated, base))
}

func TestDefaultSeverity(t *testing.T) {
	assert.Equal(t, psqlerr.LevelError, psqlerr.DefaultSeverity(""))
	assert.Equal(t, psqlerr.LevelFatal, psqlerr.DefaultSeverity(psqlerr.LevelFatal))
}

func TestGetCodeDefaultsToUncategorized(t *testing.T) {
	assert.Equal(t, codes.Uncategorized, psqlerr.GetCode(errors.New("plain")))
}
