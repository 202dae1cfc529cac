package errs

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnavailable_HidesCause(t *testing.T) {
	t.Parallel()

	err := Unavailable("find user", sql.ErrConnDone)

	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.False(t, errors.Is(err, sql.ErrConnDone))
	require.Contains(t, err.Error(), "find user")
	require.Contains(t, err.Error(), sql.ErrConnDone.Error())
}
