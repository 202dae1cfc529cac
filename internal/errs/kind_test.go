package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{ErrAlreadyExists, KindDuplicateUsername},
		{fmt.Errorf("register: %w", ErrAlreadyExists), KindDuplicateUsername},
		{ErrNotFound, KindUserNotFound},
		{ErrWrongPassword, KindWrongPassword},
		{fmt.Errorf("%w: find user: disk I/O error", ErrStoreUnavailable), KindStoreUnavailable},
		{ErrInvalidInput, KindInvalidInput},
		{ErrRateLimited, KindRateLimited},
		{ErrUnauthorized, KindUnauthorized},
		{errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, KindOf(tc.err), "err=%v", tc.err)
	}
}

func TestPublicMessage_HidesWhoFailed(t *testing.T) {
	t.Parallel()

	require.Equal(t, KindUserNotFound.PublicMessage(), KindWrongPassword.PublicMessage())
	require.NotEqual(t, KindUserNotFound.PublicMessage(), KindStoreUnavailable.PublicMessage())
	require.Empty(t, KindNone.PublicMessage())
	require.Equal(t, "service unavailable, try again later", KindUnknown.PublicMessage())
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "duplicate_username", KindDuplicateUsername.String())
	require.Equal(t, "unknown", Kind(42).String())
}
