package apperr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindRoundTrip(t *testing.T) {
	cases := []struct {
		err  error
		is   func(error) bool
		kind Kind
	}{
		{NotFound("project %s", "p1"), IsNotFound, KindNotFound},
		{AlreadyExists("service name %q", "api"), IsAlreadyExists, KindAlreadyExists},
		{Conflict("config hash duplicate"), IsConflict, KindConflict},
		{Invalid("unsupported auth_method"), IsInvalid, KindInvalid},
		{PermissionDenied("user cannot write"), IsPermissionDenied, KindPermissionDenied},
		{Unavailable("cluster unreachable"), IsUnavailable, KindUnavailable},
	}

	for _, c := range cases {
		require.True(t, c.is(c.err), "expected %v to be kind %s", c.err, c.kind)
		require.Equal(t, c.kind, KindOf(c.err))
	}
}

func TestWrapPreservesKindThroughFmtErrorf(t *testing.T) {
	base := NotFound("cluster %s", "c1")
	wrapped := fmt.Errorf("loading deployment: %w", base)

	require.True(t, IsNotFound(wrapped), "expected wrapped error to still report NotFound")
}

func TestUnrelatedErrorHasNoKind(t *testing.T) {
	err := fmt.Errorf("plain error")
	require.Empty(t, KindOf(err))
	require.False(t, IsNotFound(err), "plain error must not report any kind")
}
