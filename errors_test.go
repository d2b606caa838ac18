package bitmask

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/diba-io/bitmask/carbonado"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/proxy"
	"github.com/diba-io/bitmask/rgb"
	"github.com/diba-io/bitmask/stash"
	"github.com/diba-io/bitmask/watcher"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		kind      ErrorKind
		status    int
		retryable bool
	}{{
		name:   "wrong seal",
		err:    fmt.Errorf("issue: %w", rgb.ErrWrongSeal),
		kind:   KindUserInput,
		status: http.StatusBadRequest,
	}, {
		name:   "invalid secret",
		err:    keys.ErrInvalidSecret,
		kind:   KindUserInput,
		status: http.StatusBadRequest,
	}, {
		name:   "missing contract",
		err:    fmt.Errorf("%w: abc", stash.ErrNoContract),
		kind:   KindStateConflict,
		status: http.StatusConflict,
	}, {
		name: "invalid consignment",
		err: &stash.ErrInvalidConsig{
			Messages: []string{"already known"},
		},
		kind:   KindStateConflict,
		status: http.StatusConflict,
	}, {
		name:   "xpub mismatch",
		err:    watcher.ErrXpubMismatch,
		kind:   KindStateConflict,
		status: http.StatusConflict,
	}, {
		name:      "store unreachable",
		err:       carbonado.ErrAllEndpointsFailed,
		kind:      KindExternal,
		status:    http.StatusInternalServerError,
		retryable: true,
	}, {
		name:      "deadline",
		err:       context.DeadlineExceeded,
		kind:      KindExternal,
		status:    http.StatusInternalServerError,
		retryable: true,
	}, {
		name:      "relay rpc",
		err:       &proxy.RPCError{Code: -1, Message: "boom"},
		kind:      KindExternal,
		status:    http.StatusInternalServerError,
		retryable: true,
	}, {
		name:   "corrupt object",
		err:    fmt.Errorf("decode: %w", carbonado.ErrCarbonado),
		kind:   KindIntegrity,
		status: http.StatusOK,
	}, {
		name:   "integrity wins over user input",
		err:    fmt.Errorf("%w: %w", rgb.ErrWrongSeal, rgb.ErrArmorChecksum),
		kind:   KindIntegrity,
		status: http.StatusOK,
	}, {
		name:   "unknown",
		err:    errors.New("boom"),
		kind:   KindInternal,
		status: http.StatusInternalServerError,
	}, {
		name:   "panic",
		err:    fn.Recover(func() error { panic("boom") }),
		kind:   KindInternal,
		status: http.StatusInternalServerError,
	}}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := wrapErr("op", tc.err)

			var e *Error
			require.ErrorAs(t, err, &e)
			require.Equal(t, tc.kind, e.Kind)
			require.Equal(t, tc.status, e.HTTPStatus())
			require.Equal(t, tc.retryable, e.Retryable())
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, "op: "+tc.err.Error(), err.Error())
		})
	}
}

func TestWrapErrKeepsKind(t *testing.T) {
	t.Parallel()

	require.NoError(t, wrapErr("op", nil))

	inner := userInputf("inner", "bad %v", "input")
	outer := wrapErr("outer", fmt.Errorf("context: %w", inner))

	var e *Error
	require.ErrorAs(t, outer, &e)
	require.Equal(t, KindUserInput, e.Kind)
	require.Equal(t, "inner", e.Op)
	require.Nil(t, e.Messages())
}

func TestErrorKindString(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		k := ErrorKind(rapid.Uint8().Draw(t, "kind"))
		s := k.String()

		if k > KindIntegrity {
			require.Equal(t, "internal", s)
			return
		}
		require.NotEmpty(t, s)

		e := &Error{Kind: k, Op: "op", Err: errors.New("x")}
		require.Equal(t, k == KindExternal, e.Retryable())
	})
}
