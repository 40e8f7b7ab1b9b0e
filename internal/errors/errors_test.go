package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[*Error]int{
		NotFound("agent", "a-1"):                  http.StatusNotFound,
		PermissionDenied("nope"):                  http.StatusForbidden,
		Conflict("dup"):                           http.StatusConflict,
		CapacityExceeded("full"):                  http.StatusBadRequest,
		InvalidState("bad"):                       http.StatusBadRequest,
		ValidationError("field", "required"):      http.StatusBadRequest,
		Unauthenticated("missing token"):          http.StatusUnauthorized,
		ExternalUnavailable("wallet", errFixture): http.StatusBadGateway,
		InsufficientBudget("10", "5"):             http.StatusBadRequest,
		Timeout("escrow.lock"):                    http.StatusGatewayTimeout,
		Internal("boom", errFixture):              http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, err.HTTPStatus())
		require.Equal(t, want, HTTPStatusOf(err))
	}
}

var errFixture = errors.New("underlying failure")

func TestIsMatchesWrappedKind(t *testing.T) {
	err := fnWrapNotFound()
	require.True(t, Is(err, KindNotFound))
	require.False(t, Is(err, KindConflict))
}

func fnWrapNotFound() error {
	return fmt.Errorf("lookup failed: %w", NotFound("agent", "a-1"))
}

func TestAsExtractsStructuredError(t *testing.T) {
	err := NotFound("agent", "a-1")
	extracted := As(err)
	require.NotNil(t, extracted)
	require.Equal(t, KindNotFound, extracted.Kind)
	require.Equal(t, "agent", extracted.Details["resource"])
}

func TestAsReturnsNilForPlainError(t *testing.T) {
	require.Nil(t, As(errFixture))
	require.Equal(t, http.StatusInternalServerError, HTTPStatusOf(errFixture))
}

func TestWithDetailChains(t *testing.T) {
	err := InvalidState("bad transition").WithDetail("from", "open").WithDetail("to", "completed")
	require.Equal(t, "open", err.Details["from"])
	require.Equal(t, "completed", err.Details["to"])
}

func TestExternalUnavailableUnwraps(t *testing.T) {
	err := ExternalUnavailable("wallet", errFixture)
	require.ErrorIs(t, err, errFixture)
}
