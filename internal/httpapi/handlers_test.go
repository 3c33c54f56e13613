package httpapi

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/loanserve/core/internal/errkind"
)

func TestHTTPStatusForErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", errkind.ErrValidation, http.StatusBadRequest},
		{"notfound", errkind.ErrNotFound, http.StatusNotFound},
		{"idem", errkind.ErrIdempotencyConflict, http.StatusConflict},
		{"conflict", errkind.ErrConflict, http.StatusConflict},
		{"policy", errkind.ErrPolicy, http.StatusForbidden},
		{"transient", errkind.ErrTransient, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"canceled", context.Canceled, http.StatusRequestTimeout},
		{"other", errors.New("x"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := httpStatusForErr(tc.err)
			if got != tc.want {
				t.Fatalf("got %d want %d", got, tc.want)
			}
		})
	}
}
