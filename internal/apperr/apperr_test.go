package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIs_matchesByKind(t *testing.T) {
	err := fmt.Errorf("load: %w", NotFound("document", "d1"))
	if !errors.Is(err, ErrNotFound) {
		t.Error("wrapped NotFound should match ErrNotFound")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("NotFound should not match ErrConflict")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NotFound("quiz", "q"), http.StatusNotFound},
		{InvalidRange(5, 2, 10), http.StatusBadRequest},
		{InvalidState("attempt already finished"), http.StatusConflict},
		{Conflict("name taken"), http.StatusConflict},
		{UnsupportedFormat("application/zip", ".zip"), http.StatusUnsupportedMediaType},
		{Provider(ReasonRateLimit, "slow down", nil), http.StatusBadGateway},
		{Validation("bad"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v): got %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestProvider_reasonAndUnwrap(t *testing.T) {
	cause := errors.New("401 from upstream")
	err := Provider(ReasonAuth, "authentication failed", cause)
	if ReasonOf(err) != ReasonAuth {
		t.Errorf("reason: got %q", ReasonOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("provider error should unwrap to its cause")
	}
	if err.Error() != "authentication failed: 401 from upstream" {
		t.Errorf("message: got %q", err.Error())
	}
}
