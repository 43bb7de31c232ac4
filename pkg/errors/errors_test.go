package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "Direct app error",
			err:  New(ErrCodeForbidden, "nope"),
			want: ErrCodeForbidden,
		},
		{
			name: "Wrapped app error",
			err:  fmt.Errorf("outer: %w", New(ErrCodeCapacityExceeded, "full")),
			want: ErrCodeCapacityExceeded,
		},
		{
			name: "Plain error",
			err:  fmt.Errorf("boom"),
			want: ErrCodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeInvalidTransition, http.StatusBadRequest},
		{ErrCodeCapacityExceeded, http.StatusBadRequest},
		{ErrCodeConflict, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeRateLimitExceeded, http.StatusTooManyRequests},
		{ErrCodeInternalError, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := HTTPStatus(tt.code); got != tt.want {
				t.Errorf("HTTPStatus(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestWrap_Unwrap(t *testing.T) {
	inner := fmt.Errorf("db down")
	err := Wrap(inner, ErrCodeInternalError, "failed to load event")

	if err.Unwrap() != inner {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), inner)
	}
	if !Is(err, ErrCodeInternalError) {
		t.Error("Is() = false, want true")
	}
	if Is(nil, ErrCodeInternalError) {
		t.Error("Is(nil) = true, want false")
	}
}
