package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestTypeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("generate visits: %w", NewValidationError("first visit is after the due date"))
	if !IsValidation(err) {
		t.Error("expected wrapped validation error to be detected")
	}
	if IsNotFound(err) {
		t.Error("did not expect not-found")
	}
}

func TestTypeOf_PlainError(t *testing.T) {
	if got := TypeOf(errors.New("boom")); got != ErrorTypeInternal {
		t.Errorf("expected INTERNAL, got %s", got)
	}
	if IsValidation(nil) {
		t.Error("nil is not a validation error")
	}
}

func TestWrapValidation_KeepsCause(t *testing.T) {
	cause := errors.New("bad date")
	err := WrapValidation(cause, "lmp_date")
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable with errors.Is")
	}
	if err.Error() != "lmp_date: bad date" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !IsValidation(err) {
		t.Error("expected validation type")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{NewValidationError("x"), http.StatusBadRequest},
		{NewNotFoundError("x"), http.StatusNotFound},
		{NewConflictError("x"), http.StatusConflict},
		{NewInternalError("x", errors.New("y")), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
