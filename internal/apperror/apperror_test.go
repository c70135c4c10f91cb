package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		BadRequest:  http.StatusBadRequest,
		NotFound:    http.StatusNotFound,
		Conflict:    http.StatusConflict,
		Unavailable: http.StatusServiceUnavailable,
		Internal:    http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := New(code, "x").HTTPStatus(); got != want {
			t.Errorf("%s: expected %d, got %d", code, want, got)
		}
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("create job: %w", Wrap(Internal, "failed to enqueue job", cause))

	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if !IsCode(err, Internal) {
		t.Fatal("expected INTERNAL code")
	}
	if IsCode(err, NotFound) {
		t.Fatal("did not expect NOT_FOUND code")
	}

	var ae *AppError
	if !errors.As(err, &ae) || ae.Message() != "failed to enqueue job" {
		t.Fatalf("unexpected message: %v", ae)
	}
}

func TestValidation(t *testing.T) {
	err := Validation("data.userEmail is required")
	if err.Code() != BadRequest {
		t.Fatalf("expected BAD_REQUEST, got %s", err.Code())
	}
	if err.Error() != "data.userEmail is required" {
		t.Fatalf("unexpected error text %q", err.Error())
	}
}
