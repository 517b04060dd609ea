package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := &Error{Kind: KindValidation, Op: "note.read", Message: "path is required"}
	want := "validation: note.read: path is required"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	bare := &Error{Kind: KindConnectivity, Message: "vault host unavailable"}
	if got := bare.Error(); got != "connectivity: vault host unavailable" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindConfig, false},
		{KindAuth, false},
		{KindOwnershipLost, true},
		{KindConnectivity, true},
		{KindValidation, false},
		{KindOperation, false},
	}
	for _, tc := range cases {
		err := &Error{Kind: tc.kind}
		if got := err.Retryable(); got != tc.want {
			t.Errorf("Retryable(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestKindOfUnwraps(t *testing.T) {
	inner := Errorf(KindAuth, "bad token")
	wrapped := fmt.Errorf("relay: %w", inner)
	if got := KindOf(wrapped); got != KindAuth {
		t.Fatalf("KindOf(wrapped) = %q, want %q", got, KindAuth)
	}
	if !IsKind(wrapped, KindAuth) {
		t.Fatalf("IsKind(wrapped, auth) = false")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("KindOf(plain) should be empty")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindAuth, http.StatusUnauthorized},
		{KindValidation, http.StatusBadRequest},
		{KindConnectivity, http.StatusServiceUnavailable},
		{KindOperation, http.StatusUnprocessableEntity},
		{KindConfig, http.StatusInternalServerError},
		{KindOwnershipLost, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.kind); got != tc.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestValidationErrorfTagsOperation(t *testing.T) {
	err := ValidationErrorf("note.write", "mode %q unknown", "x")
	if err.Kind != KindValidation || err.Op != "note.write" {
		t.Fatalf("unexpected error: %+v", err)
	}
}
