package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeBalanceInsufficient, "need 16, have 9")
	target := New(CodeBalanceInsufficient, "different message")

	if !stderrors.Is(err, target) {
		t.Fatal("expected errors with the same code to match")
	}
	if stderrors.Is(err, New(CodeAuthReplayDetected, "other")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(CodeUnknown, "apply stake", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be found in chain")
	}
	if err.Error() != "apply stake" {
		t.Fatalf("expected message, got %q", err.Error())
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != "" {
		t.Fatalf("expected empty code for nil, got %q", got)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != CodeUnknown {
		t.Fatalf("expected unknown code, got %q", got)
	}
	wrapped := fmt.Errorf("outer: %w", New(CodeClaimTokenExpired, "gone"))
	if got := CodeOf(wrapped); got != CodeClaimTokenExpired {
		t.Fatalf("expected claim expired code, got %q", got)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeAuthHeaderMalformed, http.StatusBadRequest},
		{CodeAuthNonceMalformed, http.StatusBadRequest},
		{CodeVotesOutOfRange, http.StatusBadRequest},
		{CodeAuthSignatureInvalid, http.StatusUnauthorized},
		{CodeAuthTimestampStale, http.StatusUnauthorized},
		{CodeAuthReplayDetected, http.StatusConflict},
		{CodeBalanceInsufficient, http.StatusPaymentRequired},
		{CodeTopicWriteDisallowed, http.StatusForbidden},
		{CodeArgumentPruned, http.StatusForbidden},
		{CodeClaimTokenInvalid, http.StatusConflict},
		{CodeClaimTokenExpired, http.StatusGone},
		{CodeNotFound, http.StatusNotFound},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("code %s: expected %d, got %d", tc.code, tc.want, got)
		}
	}

	if got := HTTPStatus(nil); got != http.StatusOK {
		t.Fatalf("expected 200 for nil error, got %d", got)
	}
	if got := HTTPStatus(fmt.Errorf("plain")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for plain error, got %d", got)
	}
}
