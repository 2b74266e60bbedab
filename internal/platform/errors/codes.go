// Package errors provides structured error handling for the write-path engine.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Authentication errors
	CodeAuthHeaderMalformed  Code = "AUTH_HEADER_MALFORMED"
	CodeAuthSignatureInvalid Code = "AUTH_SIGNATURE_INVALID"
	CodeAuthNonceMalformed   Code = "AUTH_NONCE_MALFORMED"
	CodeAuthTimestampStale   Code = "AUTH_TIMESTAMP_STALE"
	CodeAuthReplayDetected   Code = "AUTH_REPLAY_DETECTED"

	// Ledger and stake errors
	CodeVotesOutOfRange     Code = "VOTES_OUT_OF_RANGE"
	CodeBalanceInsufficient Code = "BALANCE_INSUFFICIENT"

	// Gating errors
	CodeTopicWriteDisallowed Code = "TOPIC_WRITE_DISALLOWED"
	CodeArgumentPruned       Code = "ARGUMENT_PRUNED"

	// Claim-token errors
	CodeClaimTokenInvalid Code = "CLAIM_TOKEN_INVALID"
	CodeClaimTokenExpired Code = "CLAIM_TOKEN_EXPIRED"

	// Service-grant errors
	CodeGrantInvalid Code = "GRANT_INVALID"
	CodeGrantExpired Code = "GRANT_EXPIRED"

	// Request validation errors
	CodeRequestMalformed Code = "REQUEST_MALFORMED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// HTTPStatus maps an error code to an HTTP status code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeAuthHeaderMalformed, CodeAuthNonceMalformed, CodeRequestMalformed, CodeVotesOutOfRange:
		return http.StatusBadRequest
	case CodeAuthSignatureInvalid, CodeAuthTimestampStale, CodeGrantInvalid, CodeGrantExpired:
		return http.StatusUnauthorized
	case CodeBalanceInsufficient:
		return http.StatusPaymentRequired
	case CodeTopicWriteDisallowed, CodeArgumentPruned:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAuthReplayDetected, CodeClaimTokenInvalid:
		return http.StatusConflict
	case CodeClaimTokenExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
