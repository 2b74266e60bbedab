package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openagora/agora/internal/platform/httpx"
	"github.com/openagora/agora/internal/platform/metrics"
	"github.com/openagora/agora/internal/replay"
	"github.com/openagora/agora/internal/signing"

	apperrors "github.com/openagora/agora/internal/platform/errors"
)

// Signature envelope headers. Every write-path request carries all four.
const (
	HeaderPubkey     = "X-Pubkey"
	HeaderSignature  = "X-Signature"
	HeaderTimestamp  = "X-Timestamp"
	HeaderNonce      = "X-Nonce"
	HeaderClaimToken = "X-Claim-Token"
)

const maxBodyBytes = 1 << 20

type contextKey string

const (
	identityKey contextKey = "identity"
	nonceKey    contextKey = "nonce"
)

// IdentityFrom returns the verified caller identity set by the auth middleware.
func IdentityFrom(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey).(string)
	return identity
}

// NonceFrom returns the request nonce set by the auth middleware.
func NonceFrom(ctx context.Context) string {
	nonce, _ := ctx.Value(nonceKey).(string)
	return nonce
}

// signedAuth enforces the detached-signature protocol for one operation.
//
// Order matters: header validation, then the timestamp window, then signature
// verification over the canonical message. Only after the signature is proven
// does any nonce bookkeeping happen, so guard state never leaks whether a
// signature was valid. For idempotent operations the cache lookup precedes
// the replay guard: a legitimate retry is answered with the original response
// instead of a replay rejection.
func (s *Server) signedAuth(operation string, idempotent bool) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			defer func() {
				metrics.RequestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
			}()

			ctx := r.Context()

			identity, ok := signing.Identity(r.Header.Get(HeaderPubkey))
			if !ok {
				authFailure(w, apperrors.New(apperrors.CodeAuthHeaderMalformed, "pubkey header must be a 64-hex Ed25519 key"))
				return
			}
			sigHex := strings.TrimSpace(r.Header.Get(HeaderSignature))
			if sigHex == "" {
				authFailure(w, apperrors.New(apperrors.CodeAuthHeaderMalformed, "signature header is required"))
				return
			}
			nonce := r.Header.Get(HeaderNonce)
			if !signing.ValidNonce(nonce) {
				authFailure(w, apperrors.New(apperrors.CodeAuthNonceMalformed, "nonce must be non-empty and free of the separator"))
				return
			}
			tsHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
			tsMillis, err := strconv.ParseInt(tsHeader, 10, 64)
			if err != nil {
				authFailure(w, apperrors.New(apperrors.CodeAuthHeaderMalformed, "timestamp header must be unix milliseconds"))
				return
			}
			if !replay.CheckTimestamp(s.now(), tsMillis) {
				authFailure(w, apperrors.New(apperrors.CodeAuthTimestampStale, "timestamp outside the accepted window"))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				authFailure(w, apperrors.New(apperrors.CodeAuthHeaderMalformed, "request body unreadable or too large"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			message := signing.Canonical(r.Method, r.URL.Path, tsHeader, nonce, body)
			if !signing.Verify(identity, sigHex, message) {
				authFailure(w, apperrors.New(apperrors.CodeAuthSignatureInvalid, "signature does not verify against the canonical message"))
				return
			}

			if idempotent {
				cached, found, err := s.cache.Lookup(ctx, operation, identity, nonce)
				if err != nil {
					httpx.WriteError(w, err)
					return
				}
				if found {
					metrics.IdempotentHitsTotal.WithLabelValues(operation).Inc()
					w.Header().Set("Content-Type", "application/json; charset=utf-8")
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write(cached)
					return
				}
			}

			fresh, err := s.guard.CheckAndMark(ctx, identity, nonce)
			if err != nil {
				httpx.WriteError(w, err)
				return
			}
			if !fresh {
				metrics.ReplaysDetectedTotal.Inc()
				authFailure(w, apperrors.New(apperrors.CodeAuthReplayDetected, "nonce already used within the replay window"))
				return
			}

			ctx = context.WithValue(ctx, identityKey, identity)
			ctx = context.WithValue(ctx, nonceKey, nonce)
			r = r.WithContext(ctx)

			if !idempotent {
				next.ServeHTTP(w, r)
				return
			}

			recorder := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(recorder, r)
			if recorder.status() == http.StatusOK {
				if err := s.cache.Store(ctx, operation, identity, nonce, recorder.body.Bytes()); err != nil {
					s.logger.Printf("idempotency store failed operation=%s identity=%s: %v", operation, identity, err)
				}
			}
		})
	}
}

func authFailure(w http.ResponseWriter, err error) {
	metrics.AuthFailuresTotal.WithLabelValues(string(apperrors.CodeOf(err))).Inc()
	httpx.WriteError(w, err)
}

// captureWriter tees the response body so a committed idempotent response can
// be cached byte-for-byte.
type captureWriter struct {
	http.ResponseWriter
	code int
	body bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.code = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

func (c *captureWriter) status() int {
	if c.code == 0 {
		return http.StatusOK
	}
	return c.code
}
