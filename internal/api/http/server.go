// Package http exposes the engine over HTTP: the signed write path, the
// grant-guarded issuance endpoint, and the operational endpoints.
package http

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openagora/agora/internal/app"
	"github.com/openagora/agora/internal/platform/httpx"
	"github.com/openagora/agora/internal/replay"
)

// Operation labels used for metrics and idempotency keys.
const (
	opCreateArgument = "create_argument"
	opSetVotes       = "set_votes"
	opClaimTopic     = "claim_topic"
	opGetLedger      = "get_ledger"
)

// Server routes HTTP traffic to the engine service.
type Server struct {
	service *app.Service
	guard   *replay.Guard
	cache   *replay.Cache
	logger  *log.Logger
	now     func() time.Time
}

// ServerOption configures optional server collaborators.
type ServerOption func(*Server)

// WithServerClock overrides the server clock used for timestamp validation.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.now = now }
}

// NewServer wires the HTTP surface.
func NewServer(service *app.Service, guard *replay.Guard, cache *replay.Cache, logger *log.Logger, opts ...ServerOption) *Server {
	s := &Server{
		service: service,
		guard:   guard,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the fully assembled route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/topics/{topicID}/arguments", httpx.Chain(
		http.HandlerFunc(s.handleCreateArgument),
		s.signedAuth(opCreateArgument, true),
	))
	mux.Handle("POST /api/topics/{topicID}/arguments/{argumentID}/votes", httpx.Chain(
		http.HandlerFunc(s.handleSetVotes),
		s.signedAuth(opSetVotes, true),
	))
	mux.Handle("POST /api/topics/{topicID}/claim", httpx.Chain(
		http.HandlerFunc(s.handleClaimTopic),
		s.signedAuth(opClaimTopic, false),
	))
	mux.Handle("GET /api/topics/{topicID}/ledger", httpx.Chain(
		http.HandlerFunc(s.handleGetLedger),
		s.signedAuth(opGetLedger, false),
	))
	mux.Handle("POST /internal/topics/{topicID}/claim-token", http.HandlerFunc(s.handleIssueClaimToken))
	mux.Handle("GET /healthz", http.HandlerFunc(s.handleHealthz))
	mux.Handle("GET /metrics", promhttp.Handler())

	return httpx.Chain(
		mux,
		httpx.RequestID(),
		httpx.RecoverPanic(),
		httpx.RequestLogger(s.logger),
	)
}
