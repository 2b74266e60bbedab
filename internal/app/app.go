// Package app is the engine service: it orchestrates the transactional store,
// the claim-token machine, and the event bus behind the HTTP surface.
package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openagora/agora/internal/claim"
	"github.com/openagora/agora/internal/domain/ledger"
	"github.com/openagora/agora/internal/events"
	"github.com/openagora/agora/internal/grant"
	apperrors "github.com/openagora/agora/internal/platform/errors"
	"github.com/openagora/agora/internal/platform/metrics"
	"github.com/openagora/agora/internal/storage"
)

// Store is the persistence surface the service needs.
type Store interface {
	storage.LedgerStore
	storage.TopicStore
}

// Service exposes the engine's operations.
type Service struct {
	store  Store
	claims *claim.Machine
	bus    *events.Bus
	grants *grant.Config // nil disables the issuance endpoint
	now    func() time.Time
	tracer trace.Tracer
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithGrantConfig enables claim-token issuance for holders of a service grant.
func WithGrantConfig(cfg grant.Config) Option {
	return func(s *Service) { s.grants = &cfg }
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the engine service.
func NewService(store Store, claims *claim.Machine, bus *events.Bus, opts ...Option) *Service {
	s := &Service{
		store:  store,
		claims: claims,
		bus:    bus,
		now:    time.Now,
		tracer: otel.Tracer("github.com/openagora/agora/internal/app"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LedgerView is the serialized ledger snapshot returned by every mutation and
// by the ledger read.
type LedgerView struct {
	TopicID           string `json:"topicId"`
	Identity          string `json:"identity"`
	Balance           int    `json:"balance"`
	TotalVotesStaked  int    `json:"totalVotesStaked"`
	TotalCostStaked   int    `json:"totalCostStaked"`
	LastInteractionAt string `json:"lastInteractionAt,omitempty"`
}

func ledgerView(l ledger.Ledger) LedgerView {
	view := LedgerView{
		TopicID:          l.TopicID,
		Identity:         l.Identity,
		Balance:          l.Balance,
		TotalVotesStaked: l.TotalVotesStaked,
		TotalCostStaked:  l.TotalCostStaked,
	}
	if l.LastInteractionAt != nil {
		view.LastInteractionAt = l.LastInteractionAt.UTC().Format(time.RFC3339)
	}
	return view
}

// StakeResult is the full effect of a stake transition.
type StakeResult struct {
	PreviousVotes int        `json:"previousVotes"`
	TargetVotes   int        `json:"targetVotes"`
	DeltaVotes    int        `json:"deltaVotes"`
	PreviousCost  int        `json:"previousCost"`
	TargetCost    int        `json:"targetCost"`
	DeltaCost     int        `json:"deltaCost"`
	Ledger        LedgerView `json:"ledger"`
}

func stakeResult(res storage.SetVotesResult) StakeResult {
	return StakeResult{
		PreviousVotes: res.Delta.PreviousVotes,
		TargetVotes:   res.Delta.TargetVotes,
		DeltaVotes:    res.Delta.DeltaVotes,
		PreviousCost:  res.Delta.PreviousCost,
		TargetCost:    res.Delta.TargetCost,
		DeltaCost:     res.Delta.DeltaCost,
		Ledger:        ledgerView(res.Ledger),
	}
}

// ArgumentResult reports a created argument with its initial stake.
type ArgumentResult struct {
	ArgumentID string       `json:"argumentId"`
	TopicID    string       `json:"topicId"`
	ParentID   string       `json:"parentId,omitempty"`
	Votes      *StakeResult `json:"votes,omitempty"`
}

// ClaimResult reports a successful topic claim.
type ClaimResult struct {
	TopicID       string `json:"topicId"`
	OwnerIdentity string `json:"ownerIdentity"`
}

// IssueResult reports a freshly minted claim token.
type IssueResult struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

// SetVotes moves an identity's stake on an argument to an absolute target.
func (s *Service) SetVotes(ctx context.Context, topicID, argumentID, identity string, targetVotes int) (StakeResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.SetVotes")
	defer span.End()

	res, err := s.store.SetVotes(ctx, storage.SetVotesParams{
		TopicID:     topicID,
		ArgumentID:  argumentID,
		Identity:    identity,
		TargetVotes: targetVotes,
		Now:         s.now(),
	})
	if err != nil {
		s.recordRejection(span, err)
		return StakeResult{}, err
	}

	metrics.LedgerCommitsTotal.WithLabelValues("set_votes").Inc()
	s.publish(events.Event{
		Name:     events.StakeChanged,
		TopicID:  topicID,
		Identity: identity,
		Payload: map[string]string{
			"argumentId": argumentID,
			"votes":      strconv.Itoa(res.Delta.TargetVotes),
			"deltaCost":  strconv.Itoa(res.Delta.DeltaCost),
		},
	})
	return stakeResult(res), nil
}

// CreateArgument inserts an argument, optionally staking initial votes in the
// same transaction. A retried call with the same nonce returns the original
// argument without re-applying side effects.
func (s *Service) CreateArgument(ctx context.Context, params storage.CreateArgumentParams) (ArgumentResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.CreateArgument")
	defer span.End()

	params.Now = s.now()
	res, err := s.store.CreateArgument(ctx, params)
	if err != nil {
		s.recordRejection(span, err)
		return ArgumentResult{}, err
	}

	out := ArgumentResult{
		ArgumentID: res.Argument.ID,
		TopicID:    res.Argument.TopicID,
		ParentID:   res.Argument.ParentID,
	}
	if res.Votes != nil {
		stake := stakeResult(*res.Votes)
		out.Votes = &stake
	}
	if res.Replayed {
		return out, nil
	}

	metrics.LedgerCommitsTotal.WithLabelValues("create_argument").Inc()
	s.publish(events.Event{
		Name:     events.ArgumentCreated,
		TopicID:  params.TopicID,
		Identity: params.Identity,
		Payload: map[string]string{
			"argumentId":   res.Argument.ID,
			"parentId":     res.Argument.ParentID,
			"initialVotes": strconv.Itoa(params.InitialVotes),
		},
	})
	return out, nil
}

// ClaimTopic redeems a claim token and, when it is valid, records the caller
// as the topic owner.
//
// The token is consumed before the ownership write so two redeemers can never
// both reach the store. The cost of that ordering: if the write then fails,
// the token is already burned and a fresh one must be issued through the
// grant endpoint. Ownership stays unset, never split.
func (s *Service) ClaimTopic(ctx context.Context, topicID, identity, token string) (ClaimResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.ClaimTopic")
	defer span.End()

	outcome, err := s.claims.Redeem(ctx, topicID, token)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ClaimResult{}, fmt.Errorf("redeem claim token: %w", err)
	}
	metrics.ClaimRedemptionsTotal.WithLabelValues(string(outcome)).Inc()
	switch outcome {
	case claim.ResultInvalid:
		return ClaimResult{}, apperrors.New(apperrors.CodeClaimTokenInvalid, "claim token does not match or was already used")
	case claim.ResultExpired:
		return ClaimResult{}, apperrors.New(apperrors.CodeClaimTokenExpired, "claim token expired or was never issued")
	}

	claimed, err := s.store.ClaimTopic(ctx, topicID, identity, s.now())
	if err != nil {
		s.recordRejection(span, err)
		return ClaimResult{}, err
	}

	metrics.LedgerCommitsTotal.WithLabelValues("claim_topic").Inc()
	s.publish(events.Event{
		Name:     events.TopicClaimed,
		TopicID:  topicID,
		Identity: identity,
	})
	return ClaimResult{TopicID: claimed.ID, OwnerIdentity: claimed.OwnerIdentity}, nil
}

// GetLedger returns the caller's ledger for a topic, granting the initial
// balance on first access.
func (s *Service) GetLedger(ctx context.Context, topicID, identity string) (LedgerView, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetLedger")
	defer span.End()

	led, err := s.store.GetLedger(ctx, topicID, identity)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return LedgerView{}, err
	}
	return ledgerView(led), nil
}

// IssueClaimToken mints a claim token for topicID on behalf of a trusted
// caller presenting a service grant.
func (s *Service) IssueClaimToken(ctx context.Context, topicID, grantToken string) (IssueResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.IssueClaimToken")
	defer span.End()

	if s.grants == nil {
		return IssueResult{}, apperrors.New(apperrors.CodeGrantInvalid, "claim token issuance is not configured")
	}
	if _, err := grant.Validate(grantToken, topicID, *s.grants); err != nil {
		metrics.AuthFailuresTotal.WithLabelValues("grant").Inc()
		return IssueResult{}, err
	}
	if _, err := s.store.GetTopic(ctx, topicID); err != nil {
		return IssueResult{}, err
	}

	token, err := s.claims.Issue(ctx, topicID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return IssueResult{}, err
	}
	return IssueResult{Token: token, ExpiresIn: int(claim.TokenTTL / time.Second)}, nil
}

func (s *Service) publish(ev events.Event) {
	if s.bus == nil {
		return
	}
	ev.OccurredAt = s.now().UTC()
	s.bus.Publish(ev)
}

func (s *Service) recordRejection(span trace.Span, err error) {
	span.SetStatus(codes.Error, err.Error())
	metrics.LedgerRejectionsTotal.WithLabelValues(string(apperrors.CodeOf(err))).Inc()
}
