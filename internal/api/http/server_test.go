package http

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openagora/agora/internal/app"
	"github.com/openagora/agora/internal/claim"
	"github.com/openagora/agora/internal/domain/topic"
	"github.com/openagora/agora/internal/events"
	"github.com/openagora/agora/internal/grant"
	"github.com/openagora/agora/internal/kv"
	"github.com/openagora/agora/internal/replay"
	"github.com/openagora/agora/internal/signing"
	"github.com/openagora/agora/internal/storage/sqlite"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	server   *httptest.Server
	store    *sqlite.Store
	claims   *claim.Machine
	grantKey ed25519.PrivateKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate grant key: %v", err)
	}

	shared := kv.NewMemory()
	claims := claim.NewMachine(shared)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	service := app.NewService(store, claims, bus,
		app.WithClock(func() time.Time { return testBase }),
		app.WithGrantConfig(grant.Config{
			Issuer:   "agora-control-plane",
			Audience: "agora-engine",
			Key:      pub,
			Now:      func() time.Time { return testBase },
		}),
	)

	srv := NewServer(
		service,
		replay.NewGuard(shared),
		replay.NewCache(shared),
		log.New(io.Discard, "", 0),
		WithServerClock(func() time.Time { return testBase }),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{server: ts, store: store, claims: claims, grantKey: priv}
}

func (h *harness) seedTopic(t *testing.T, topicID string, status topic.Status) {
	t.Helper()
	if err := h.store.PutTopic(context.Background(), topic.Topic{
		ID: topicID, Status: status, CreatedAt: testBase, UpdatedAt: testBase,
	}); err != nil {
		t.Fatalf("seed topic: %v", err)
	}
}

func (h *harness) seedArgument(t *testing.T, topicID, argumentID string) {
	t.Helper()
	if err := h.store.PutArgument(context.Background(), topic.Argument{
		ID: argumentID, TopicID: topicID, CreatedAt: testBase, UpdatedAt: testBase,
	}); err != nil {
		t.Fatalf("seed argument: %v", err)
	}
}

// signer holds one client identity and signs requests for it.
type signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	return &signer{pub: pub, priv: priv}
}

func (s *signer) identity() string {
	return hex.EncodeToString(s.pub)
}

func (s *signer) request(t *testing.T, method, url, path, nonce string, body []byte, extra map[string]string) *http.Request {
	t.Helper()
	timestamp := strconv.FormatInt(testBase.UnixMilli(), 10)
	message := signing.Canonical(method, path, timestamp, nonce, body)
	sig := ed25519.Sign(s.priv, message)

	req, err := http.NewRequest(method, url+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set(HeaderPubkey, s.identity())
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, nonce)
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	return req
}

func do(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, body
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope %q: %v", body, err)
	}
	return envelope.Error.Code
}

func TestSetVotesEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.seedTopic(t, "t1", topic.StatusActive)
	h.seedArgument(t, "t1", "root")
	client := newSigner(t)

	body := []byte(`{"targetVotes":4}`)
	req := client.request(t, "POST", h.server.URL, "/api/topics/t1/arguments/root/votes", "n1", body, nil)
	status, respBody := do(t, req)
	if status != http.StatusOK {
		t.Fatalf("status %d body %s", status, respBody)
	}

	var result app.StakeResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.TargetVotes != 4 || result.DeltaCost != 16 || result.Ledger.Balance != 84 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestAuthRejections(t *testing.T) {
	h := newHarness(t)
	h.seedTopic(t, "t1", topic.StatusActive)
	h.seedArgument(t, "t1", "root")
	client := newSigner(t)
	body := []byte(`{"targetVotes":1}`)
	path := "/api/topics/t1/arguments/root/votes"

	t.Run("missing pubkey", func(t *testing.T) {
		req := client.request(t, "POST", h.server.URL, path, "n-a", body, nil)
		req.Header.Del(HeaderPubkey)
		status, respBody := do(t, req)
		if status != http.StatusBadRequest || errorCode(t, respBody) != "AUTH_HEADER_MALFORMED" {
			t.Fatalf("status %d body %s", status, respBody)
		}
	})

	t.Run("nonce with separator", func(t *testing.T) {
		req := client.request(t, "POST", h.server.URL, path, "bad|nonce", body, nil)
		status, respBody := do(t, req)
		if status != http.StatusBadRequest || errorCode(t, respBody) != "AUTH_NONCE_MALFORMED" {
			t.Fatalf("status %d body %s", status, respBody)
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		req := client.request(t, "POST", h.server.URL, path, "n-b", body, nil)
		stale := strconv.FormatInt(testBase.Add(-2*time.Minute).UnixMilli(), 10)
		req.Header.Set(HeaderTimestamp, stale)
		status, respBody := do(t, req)
		if status != http.StatusUnauthorized || errorCode(t, respBody) != "AUTH_TIMESTAMP_STALE" {
			t.Fatalf("status %d body %s", status, respBody)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		req := client.request(t, "POST", h.server.URL, path, "n-c", body, nil)
		req.Body = io.NopCloser(strings.NewReader(`{"targetVotes":9}`))
		req.ContentLength = int64(len(`{"targetVotes":9}`))
		status, respBody := do(t, req)
		if status != http.StatusUnauthorized || errorCode(t, respBody) != "AUTH_SIGNATURE_INVALID" {
			t.Fatalf("status %d body %s", status, respBody)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other := newSigner(t)
		req := client.request(t, "POST", h.server.URL, path, "n-d", body, nil)
		req.Header.Set(HeaderPubkey, other.identity())
		status, respBody := do(t, req)
		if status != http.StatusUnauthorized || errorCode(t, respBody) != "AUTH_SIGNATURE_INVALID" {
			t.Fatalf("status %d body %s", status, respBody)
		}
	})
}

func TestIdempotentRetryReturnsOriginalResponse(t *testing.T) {
	h := newHarness(t)
	h.seedTopic(t, "t1", topic.StatusActive)
	h.seedArgument(t, "t1", "root")
	client := newSigner(t)
	body := []byte(`{"targetVotes":4}`)
	path := "/api/topics/t1/arguments/root/votes"

	first := client.request(t, "POST", h.server.URL, path, "retry-nonce", body, nil)
	status, firstBody := do(t, first)
	if status != http.StatusOK {
		t.Fatalf("first call status %d body %s", status, firstBody)
	}

	second := client.request(t, "POST", h.server.URL, path, "retry-nonce", body, nil)
	status, secondBody := do(t, second)
	if status != http.StatusOK {
		t.Fatalf("retry status %d body %s", status, secondBody)
	}
	if !bytes.Equal(firstBody, secondBody) {
		t.Fatalf("retry response diverged:\nfirst  %s\nsecond %s", firstBody, secondBody)
	}

	// The stake was applied exactly once.
	led, err := h.store.GetLedger(context.Background(), "t1", client.identity())
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if led.Balance != 84 {
		t.Fatalf("expected single application, balance %d", led.Balance)
	}
}

func TestNonIdempotentReplayRejected(t *testing.T) {
	h := newHarness(t)
	h.seedTopic(t, "t1", topic.StatusActive)
	client := newSigner(t)
	path := "/api/topics/t1/ledger"

	first := client.request(t, "GET", h.server.URL, path, "read-nonce", nil, nil)
	if status, body := do(t, first); status != http.StatusOK {
		t.Fatalf("first read status %d body %s", status, body)
	}

	second := client.request(t, "GET", h.server.URL, path, "read-nonce", nil, nil)
	status, body := do(t, second)
	if status != http.StatusConflict || errorCode(t, body) != "AUTH_REPLAY_DETECTED" {
		t.Fatalf("status %d body %s", status, body)
	}
}

func TestCreateArgumentEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.seedTopic(t, "t1", topic.StatusActive)
	client := newSigner(t)

	body := []byte(`{"content":"opening statement","initialVotes":3}`)
	req := client.request(t, "POST", h.server.URL, "/api/topics/t1/arguments", "create-1", body, nil)
	status, respBody := do(t, req)
	if status != http.StatusOK {
		t.Fatalf("status %d body %s", status, respBody)
	}

	var result app.ArgumentResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ArgumentID == "" || result.Votes == nil || result.Votes.Ledger.Balance != 91 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestClaimFlowEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.seedTopic(t, "t1", topic.StatusActive)
	client := newSigner(t)

	grantToken, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"iss":      "agora-control-plane",
		"aud":      "agora-engine",
		"jti":      "grant-1",
		"exp":      testBase.Add(time.Minute).Unix(),
		"topic_id": "t1",
	}).SignedString(h.grantKey)
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}

	issueReq, err := http.NewRequest("POST", h.server.URL+"/internal/topics/t1/claim-token", nil)
	if err != nil {
		t.Fatalf("build issue request: %v", err)
	}
	issueReq.Header.Set("Authorization", "Bearer "+grantToken)
	status, issueBody := do(t, issueReq)
	if status != http.StatusOK {
		t.Fatalf("issue status %d body %s", status, issueBody)
	}
	var issued app.IssueResult
	if err := json.Unmarshal(issueBody, &issued); err != nil {
		t.Fatalf("decode issuance: %v", err)
	}
	if issued.Token == "" || issued.ExpiresIn != 300 {
		t.Fatalf("unexpected issuance: %+v", issued)
	}

	claimReq := client.request(t, "POST", h.server.URL, "/api/topics/t1/claim", "claim-1", nil,
		map[string]string{HeaderClaimToken: issued.Token})
	status, claimBody := do(t, claimReq)
	if status != http.StatusOK {
		t.Fatalf("claim status %d body %s", status, claimBody)
	}
	var claimed app.ClaimResult
	if err := json.Unmarshal(claimBody, &claimed); err != nil {
		t.Fatalf("decode claim: %v", err)
	}
	if claimed.OwnerIdentity != client.identity() {
		t.Fatalf("unexpected claim: %+v", claimed)
	}

	// The token is single-use.
	again := client.request(t, "POST", h.server.URL, "/api/topics/t1/claim", "claim-2", nil,
		map[string]string{HeaderClaimToken: issued.Token})
	status, againBody := do(t, again)
	if status != http.StatusConflict || errorCode(t, againBody) != "CLAIM_TOKEN_INVALID" {
		t.Fatalf("status %d body %s", status, againBody)
	}

	// The stored consumption marker is not itself a redeemable token.
	marker := client.request(t, "POST", h.server.URL, "/api/topics/t1/claim", "claim-4", nil,
		map[string]string{HeaderClaimToken: "__consumed__"})
	status, markerBody := do(t, marker)
	if status != http.StatusConflict || errorCode(t, markerBody) != "CLAIM_TOKEN_INVALID" {
		t.Fatalf("status %d body %s", status, markerBody)
	}

	// A topic without a live token reports expiry.
	h.seedTopic(t, "t2", topic.StatusActive)
	gone := client.request(t, "POST", h.server.URL, "/api/topics/t2/claim", "claim-3", nil,
		map[string]string{HeaderClaimToken: "whatever"})
	status, goneBody := do(t, gone)
	if status != http.StatusGone || errorCode(t, goneBody) != "CLAIM_TOKEN_EXPIRED" {
		t.Fatalf("status %d body %s", status, goneBody)
	}
}

func TestIssueClaimTokenRejectsBadGrants(t *testing.T) {
	h := newHarness(t)
	h.seedTopic(t, "t1", topic.StatusActive)

	req, err := http.NewRequest("POST", h.server.URL+"/internal/topics/t1/claim-token", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	status, body := do(t, req)
	if status != http.StatusUnauthorized || errorCode(t, body) != "GRANT_INVALID" {
		t.Fatalf("status %d body %s", status, body)
	}

	expired, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"iss":      "agora-control-plane",
		"aud":      "agora-engine",
		"jti":      "grant-2",
		"exp":      testBase.Add(-time.Minute).Unix(),
		"topic_id": "t1",
	}).SignedString(h.grantKey)
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}
	req, err = http.NewRequest("POST", h.server.URL+"/internal/topics/t1/claim-token", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+expired)
	status, body = do(t, req)
	if status != http.StatusUnauthorized || errorCode(t, body) != "GRANT_EXPIRED" {
		t.Fatalf("status %d body %s", status, body)
	}
}

func TestLedgerReadGrantsInitialBalance(t *testing.T) {
	h := newHarness(t)
	h.seedTopic(t, "t1", topic.StatusActive)
	client := newSigner(t)

	req := client.request(t, "GET", h.server.URL, "/api/topics/t1/ledger", "ledger-1", nil, nil)
	status, body := do(t, req)
	if status != http.StatusOK {
		t.Fatalf("status %d body %s", status, body)
	}
	var view app.LedgerView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if view.Balance != 100 {
		t.Fatalf("unexpected ledger: %+v", view)
	}
}

func TestOverspendMapsToPaymentRequired(t *testing.T) {
	h := newHarness(t)
	h.seedTopic(t, "t1", topic.StatusActive)
	h.seedArgument(t, "t1", "a")
	h.seedArgument(t, "t1", "b")
	client := newSigner(t)

	drain := client.request(t, "POST", h.server.URL, "/api/topics/t1/arguments/a/votes", "spend-1",
		[]byte(`{"targetVotes":10}`), nil)
	if status, body := do(t, drain); status != http.StatusOK {
		t.Fatalf("drain status %d body %s", status, body)
	}

	over := client.request(t, "POST", h.server.URL, "/api/topics/t1/arguments/b/votes", "spend-2",
		[]byte(`{"targetVotes":1}`), nil)
	status, body := do(t, over)
	if status != http.StatusPaymentRequired || errorCode(t, body) != "BALANCE_INSUFFICIENT" {
		t.Fatalf("status %d body %s", status, body)
	}
}

func TestOpsEndpoints(t *testing.T) {
	h := newHarness(t)

	status, body := do(t, mustRequest(t, "GET", h.server.URL+"/healthz"))
	if status != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Fatalf("healthz status %d body %s", status, body)
	}

	status, body = do(t, mustRequest(t, "GET", h.server.URL+"/metrics"))
	if status != http.StatusOK || !strings.Contains(string(body), "agora_") {
		t.Fatalf("metrics status %d body %s", status, body)
	}
}

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}
