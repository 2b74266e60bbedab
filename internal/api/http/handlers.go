package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/openagora/agora/internal/platform/httpx"
	"github.com/openagora/agora/internal/storage"

	apperrors "github.com/openagora/agora/internal/platform/errors"
)

type createArgumentRequest struct {
	ParentID     string `json:"parentId"`
	Content      string `json:"content"`
	InitialVotes int    `json:"initialVotes"`
}

func (s *Server) handleCreateArgument(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.RequestContext(r)
	topicID := r.PathValue("topicID")

	var req createArgumentRequest
	if err := decodeBody(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		httpx.WriteError(w, apperrors.New(apperrors.CodeRequestMalformed, "content is required"))
		return
	}

	result, err := s.service.CreateArgument(ctx, storage.CreateArgumentParams{
		TopicID:      topicID,
		ParentID:     strings.TrimSpace(req.ParentID),
		Content:      req.Content,
		Identity:     IdentityFrom(ctx),
		InitialVotes: req.InitialVotes,
		Nonce:        NonceFrom(ctx),
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

type setVotesRequest struct {
	TargetVotes *int `json:"targetVotes"`
}

func (s *Server) handleSetVotes(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.RequestContext(r)
	topicID := r.PathValue("topicID")
	argumentID := r.PathValue("argumentID")

	var req setVotesRequest
	if err := decodeBody(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if req.TargetVotes == nil {
		httpx.WriteError(w, apperrors.New(apperrors.CodeRequestMalformed, "targetVotes is required"))
		return
	}

	result, err := s.service.SetVotes(ctx, topicID, argumentID, IdentityFrom(ctx), *req.TargetVotes)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleClaimTopic(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.RequestContext(r)
	topicID := r.PathValue("topicID")

	token := strings.TrimSpace(r.Header.Get(HeaderClaimToken))
	result, err := s.service.ClaimTopic(ctx, topicID, IdentityFrom(ctx), token)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.RequestContext(r)
	topicID := r.PathValue("topicID")

	result, err := s.service.GetLedger(ctx, topicID, IdentityFrom(ctx))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleIssueClaimToken(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.RequestContext(r)
	topicID := r.PathValue("topicID")

	result, err := s.service.IssueClaimToken(ctx, topicID, bearerToken(r))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeRequestMalformed, "request body is not valid JSON", err)
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
