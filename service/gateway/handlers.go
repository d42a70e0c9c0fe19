package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/viant/nexus/model"
	"github.com/viant/nexus/service/approval"
	"github.com/viant/nexus/service/dao"
	"github.com/viant/nexus/service/poller"
)

// maxAwaitTimeout caps the outcome long-poll so a wait always finishes inside
// the server write timeout.
const maxAwaitTimeout = 90 * time.Second

type submitRequest struct {
	Kind             string          `json:"kind"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
}

type submitResponse struct {
	RequestID string       `json:"request_id"`
	Status    model.Status `json:"status"`
}

type decisionRequest struct {
	Decision  model.Decision `json:"decision"`
	DecidedBy string         `json:"decided_by,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

type statsResponse struct {
	StartedAt        time.Time `json:"started_at"`
	Submitted        int       `json:"submitted"`
	AwaitingApproval int       `json:"awaiting_approval"`
	Approved         int       `json:"approved"`
	Rejected         int       `json:"rejected"`
	Expired          int       `json:"expired"`
	Dispatched       int       `json:"dispatched"`
	InProgress       int       `json:"in_progress"`
	Completed        int       `json:"completed"`
	Failed           int       `json:"failed"`
	DuplicateResults uint64    `json:"duplicate_results"`
	UnknownResults   uint64    `json:"unknown_results"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Kind) == "" {
		s.respondError(w, http.StatusBadRequest, "kind is required", nil)
		return
	}

	id, err := s.submit.Submit(r.Context(), req.Kind, req.Payload, req.RequiresApproval)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to submit request", err)
		return
	}

	// Policy may have parked or rejected the request already; reflect the
	// stored status rather than assuming queued.
	status := model.StatusQueued
	if current, err := s.requests.Load(r.Context(), id); err == nil {
		status = current.Status
	}
	respondJSON(w, http.StatusAccepted, submitResponse{RequestID: id, Status: status})
}

func (s *Service) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	current, err := s.requests.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "request not found", nil)
			return
		}
		s.respondError(w, http.StatusInternalServerError, "failed to load request", err)
		return
	}
	respondJSON(w, http.StatusOK, current)
}

func (s *Service) handleAwaitOutcome(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid timeout", err)
			return
		}
		timeout = parsed
	}
	if timeout > maxAwaitTimeout {
		timeout = maxAwaitTimeout
	}

	started := time.Now()
	outcome, err := s.results.AwaitResult(r.Context(), id, timeout)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "request not found", nil)
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		s.respondError(w, http.StatusInternalServerError, "failed to await outcome", err)
		return
	}
	observeAwait(outcome.Kind, time.Since(started))

	status := http.StatusOK
	if outcome.Kind == poller.KindTimedOut {
		status = http.StatusAccepted
	}
	respondJSON(w, status, outcome)
}

func (s *Service) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if state := r.URL.Query().Get("state"); state != "" && state != "pending" {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported state filter %q", state), nil)
		return
	}
	pending, err := s.gate.Pending(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to list approvals", err)
		return
	}
	if pending == nil {
		pending = []*model.ApprovalRecord{}
	}
	respondJSON(w, http.StatusOK, pending)
}

func (s *Service) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	switch req.Decision {
	case model.DecisionApproved, model.DecisionRejected:
	default:
		s.respondError(w, http.StatusBadRequest,
			fmt.Sprintf("decision must be %q or %q", model.DecisionApproved, model.DecisionRejected), nil)
		return
	}

	decidedBy := req.DecidedBy
	if len(s.config.JWTSecret) > 0 {
		claims, err := s.authorizeReviewer(r)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "reviewer token rejected", err)
			return
		}
		decidedBy = claims.Subject
	}
	if decidedBy == "" {
		s.respondError(w, http.StatusBadRequest, "decided_by is required", nil)
		return
	}

	record, err := s.gate.Resolve(r.Context(), id, req.Decision, decidedBy, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, approval.ErrNotFound):
			s.respondError(w, http.StatusNotFound, "approval not found", nil)
		case errors.Is(err, approval.ErrAlreadyResolved):
			s.respondError(w, http.StatusConflict, "approval already resolved", err)
		default:
			s.respondError(w, http.StatusInternalServerError, "failed to resolve approval", err)
		}
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	snapshot := s.tracker.Snapshot()
	response := statsResponse{
		StartedAt:        snapshot.StartedAt,
		Submitted:        snapshot.SubmittedTotal,
		AwaitingApproval: snapshot.AwaitingApprovalTotal,
		Approved:         snapshot.ApprovedTotal,
		Rejected:         snapshot.RejectedTotal,
		Expired:          snapshot.ExpiredTotal,
		Dispatched:       snapshot.DispatchedTotal,
		InProgress:       snapshot.InProgressTotal,
		Completed:        snapshot.CompletedTotal,
		Failed:           snapshot.FailedTotal,
	}
	if s.stats != nil {
		dropped := s.stats()
		response.DuplicateResults = dropped.Duplicates
		response.UnknownResults = dropped.Unknown
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "up"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Service) respondError(w http.ResponseWriter, status int, message string, err error) {
	response := errorResponse{Error: message}
	if err != nil {
		response.Detail = err.Error()
		s.logger.Error(message, err, nil)
	}
	respondJSON(w, status, response)
}
