// Package api provides the management API: anomaly rule CRUD, alert
// lifecycle operations, and aggregated statistics. Every handler resolves
// the caller's organization from the session identity and never accepts an
// organization ID from the request.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"argus-vms/internal/api/auth"
	apperr "argus-vms/internal/errors"
	"argus-vms/internal/rules"
	"argus-vms/internal/schema"
	"argus-vms/internal/stats"
	"argus-vms/internal/storage"
)

// APIError represents a structured API error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// writeJSONError writes a structured JSON error response.
func writeJSONError(w http.ResponseWriter, status int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
		Details: details,
	}); err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// AlertManager is the alert lifecycle surface the API exposes.
type AlertManager interface {
	Get(ctx context.Context, orgID int64, id uuid.UUID) (*schema.Alert, error)
	List(ctx context.Context, orgID int64, filter storage.AlertFilter) ([]*schema.Alert, error)
	Acknowledge(ctx context.Context, orgID int64, id uuid.UUID, user string) (*schema.Alert, error)
	Resolve(ctx context.Context, orgID int64, id uuid.UUID, user string) (*schema.Alert, error)
}

// StatsProvider is the aggregation surface the API exposes.
type StatsProvider interface {
	OrgStats(ctx context.Context, orgID int64, q stats.Query) (*stats.OrgStats, error)
	CameraStats(ctx context.Context, orgID, cameraID int64, q stats.Query) (*stats.CameraStats, error)
}

// Server wires the rule service, the alert manager, and the stats
// aggregator into HTTP handlers.
type Server struct {
	rules  *rules.Service
	alerts AlertManager
	stats  StatsProvider
	logger *slog.Logger
}

// NewServer creates a management API server.
func NewServer(ruleSvc *rules.Service, alerts AlertManager, statsSvc StatsProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		rules:  ruleSvc,
		alerts: alerts,
		stats:  statsSvc,
		logger: logger,
	}
}

// RegisterRoutes registers all management endpoints on the mux. Rule
// mutations are admin-only and alert state changes need at least the
// operator role; reads are open to any authenticated caller.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	admin := auth.RequireRole(auth.RoleAdmin)
	operator := auth.RequireRole(auth.RoleOperator)

	mux.Handle("POST /v1/rules", admin(http.HandlerFunc(s.handleCreateRule)))
	mux.HandleFunc("GET /v1/rules", s.handleListRules)
	mux.HandleFunc("GET /v1/rules/{id}", s.handleGetRule)
	mux.Handle("PATCH /v1/rules/{id}", admin(http.HandlerFunc(s.handleUpdateRule)))
	mux.Handle("DELETE /v1/rules/{id}", admin(http.HandlerFunc(s.handleDeleteRule)))
	mux.Handle("PUT /v1/rules/{id}/cameras", admin(http.HandlerFunc(s.handleReplaceCameras)))

	mux.HandleFunc("GET /v1/alerts", s.handleListAlerts)
	mux.HandleFunc("GET /v1/alerts/{id}", s.handleGetAlert)
	mux.Handle("POST /v1/alerts/{id}/ack", operator(http.HandlerFunc(s.handleAcknowledgeAlert)))
	mux.Handle("POST /v1/alerts/{id}/resolve", operator(http.HandlerFunc(s.handleResolveAlert)))

	mux.HandleFunc("GET /v1/stats", s.handleOrgStats)
	mux.HandleFunc("GET /v1/cameras/{id}/stats", s.handleCameraStats)
}

// orgID resolves the caller's organization or writes a 401.
func (s *Server) orgID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	org, ok := auth.OrgFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", "")
		return 0, false
	}
	return org, true
}

// pathID parses the {id} path segment as an int64.
func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// writeErr maps an error's kind to an HTTP status. Not-found and
// cross-tenant lookups map to the same 404 so a caller cannot probe another
// organization's resources.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	msg := apperr.SafeErrorMessage(err)
	switch apperr.KindOf(err) {
	case apperr.KindMissingField:
		writeJSONError(w, http.StatusBadRequest, "MISSING_FIELD", msg, "")
	case apperr.KindInvalidInput:
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", msg, "")
	case apperr.KindNotFound, apperr.KindNotFoundOrForbidden:
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", msg, "")
	case apperr.KindUnavailable:
		writeJSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "service temporarily unavailable", "")
	default:
		s.logger.Error("internal error", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", "")
	}
}

// ruleResponse shadows the rule's camera list with the public-safe summary
// view. Connectivity status never leaves the management API.
type ruleResponse struct {
	*schema.AnomalyRule
	Cameras []schema.CameraSummary `json:"cameras"`
}

func ruleView(rule *schema.AnomalyRule) ruleResponse {
	out := ruleResponse{
		AnomalyRule: rule,
		Cameras:     make([]schema.CameraSummary, 0, len(rule.Cameras)),
	}
	for i := range rule.Cameras {
		out.Cameras = append(out.Cameras, rule.Cameras[i].Summary())
	}
	return out
}

func ruleViews(list []schema.AnomalyRule) []ruleResponse {
	out := make([]ruleResponse, 0, len(list))
	for i := range list {
		out = append(out, ruleView(&list[i]))
	}
	return out
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	org, ok := s.orgID(w, r)
	if !ok {
		return
	}

	var in rules.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body", err.Error())
		return
	}

	rule, err := s.rules.Create(r.Context(), org, in)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ruleView(rule))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	org, ok := s.orgID(w, r)
	if !ok {
		return
	}

	list, err := s.rules.List(r.Context(), org)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"rules": ruleViews(list)})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	org, ok := s.orgID(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid rule id", "")
		return
	}

	rule, err := s.rules.Get(r.Context(), org, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ruleView(rule))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	org, ok := s.orgID(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid rule id", "")
		return
	}

	var in rules.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body", err.Error())
		return
	}

	rule, err := s.rules.Update(r.Context(), org, id, in)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ruleView(rule))
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	org, ok := s.orgID(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid rule id", "")
		return
	}

	if err := s.rules.Delete(r.Context(), org, id); err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

type replaceCamerasRequest struct {
	CameraIDs []int64 `json:"camera_ids"`
}

// handleReplaceCameras replaces a rule's entire camera set. The request
// carries the full desired set; cameras left out are unbound.
func (s *Server) handleReplaceCameras(w http.ResponseWriter, r *http.Request) {
	org, ok := s.orgID(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid rule id", "")
		return
	}

	var req replaceCamerasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body", err.Error())
		return
	}

	rule, err := s.rules.Update(r.Context(), org, id, rules.UpdateInput{CameraIDs: req.CameraIDs})
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ruleView(rule))
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	org, ok := s.orgID(w, r)
	if !ok {
		return
	}

	filter, err := alertFilterFromQuery(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), "")
		return
	}

	list, err := s.alerts.List(r.Context(), org, filter)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"alerts": list})
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	org, ok := s.orgID(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid alert id", "")
		return
	}

	alert, err := s.alerts.Get(r.Context(), org, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	s.transitionAlert(w, r, s.alerts.Acknowledge)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	s.transitionAlert(w, r, s.alerts.Resolve)
}

type transitionFunc func(ctx context.Context, orgID int64, id uuid.UUID, user string) (*schema.Alert, error)

func (s *Server) transitionAlert(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	org, ok := s.orgID(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid alert id", "")
		return
	}

	user := ""
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		user = identity.Username
	}

	alert, err := fn(r.Context(), org, id, user)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleOrgStats(w http.ResponseWriter, r *http.Request) {
	org, ok := s.orgID(w, r)
	if !ok {
		return
	}

	q, err := statsQueryFromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), "")
		return
	}

	snapshot, err := s.stats.OrgStats(r.Context(), org, q)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleCameraStats(w http.ResponseWriter, r *http.Request) {
	org, ok := s.orgID(w, r)
	if !ok {
		return
	}

	cameraID, err := pathID(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid camera id", "")
		return
	}

	q, err := statsQueryFromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), "")
		return
	}

	snapshot, err := s.stats.CameraStats(r.Context(), org, cameraID, q)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// alertFilterFromQuery builds an alert filter from query parameters.
func alertFilterFromQuery(r *http.Request) (storage.AlertFilter, error) {
	var filter storage.AlertFilter
	q := r.URL.Query()

	if v := q.Get("rule_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, apperr.InvalidInput("invalid rule_id: %q", v)
		}
		filter.RuleID = id
	}
	if v := q.Get("camera_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return filter, apperr.InvalidInput("invalid camera_id: %q", v)
		}
		filter.CameraID = id
	}
	if v := q.Get("status"); v != "" {
		filter.Status = schema.AlertStatus(v)
	}
	if v := q.Get("criticality"); v != "" {
		filter.Criticality = schema.Criticality(v)
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, apperr.InvalidInput("invalid from time: %q", v)
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, apperr.InvalidInput("invalid to time: %q", v)
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, apperr.InvalidInput("invalid limit: %q", v)
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, apperr.InvalidInput("invalid offset: %q", v)
		}
		filter.Offset = n
	}

	return filter, nil
}

// statsQueryFromRequest builds a stats query from query parameters.
func statsQueryFromRequest(r *http.Request) (stats.Query, error) {
	var query stats.Query
	q := r.URL.Query()

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return query, apperr.InvalidInput("invalid from time: %q", v)
		}
		query.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return query, apperr.InvalidInput("invalid to time: %q", v)
		}
		query.To = t
	}
	query.Bucket = q.Get("bucket")

	return query, nil
}
