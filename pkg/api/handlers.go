package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openscout/openscout/pkg/discovery"
)

const defaultPageLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListLayers(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.deps.Layers.List())
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	// Only the invocable subset is served; pending and disabled tools
	// stay internal to the catalog.
	s.respond(w, http.StatusOK, s.deps.Catalog.Approved())
}

type invokeToolRequest struct {
	ToolID        string            `json:"tool_id"`
	ConnectionID  string            `json:"connection_id"`
	Args          map[string]string `json:"args,omitempty"`
	PolicyID      string            `json:"policy_id,omitempty"`
	Subscriptions []string          `json:"subscriptions,omitempty"`
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	var req invokeToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ToolID == "" || req.ConnectionID == "" {
		s.respondError(w, r, http.StatusBadRequest, "tool_id and connection_id are required")
		return
	}

	conn, err := s.deps.Store.GetConnection(r.Context(), req.ConnectionID)
	if err != nil {
		s.respondError(w, r, http.StatusNotFound, "connection not found")
		return
	}
	token, expiresAt, err := s.deps.Tokens.Token(r.Context(), conn.ID)
	if err != nil {
		s.respondError(w, r, http.StatusUnauthorized, "no token available for connection")
		return
	}
	conn.Token = token
	conn.TokenExpiresAt = expiresAt

	resp := s.deps.Invoker.Invoke(r.Context(), &discovery.InvokeRequest{
		ToolID:        req.ToolID,
		Args:          req.Args,
		Connection:    conn,
		PolicyID:      req.PolicyID,
		Subscriptions: req.Subscriptions,
		CorrelationID: CorrelationID(r.Context()),
		TraceID:       TraceID(r.Context()),
		SessionID:     SessionID(r.Context()),
	})
	s.respond(w, invokeStatus(resp), resp)
}

// invokeStatus maps a structured invocation outcome onto an HTTP status.
func invokeStatus(resp *discovery.InvokeResponse) int {
	if resp.Status == discovery.InvokeStatusSuccess {
		return http.StatusOK
	}
	if resp.Error == nil {
		return http.StatusInternalServerError
	}
	switch resp.Error.Code {
	case discovery.ErrCodePolicyViolation:
		return http.StatusForbidden
	case discovery.ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case discovery.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case discovery.ErrCodeNotFound, discovery.ErrCodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

type createConnectionRequest struct {
	ID              string   `json:"id,omitempty"`
	TenantID        string   `json:"tenant_id"`
	SubscriptionIDs []string `json:"subscription_ids"`
	RBACTier        string   `json:"rbac_tier"`
	Active          *bool    `json:"active,omitempty"`
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" || len(req.SubscriptionIDs) == 0 {
		s.respondError(w, r, http.StatusBadRequest, "tenant_id and subscription_ids are required")
		return
	}

	conn := &discovery.Connection{
		ID:              req.ID,
		TenantID:        req.TenantID,
		SubscriptionIDs: req.SubscriptionIDs,
		RBACTier:        req.RBACTier,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if req.Active != nil {
		conn.Active = *req.Active
	}

	if err := s.deps.Store.CreateConnection(r.Context(), conn); err != nil {
		s.respondError(w, r, http.StatusConflict, err.Error())
		return
	}
	s.respond(w, http.StatusCreated, conn)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	conns, err := s.deps.Store.ListConnections(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, "failed to list connections")
		return
	}
	s.respond(w, http.StatusOK, conns)
}

func (s *Server) handleCreateDiscovery(w http.ResponseWriter, r *http.Request) {
	var req discovery.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = CorrelationID(r.Context())
	}
	if req.TraceID == "" {
		req.TraceID = TraceID(r.Context())
	}
	if req.SessionID == "" {
		req.SessionID = SessionID(r.Context())
	}

	d, err := s.deps.Orchestrator.Start(r.Context(), &req)
	if err != nil {
		status := http.StatusBadRequest
		if discovery.IsAuthError(err) {
			status = http.StatusUnauthorized
		}
		s.respond(w, status, d)
		return
	}

	// Execution continues past this request's lifetime.
	go func() {
		if _, err := s.deps.Orchestrator.Execute(context.Background(), d.ID); err != nil {
			s.logger.Error().Err(err).Str("discovery_id", d.ID).Msg("Discovery execution failed")
		}
	}()

	s.respond(w, http.StatusAccepted, d)
}

func (s *Server) handleListDiscoveries(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	ds, err := s.deps.Store.ListDiscoveries(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, "failed to list discoveries")
		return
	}
	s.respond(w, http.StatusOK, ds)
}

func (s *Server) handleGetDiscovery(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Store.GetDiscovery(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, http.StatusNotFound, "discovery not found")
		return
	}
	s.respond(w, http.StatusOK, d)
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	raw, err := s.deps.Store.GetGraph(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, http.StatusNotFound, "graph not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
