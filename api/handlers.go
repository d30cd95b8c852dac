package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/shieldpay/relayer/types"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.KindValidation, "invalid request body: %v", err))
		return
	}
	row, err := s.relay.Submit(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := int64(types.DefaultPageLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, types.NewError(types.KindValidation, "invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	var cursor *string
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		cursor = &raw
	}
	page, err := s.relay.List(r.Context(), limit, cursor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	row, err := s.relay.Get(r.Context(), ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	row, err := s.relay.Retry(r.Context(), ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleRiskCheck(w http.ResponseWriter, r *http.Request) {
	var req types.RiskCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.KindValidation, "invalid request body: %v", err))
		return
	}
	result, err := s.relay.RiskCheck(r.Context(), req.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type blocklistAddRequest struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

func (s *Server) handleBlocklistAdd(w http.ResponseWriter, r *http.Request) {
	if s.denylist == nil {
		writeError(w, types.NewError(types.KindServiceUnavailable, "deny-list is not configured"))
		return
	}
	var req blocklistAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.KindValidation, "invalid request body: %v", err))
		return
	}
	if err := s.denylist.Add(r.Context(), req.Address, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added", "address": req.Address})
}

func (s *Server) handleBlocklistRemove(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.denylist == nil {
		writeError(w, types.NewError(types.KindServiceUnavailable, "deny-list is not configured"))
		return
	}
	address := ps.ByName("address")
	if err := s.denylist.Remove(r.Context(), address); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "address": address})
}

func (s *Server) handleBlocklistList(w http.ResponseWriter, r *http.Request) {
	if s.denylist == nil {
		writeError(w, types.NewError(types.KindServiceUnavailable, "deny-list is not configured"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": s.denylist.Snapshot()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.relay.HealthCheck(r.Context())
	status := http.StatusOK
	if health.Status == types.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	health := s.relay.HealthCheck(r.Context())
	if health.Status == types.Unhealthy {
		writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	writeJSON(w, http.StatusOK, health)
}
