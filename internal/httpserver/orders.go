package httpserver

import (
	"net/http"

	"order-hub/internal/orders"
)

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orders == nil {
		http.Error(w, "orders unavailable", http.StatusServiceUnavailable)
		return
	}
	var req orders.CreateOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.deps.Orders.CreateOrder(r.Context(), r.PathValue("slug"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Orders.List(r.Context(), identity(r).TenantID, r.URL.Query().Get("status"), queryLimit(r, 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Orders.Get(r.Context(), identity(r).TenantID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleSetOrderStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.deps.Orders.SetStatus(r.Context(), identity(r).TenantID, r.PathValue("id"), body.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAssignOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AssignedTo string `json:"assignedTo"`
	}
	if !s.decodeOptional(w, r, &body) {
		return
	}
	id := identity(r)
	if body.AssignedTo == "" {
		body.AssignedTo = id.UserID
	}
	res, err := s.deps.Orders.Assign(r.Context(), id.TenantID, r.PathValue("id"), body.AssignedTo)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !s.decodeOptional(w, r, &body) {
		return
	}
	res, err := s.deps.Orders.Cancel(r.Context(), identity(r).TenantID, r.PathValue("id"), body.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
