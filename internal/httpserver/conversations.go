package httpserver

import (
	"net/http"

	"order-hub/internal/inbox"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.deps.Inbox.ListConversations(r.Context(), identity(r).TenantID, queryLimit(r, 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.deps.Inbox.ListMessages(r.Context(), identity(r).TenantID, r.PathValue("id"), queryLimit(r, 100))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	id := identity(r)
	msg, out, err := s.deps.Inbox.Reply(r.Context(), id.TenantID, r.PathValue("id"), id.UserID, body.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := map[string]any{
		"message": inbox.ToMessageView(*msg),
		"sent":    out.Delivered(),
	}
	if !out.Delivered() {
		resp["error"] = out.Reason
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	if err := s.deps.Inbox.MarkRead(r.Context(), id.TenantID, r.PathValue("id"), id.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
