package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"order-hub/internal/apperr"
	"order-hub/internal/auth"

	"github.com/juju/errors"
)

const maxRequestBytes = 1 << 20

type errorBody struct {
	Error  string              `json:"error"`
	Issues []apperr.FieldIssue `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders err with the status of its kind. Internal failures are
// logged and, in production, replaced by a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody{Error: err.Error(), Issues: apperr.Issues(err)}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("http").Inc()
		}
		if s.production {
			body.Error = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(dest); err != nil {
		s.writeError(w, r, errors.NewNotValid(err, "invalid request body"))
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be omitted.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, errors.NewNotValid(err, "invalid request body"))
		return false
	}
	return true
}

// authenticated requires a valid bearer token and stores the identity on the
// request context.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Tokens == nil {
			s.writeError(w, r, errors.Unauthorizedf("authentication not configured"))
			return
		}
		id, err := s.deps.Tokens.Verify(auth.FromRequest(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

func queryLimit(r *http.Request, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || v <= 0 {
		return def
	}
	if v > 200 {
		return 200
	}
	return v
}
