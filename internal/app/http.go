package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"hash/api/internal/editor"
	"hash/api/internal/save"
	"hash/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *log.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *log.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/links" {
		var input CreateLinkInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateLink(r.Context(), input)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created.Record)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "accounts" {
		s.handleAccount(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	writeJSON(w, http.StatusOK, s.service.Search(search.Query{
		Text:            q.Get("q"),
		FilterType:      search.ResultType(q.Get("type")),
		FilterAccountID: q.Get("accountId"),
		Limit:           limit,
		Offset:          offset,
	}))
}

// handleAccount serves /api/accounts/{accountId}/...
func (s *HTTPServer) handleAccount(w http.ResponseWriter, r *http.Request, accountID string, rest []string) {
	switch {
	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "pages":
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		page, err := s.service.CreatePage(r.Context(), accountID, body.Title)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, page)

	case r.Method == http.MethodGet && len(rest) == 2 && rest[0] == "pages":
		snapshot, err := s.service.Page(r.Context(), accountID, rest[1])
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"page":     snapshot.Page,
			"entities": snapshot.Entities,
		})

	case r.Method == http.MethodGet && len(rest) == 3 && rest[0] == "pages" && rest[2] == "document":
		doc, err := s.service.Document(r.Context(), accountID, rest[1])
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"doc": doc})

	case r.Method == http.MethodPost && len(rest) == 3 && rest[0] == "pages" && rest[2] == "contents":
		var body struct {
			Actions []save.Action `json:"actions"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		page, err := s.service.ApplyActions(r.Context(), accountID, rest[1], body.Actions)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)

	case r.Method == http.MethodPost && len(rest) == 3 && rest[0] == "pages" && rest[2] == "save":
		var body struct {
			Doc json.RawMessage `json:"doc"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := editor.ParseDocument(body.Doc)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		page, err := s.service.SavePage(r.Context(), accountID, rest[1], doc)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)

	case r.Method == http.MethodGet && len(rest) == 3 && rest[0] == "entities" && rest[2] == "links":
		records, err := s.service.OutgoingLinks(r.Context(), accountID, rest[1])
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"links": records})

	case r.Method == http.MethodGet && len(rest) == 2 && rest[0] == "links":
		view, err := s.service.GetLink(r.Context(), accountID, rest[1])
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case r.Method == http.MethodDelete && len(rest) == 2 && rest[0] == "links":
		if err := s.service.DeleteLink(r.Context(), accountID, rest[1]); err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "code", code, "err", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
