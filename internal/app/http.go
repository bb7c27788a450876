package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"murmur/bot/internal/auth"
	"murmur/bot/internal/search"
	"murmur/bot/internal/store"
)

type HTTPServer struct {
	service     *Service
	bridgeToken string
}

func NewHTTPServer(service *Service, bridgeToken string) *HTTPServer {
	return &HTTPServer{service: service, bridgeToken: bridgeToken}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

/// bridgeEvent is the inbound half of the transport boundary: one JSON
// envelope per chat event, delivered by the bridge.
type bridgeEvent struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	Text        string `json:"text"`
	Command     string `json:"command"`
	Token       string `json:"token"`
	Action      string `json:"action"`
	ModeratorID string `json:"moderatorId"`
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
			"modes":    map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		if err := s.service.PingModes(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["modes"] = map[string]any{"status": "error", "error": err.Error()}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/webhook" {
		if !s.authorizeBridge(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		var event bridgeEvent
		if err := decodeBody(r, &event); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.handleBridgeEvent(w, r, event)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/moderator/signin" {
		var body struct {
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		token, err := s.service.SignIn(r.Context(), body.Password)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token})
		return
	}

	if !s.requireModerator(w, r) {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/moderation/pending" {
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		items, err := s.service.PendingQueue(r.Context(), limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pending": pendingPayload(items)})
		return
	}

	if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/moderation/") {
		parts := splitPath(r.URL.Path)
		// api / moderation / {tokenHash} / {action}
		if len(parts) == 4 {
			outcome, err := s.service.ResolveHash(r.Context(), parts[2], parts[3], "moderator-api")
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, outcome)
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/decisions" {
		outcome := strings.TrimSpace(r.URL.Query().Get("outcome"))
		if outcome != "" && outcome != store.OutcomeApproved && outcome != store.OutcomeRejected {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "outcome must be APPROVED or REJECTED", nil)
			return
		}
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return
		}
		items, err := s.service.Decisions(r.Context(), outcome, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"decisions": decisionsPayload(items)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/stats" {
		pending, published, profiles, err := s.service.Stats(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pending":   pending,
			"published": published,
			"profiles":  profiles,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit, ok := queryInt(w, r, "limit", 20)
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset", 0)
		if !ok {
			return
		}
		response := s.service.SearchPublications(search.Query{Text: q, Limit: limit, Offset: offset})
		writeJSON(w, http.StatusOK, response)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleBridgeEvent(w http.ResponseWriter, r *http.Request, event bridgeEvent) {
	switch event.Type {
	case "message":
		if event.UserID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
			return
		}
		if err := s.service.HandleMessage(r.Context(), event.UserID, event.Text); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "command":
		if event.UserID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
			return
		}
		if err := s.service.HandleCommand(r.Context(), event.UserID, event.Command); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "decision":
		decidedBy := event.ModeratorID
		if decidedBy == "" {
			decidedBy = "bridge"
		}
		outcome, err := s.service.Resolve(r.Context(), event.Token, event.Action, decidedBy)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown event type", nil)
	}
}

func (s *HTTPServer) authorizeBridge(r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.bridgeToken)) == 1
}

func (s *HTTPServer) requireModerator(w http.ResponseWriter, r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	if err := s.service.VerifyModerator(token); err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	return true
}

func pendingPayload(items []store.Submission) []map[string]any {
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, map[string]any{
			"id":        item.TokenHash,
			"body":      item.Body,
			"cardRef":   item.CardRef,
			"createdAt": item.CreatedAt,
		})
	}
	return payload
}

func decisionsPayload(items []store.DecisionLogEntry) []map[string]any {
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		entry := map[string]any{
			"id":        item.ID,
			"unit":      item.TokenHash,
			"outcome":   item.Outcome,
			"decidedBy": item.DecidedBy,
			"decidedAt": item.DecidedAt,
		}
		if item.PublicationNumber != nil {
			entry["publicationNumber"] = *item.PublicationNumber
		}
		payload = append(payload, entry)
	}
	return payload
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("Content-Type", "application/json")
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
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

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
