package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sixoverme/cqec-os/internal/auth"
	"github.com/sixoverme/cqec-os/internal/blip"
	"github.com/sixoverme/cqec-os/internal/gadget"
	"github.com/sixoverme/cqec-os/internal/search"
	"github.com/sixoverme/cqec-os/internal/store"
	"github.com/sixoverme/cqec-os/internal/wave"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

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
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"handle":        session.Handle,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/identify" {
		var body struct {
			UserID string `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Identify(r.Context(), body.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":    session.Token,
			"userId":   session.UserID,
			"userName": session.UserName,
			"handle":   session.Handle,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	viewer := session.UserID

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/state":
		writeJSON(w, http.StatusOK, s.statePayload(viewer))
		return

	case r.Method == http.MethodPut && r.URL.Path == "/api/view":
		var body struct {
			Folder   *string `json:"folder"`
			DomainID *string `json:"domainId"`
			Query    *string `json:"query"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Folder != nil {
			if err := s.service.SetFolder(*body.Folder); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
		}
		if body.DomainID != nil {
			if err := s.service.SetDomain(*body.DomainID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
		}
		if body.Query != nil {
			s.service.SetSearch(*body.Query)
		}
		writeJSON(w, http.StatusOK, s.statePayload(viewer))
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/waves":
		waves := s.service.WavesView(viewer)
		items := make([]map[string]any, 0, len(waves))
		for _, item := range waves {
			items = append(items, waveJSON(item, false))
		}
		writeJSON(w, http.StatusOK, map[string]any{"waves": items})
		return

	case r.Method == http.MethodPost && r.URL.Path == "/api/waves":
		var body CreateWaveInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateWave(r.Context(), viewer, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, waveJSON(created, true))
		return

	case r.Method == http.MethodPost && r.URL.Path == "/api/waves/dm":
		var body struct {
			UserID string `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		dm, err := s.service.StartDM(r.Context(), viewer, body.UserID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, waveJSON(dm, true))
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/search":
		q := search.Query{
			Text:           r.URL.Query().Get("q"),
			FilterType:     search.ResultType(r.URL.Query().Get("type")),
			FilterDomainID: r.URL.Query().Get("domain"),
		}
		writeJSON(w, http.StatusOK, s.service.Search(q))
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/users":
		profiles := s.service.Profiles()
		items := make([]map[string]any, 0, len(profiles))
		for _, p := range profiles {
			items = append(items, profileJSON(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": items})
		return

	case r.Method == http.MethodPut && r.URL.Path == "/api/profile":
		var body store.Profile
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateProfile(r.Context(), viewer, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, profileJSON(updated))
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/domains":
		domains := s.service.Domains()
		items := make([]map[string]any, 0, len(domains))
		for _, d := range domains {
			items = append(items, map[string]any{
				"id":          d.ID,
				"name":        d.Name,
				"color":       d.Color,
				"description": d.Description,
				"parentId":    nilIfEmpty(d.ParentID),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"domains": items})
		return

	case r.Method == http.MethodPost && r.URL.Path == "/api/domains":
		var body CreateCircleInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateCircle(r.Context(), viewer, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":          created.ID,
			"name":        created.Name,
			"color":       created.Color,
			"description": created.Description,
			"parentId":    nilIfEmpty(created.ParentID),
		})
		return

	case r.Method == http.MethodGet && r.URL.Path == "/api/roles":
		roles := s.service.Roles(r.URL.Query().Get("domain"))
		items := make([]map[string]any, 0, len(roles))
		for _, role := range roles {
			item := map[string]any{
				"id":          role.ID,
				"name":        role.Name,
				"domainId":    role.DomainID,
				"description": role.Description,
				"holderIds":   role.HolderIDs,
			}
			if role.TermEnd != nil {
				item["termEnd"] = role.TermEnd.UnixMilli()
			}
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": items})
		return
	}

	if parts[1] == "waves" && len(parts) >= 3 {
		s.handleWave(w, r, viewer, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleWave(w http.ResponseWriter, r *http.Request, viewer, waveID string, rest []string) {
	if len(rest) == 0 {
		if r.Method == http.MethodGet {
			found, err := s.service.WaveByID(viewer, waveID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			payload := waveJSON(found, true)
			subWaves := s.service.SubWaves(viewer, waveID)
			children := make([]map[string]any, 0, len(subWaves))
			for _, sub := range subWaves {
				children = append(children, waveJSON(sub, false))
			}
			payload["subWaves"] = children
			writeJSON(w, http.StatusOK, payload)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	var (
		result *wave.Wave
		err    error
	)

	switch {
	case r.Method == http.MethodPost && rest[0] == "select" && len(rest) == 1:
		result, err = s.service.SelectWave(r.Context(), viewer, waveID)

	case r.Method == http.MethodPost && rest[0] == "reply" && len(rest) == 1:
		var body struct {
			ParentID string          `json:"parentId"`
			Content  string          `json:"content"`
			Gadgets  []gadget.Gadget `json:"gadgets"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		result, err = s.service.Reply(r.Context(), viewer, waveID, body.ParentID, body.Content, body.Gadgets)

	case rest[0] == "blips" && len(rest) >= 2:
		blipID := rest[1]
		switch {
		case r.Method == http.MethodPut && len(rest) == 2:
			var body struct {
				Content string `json:"content"`
			}
			if decodeErr := decodeBody(r, &body); decodeErr != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
				return
			}
			result, err = s.service.EditBlip(r.Context(), viewer, waveID, blipID, body.Content)

		case r.Method == http.MethodDelete && len(rest) == 2:
			result, err = s.service.DeleteBlip(r.Context(), viewer, waveID, blipID)

		case r.Method == http.MethodPost && len(rest) == 3 && rest[2] == "lock":
			result, err = s.service.ToggleBlipLock(r.Context(), viewer, waveID, blipID)

		case r.Method == http.MethodPost && len(rest) == 5 && rest[2] == "gadgets" && rest[4] == "poll":
			var body struct {
				OptionID string `json:"optionId"`
			}
			if decodeErr := decodeBody(r, &body); decodeErr != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
				return
			}
			result, err = s.service.VoteOnPoll(r.Context(), viewer, waveID, blipID, rest[3], body.OptionID)

		case r.Method == http.MethodPost && len(rest) == 5 && rest[2] == "gadgets" && rest[4] == "consent":
			var body struct {
				Type string `json:"type"`
				Note string `json:"note"`
			}
			if decodeErr := decodeBody(r, &body); decodeErr != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
				return
			}
			result, err = s.service.VoteOnConsent(r.Context(), viewer, waveID, blipID, rest[3], gadget.VoteKind(body.Type), body.Note)

		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}

	case rest[0] == "tags" && len(rest) == 1:
		var body struct {
			Tag string `json:"tag"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		switch r.Method {
		case http.MethodPost:
			result, err = s.service.TagWave(r.Context(), viewer, waveID, body.Tag)
		case http.MethodDelete:
			result, err = s.service.UntagWave(r.Context(), viewer, waveID, body.Tag)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}

	case r.Method == http.MethodPost && rest[0] == "pin" && len(rest) == 1:
		result, err = s.service.TogglePin(r.Context(), viewer, waveID)

	case r.Method == http.MethodPost && rest[0] == "folder" && len(rest) == 1:
		var body struct {
			Folder string `json:"folder"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		result, err = s.service.MoveToFolder(r.Context(), viewer, waveID, body.Folder)

	case r.Method == http.MethodPost && rest[0] == "participants" && len(rest) == 1:
		var body struct {
			UserID string `json:"userId"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		result, err = s.service.AddParticipant(r.Context(), viewer, waveID, body.UserID)

	case r.Method == http.MethodPost && rest[0] == "ratify" && len(rest) == 1:
		result, err = s.service.RatifyProposal(r.Context(), viewer, waveID)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, waveJSON(result, true))
}

func (s *HTTPServer) statePayload(viewer string) map[string]any {
	waves := s.service.WavesView(viewer)
	waveItems := make([]map[string]any, 0, len(waves))
	for _, item := range waves {
		waveItems = append(waveItems, waveJSON(item, false))
	}

	profiles := s.service.Profiles()
	userItems := make([]map[string]any, 0, len(profiles))
	for _, p := range profiles {
		userItems = append(userItems, profileJSON(p))
	}

	domains := s.service.Domains()
	domainItems := make([]map[string]any, 0, len(domains))
	for _, d := range domains {
		domainItems = append(domainItems, map[string]any{
			"id":          d.ID,
			"name":        d.Name,
			"color":       d.Color,
			"description": d.Description,
			"parentId":    nilIfEmpty(d.ParentID),
		})
	}

	view := s.service.ActiveView()
	payload := map[string]any{
		"waves":   waveItems,
		"users":   userItems,
		"domains": domainItems,
		"view": map[string]any{
			"folder":   view.Folder,
			"domainId": nilIfEmpty(view.DomainID),
			"query":    view.Query,
		},
	}
	if selected := s.service.SelectedWave(viewer); selected != nil {
		payload["selectedWave"] = waveJSON(selected, true)
	} else {
		payload["selectedWave"] = nil
	}
	return payload
}

func waveJSON(w *wave.Wave, includeTree bool) map[string]any {
	payload := map[string]any{
		"id":             w.ID,
		"title":          w.Title,
		"participantIds": w.ParticipantIDs,
		"folder":         string(w.Folder),
		"tags":           w.Tags,
		"isRead":         w.IsRead,
		"isPinned":       w.IsPinned,
		"lastActivity":   w.LastActivity.UnixMilli(),
		"parentId":       nilIfEmpty(w.ParentID),
		"isDm":           w.IsDM,
		"type":           string(w.Type),
		"domainId":       nilIfEmpty(w.DomainID),
	}
	if w.Proposal != nil {
		payload["proposalMetadata"] = w.Proposal
	}
	if includeTree {
		payload["rootBlip"] = blipJSON(w.Root)
	} else if w.Root != nil {
		payload["rootBlip"] = map[string]any{
			"id":      w.Root.ID,
			"content": w.Root.Content,
		}
		payload["blipCount"] = blip.Count(w.Root)
	}
	return payload
}

func blipJSON(b *blip.Blip) map[string]any {
	if b == nil {
		return nil
	}
	children := make([]map[string]any, 0, len(b.Children))
	for _, child := range b.Children {
		children = append(children, blipJSON(child))
	}
	payload := map[string]any{
		"id":         b.ID,
		"authorId":   b.AuthorID,
		"content":    b.Content,
		"timestamp":  b.Timestamp.UnixMilli(),
		"children":   children,
		"isReadOnly": b.IsReadOnly,
	}
	if b.LastEdited != nil {
		payload["lastEdited"] = b.LastEdited.UnixMilli()
		payload["lastEditorId"] = b.LastEditorID
	}
	if len(b.Gadgets) > 0 {
		payload["gadgets"] = b.Gadgets
	}
	if len(b.Versions) > 0 {
		versions := make([]map[string]any, 0, len(b.Versions))
		for _, v := range b.Versions {
			versions = append(versions, map[string]any{
				"content":   v.Content,
				"createdAt": v.CreatedAt.UnixMilli(),
				"editorId":  v.EditorID,
			})
		}
		payload["versions"] = versions
	}
	return payload
}

func profileJSON(p store.Profile) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"handle":      p.Handle,
		"email":       p.Email,
		"avatarUrl":   p.AvatarURL,
		"bio":         p.Bio,
		"status":      p.Status,
		"capacity":    p.Capacity,
		"accessNeeds": p.AccessNeeds,
		"isRobot":     p.IsRobot,
		"color":       p.Color,
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
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

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

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
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
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

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, blip.ErrMalformedTree) {
		return http.StatusInternalServerError, "MALFORMED_TREE", "Malformed blip tree", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
