package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gavel/api/internal/auth"
	"gavel/api/internal/export"
	"gavel/api/internal/search"
)

const maxUploadBytes = 32 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    *Metrics
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, metrics: service.metrics}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/refresh", s.handleRefresh)
	r.Get("/api/session", s.handleSession)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/api/auth/logout", s.handleLogout)
		r.Post("/api/auth/password", s.handleChangePassword)

		r.Post("/api/users", s.handleCreateUser)
		r.Post("/api/committees", s.handleCreateCommittee)
		r.Post("/api/committees/{committeeID}/members", s.handleAddMember)

		r.Post("/api/attendance", s.handleRecordAttendance)
		r.Post("/api/documents", s.handleUploadDocument)
		r.Get("/api/decisions", s.handleDecisions)

		r.Route("/api/proposals", func(r chi.Router) {
			r.Get("/", s.handleListProposals)
			r.Post("/", s.handleOpenProposal)
			r.Route("/{proposalID}", func(r chi.Router) {
				r.Get("/", s.handleGetProposal)
				r.Patch("/", s.handleEditProposal)
				r.Post("/ballots", s.handleCastBallot)
				r.Get("/eligibility", s.handleEligibility)
				r.Post("/close", s.handleClose)
				r.Post("/reopen", s.handleReopen)
				r.Get("/versions", s.handleVersions)
				r.Post("/versions", s.handleNewVersion)
				r.Post("/push", s.handlePush)
				r.Get("/result", s.handleResult)
				r.Get("/result.html", s.handleExport(export.FormatHTML))
				r.Get("/result.pdf", s.handleExport(export.FormatPDF))
				r.Get("/document", s.handleDocumentURL)
				r.Post("/document", s.handleAttachDocument)
				r.Get("/ledger", s.handleLedger)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
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

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "refreshToken is required", nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	_ = s.service.Logout(r.Context(), sessionFrom(r), body.RefreshToken)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Current string `json:"currentPassword"`
		Next    string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := s.service.ChangePassword(r.Context(), sessionFrom(r), body.Current, body.Next); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body CreateUserInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	user, err := s.service.CreateUser(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          user.ID,
		"username":    user.Username,
		"displayName": user.DisplayName,
		"email":       user.Email,
		"role":        user.Role,
	})
}

func (s *HTTPServer) handleCreateCommittee(w http.ResponseWriter, r *http.Request) {
	var body CreateCommitteeInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	committee, err := s.service.CreateCommittee(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": committee.ID, "code": committee.Code, "name": committee.Name})
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var body AddMemberInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	membership, err := s.service.AddCommitteeMember(r.Context(), sessionFrom(r), chi.URLParam(r, "committeeID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"committeeId": membership.CommitteeID,
		"userId":      membership.UserID,
		"role":        membership.Role,
	})
}

func (s *HTTPServer) handleRecordAttendance(w http.ResponseWriter, r *http.Request) {
	var body RecordAttendanceInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	entry, err := s.service.RecordAttendance(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         entry.ID,
		"voterId":    entry.VoterID,
		"present":    entry.Present,
		"recordedBy": entry.RecordedBy,
		"recordedAt": entry.RecordedAt,
	})
}

func (s *HTTPServer) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "multipart form with a file field is required", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "file is required", nil)
		return
	}
	defer file.Close()

	obj, err := s.service.UploadDocument(r.Context(), sessionFrom(r), header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, obj)
}

func (s *HTTPServer) handleAttachDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "multipart form with a file field is required", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "file is required", nil)
		return
	}
	defer file.Close()

	proposal, err := s.service.AttachDocument(r.Context(), sessionFrom(r), chi.URLParam(r, "proposalID"), header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *HTTPServer) handleDocumentURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.service.DocumentURL(r.Context(), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *HTTPServer) handleDecisions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := s.service.Decisions(r.Context(), query.Get("q"), queryInt(query.Get("limit")), queryInt(query.Get("offset")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": result})
}

func (s *HTTPServer) handleListProposals(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if text := strings.TrimSpace(query.Get("q")); text != "" {
		writeJSON(w, http.StatusOK, s.service.SearchProposals(r.Context(), search.Query{
			Text:        text,
			Status:      query.Get("status"),
			CommitteeID: query.Get("committeeId"),
			ChapterOnly: query.Get("scope") == "chapter",
			Limit:       queryInt(query.Get("limit")),
			Offset:      queryInt(query.Get("offset")),
		}))
		return
	}
	proposals, err := s.service.ListProposals(r.Context(), ListProposalsInput{
		Scope:       query.Get("scope"),
		CommitteeID: query.Get("committeeId"),
		Status:      query.Get("status"),
		Limit:       queryInt(query.Get("limit")),
		Offset:      queryInt(query.Get("offset")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals})
}

func (s *HTTPServer) handleOpenProposal(w http.ResponseWriter, r *http.Request) {
	var body OpenProposalInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	proposal, err := s.service.OpenProposal(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

func (s *HTTPServer) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposal, err := s.service.GetProposal(r.Context(), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *HTTPServer) handleEditProposal(w http.ResponseWriter, r *http.Request) {
	var body EditProposalInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	proposal, err := s.service.EditProposal(r.Context(), sessionFrom(r), chi.URLParam(r, "proposalID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *HTTPServer) handleCastBallot(w http.ResponseWriter, r *http.Request) {
	var body CastBallotInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	receipt, err := s.service.CastBallot(r.Context(), sessionFrom(r), chi.URLParam(r, "proposalID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *HTTPServer) handleEligibility(w http.ResponseWriter, r *http.Request) {
	verdict, err := s.service.Eligibility(r.Context(), sessionFrom(r), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *HTTPServer) handleClose(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.CloseVoting(r.Context(), sessionFrom(r), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleReopen(w http.ResponseWriter, r *http.Request) {
	proposal, err := s.service.Reopen(r.Context(), sessionFrom(r), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.service.Versions(r.Context(), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *HTTPServer) handleNewVersion(w http.ResponseWriter, r *http.Request) {
	var body EditProposalInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	proposal, err := s.service.SubmitNewVersion(r.Context(), sessionFrom(r), chi.URLParam(r, "proposalID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

func (s *HTTPServer) handlePush(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.PushToChapter(r.Context(), sessionFrom(r), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleResult(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.RenderResult(r.Context(), sessionFrom(r), chi.URLParam(r, "proposalID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleExport(format export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.service.ExportResult(r.Context(), chi.URLParam(r, "proposalID"), format)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
	}
}

func (s *HTTPServer) handleLedger(w http.ResponseWriter, r *http.Request) {
	commits, err := s.service.Ledger(r.Context(), chi.URLParam(r, "proposalID"), queryInt(r.URL.Query().Get("limit")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

// fail maps err to an error response. Unexpected errors are logged with the
// request ID; their text never reaches the client.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
		)
	}
	writeError(w, status, code, message, details)
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

type sessionKey struct{}

func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
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

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		elapsed := time.Since(started)
		var route string
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		s.metrics.observeRequest(r.Method, route, writer.status, elapsed)
		slog.InfoContext(ctx, "http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", elapsed.Milliseconds(),
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
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
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
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
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

func queryInt(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}
