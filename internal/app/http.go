package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"fleetdesk/api/internal/auth"
	"fleetdesk/api/internal/config"
	"fleetdesk/api/internal/export"
	"fleetdesk/api/internal/rbac"
	"fleetdesk/api/internal/search"
	"fleetdesk/api/internal/sheet"
	"fleetdesk/api/internal/store"
)

type HTTPServer struct {
	service        *Service
	jwtSecret      []byte
	corsOrigin     string
	requestTimeout time.Duration
	logger         *zap.Logger
}

func NewHTTPServer(service *Service, cfg config.Config, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		service:        service,
		jwtSecret:      []byte(cfg.JWTSecret),
		corsOrigin:     cfg.CORSOrigin,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger.Named("http"),
	}
}

type operatorHandler func(w http.ResponseWriter, r *http.Request, op auth.Operator)

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	withJSONFallbacks(r)

	api := withJSONFallbacks(r.PathPrefix("/api").Subrouter())
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	// Reference data
	api.Handle("/reference", s.guard(rbac.ActionRead, s.handleReference)).Methods(http.MethodGet)
	api.Handle("/checklist-items", s.guard(rbac.ActionRead, s.handleChecklistItems)).Methods(http.MethodGet)
	api.Handle("/pilots", s.guard(rbac.ActionRead, s.handlePilots)).Methods(http.MethodGet)
	api.Handle("/vehicles", s.guard(rbac.ActionRead, s.handleVehicles)).Methods(http.MethodGet)
	api.Handle("/vehicles/{id:[0-9]+}/odometer", s.guard(rbac.ActionRead, s.handleVehicleOdometer)).Methods(http.MethodGet)
	api.Handle("/fuel-vouchers", s.guard(rbac.ActionRead, s.handleFuelVouchers)).Methods(http.MethodGet)
	api.Handle("/sequences/{documentType}/next", s.guard(rbac.ActionRead, s.handlePeekSequence)).Methods(http.MethodGet)

	// Stored sheets
	sheets := withJSONFallbacks(api.PathPrefix("/departure-sheets").Subrouter())
	sheets.Handle("", s.guard(rbac.ActionRead, s.handleListSheets)).Methods(http.MethodGet)
	sheets.Handle("", s.guard(rbac.ActionInspect, s.handleCreateSheet)).Methods(http.MethodPost)
	sheets.Handle("/search", s.guard(rbac.ActionRead, s.handleSearchSheets)).Methods(http.MethodGet)
	sheets.Handle("/register.xlsx", s.guard(rbac.ActionRead, s.handleExportRegister)).Methods(http.MethodGet)
	sheets.Handle("/{id:[0-9]+}", s.guard(rbac.ActionRead, s.handleGetSheet)).Methods(http.MethodGet)
	sheets.Handle("/{id:[0-9]+}", s.guard(rbac.ActionAmend, s.handleUpdateSheet)).Methods(http.MethodPatch)
	sheets.Handle("/{id:[0-9]+}/reviews", s.guard(rbac.ActionInspect, s.handleAddReview)).Methods(http.MethodPost)
	sheets.Handle("/{id:[0-9]+}/odometer-photo", s.guard(rbac.ActionAmend, s.handleOdometerPhoto)).Methods(http.MethodPost)
	sheets.Handle("/{id:[0-9]+}/export", s.guard(rbac.ActionRead, s.handleExportSheet)).Methods(http.MethodGet)

	// Drafts
	drafts := withJSONFallbacks(api.PathPrefix("/departure-drafts").Subrouter())
	drafts.Handle("", s.guard(rbac.ActionInspect, s.handleOpenDraft)).Methods(http.MethodPost)
	drafts.Handle("/{draftId}", s.guard(rbac.ActionInspect, s.handleGetDraft)).Methods(http.MethodGet)
	drafts.Handle("/{draftId}", s.guard(rbac.ActionInspect, s.handleCancelDraft)).Methods(http.MethodDelete)
	drafts.Handle("/{draftId}/header", s.guard(rbac.ActionInspect, s.handleDraftHeader)).Methods(http.MethodPatch)
	drafts.Handle("/{draftId}/items/{itemId:[0-9]+}/{action:pass|unpass}", s.guard(rbac.ActionInspect, s.handleItemTransition)).Methods(http.MethodPost)
	drafts.Handle("/{draftId}/items/{itemId:[0-9]+}/annotation", s.guard(rbac.ActionInspect, s.handleItemAnnotation)).Methods(http.MethodPut)
	drafts.Handle("/{draftId}/items/{itemId:[0-9]+}/photo", s.guard(rbac.ActionInspect, s.handleItemPhoto)).Methods(http.MethodPost, http.MethodDelete)
	drafts.Handle("/{draftId}/photos", s.guard(rbac.ActionInspect, s.handleAttachPhoto)).Methods(http.MethodPost)
	drafts.Handle("/{draftId}/photos/{photoId}", s.guard(rbac.ActionInspect, s.handleDetachPhoto)).Methods(http.MethodDelete)
	drafts.Handle("/{draftId}/reset", s.guard(rbac.ActionInspect, s.handleResetDraft)).Methods(http.MethodPost)
	drafts.Handle("/{draftId}/submit", s.guard(rbac.ActionInspect, s.handleSubmitDraft)).Methods(http.MethodPost)

	return s.withMiddleware(r)
}

// withJSONFallbacks sets the 404 and 405 handlers. Subrouters do not
// inherit them from their parent.
func withJSONFallbacks(r *mux.Router) *mux.Router {
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

// guard authenticates the operator, checks the role and bounds the request
// with the configured timeout.
func (s *HTTPServer) guard(action rbac.Action, next operatorHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, ok := s.requireOperator(w, r)
		if !ok {
			return
		}
		if !rbac.Can(rbac.Normalize(op.Role), action) {
			s.forbid(w, r, op, action)
			return
		}
		if s.requestTimeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		next(w, r, op)
	})
}

func (s *HTTPServer) requireOperator(w http.ResponseWriter, r *http.Request) (auth.Operator, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Operator{}, false
	}
	op, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Operator{}, false
	}
	return op, true
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, op auth.Operator, action rbac.Action) {
	s.logger.Info("access denied",
		zap.String("request_id", requestID(r.Context())),
		zap.String("operator", op.ID),
		zap.String("role", op.Role),
		zap.String("action", string(action)),
	)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

// fail maps err onto the error envelope. Server-side failures are logged;
// client errors are not.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ping(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleReference(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	data, err := s.service.ReferenceData(r.Context(), op)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *HTTPServer) handleChecklistItems(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	items, err := s.service.ListActiveChecklistItems(r.Context(), op)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handlePilots(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	pilots, err := s.service.ListPilots(r.Context(), op)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": pilots})
}

func (s *HTTPServer) handleVehicles(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	vehicles, err := s.service.ListVehicles(r.Context(), op)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": vehicles})
}

func (s *HTTPServer) handleVehicleOdometer(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	vehicleID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	last, err := s.service.GetVehicleLastOdometer(r.Context(), op, vehicleID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicleId": vehicleID, "lastOdometer": last})
}

func (s *HTTPServer) handleFuelVouchers(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	vehicleID, err := queryInt64(r, "vehicleId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	vouchers, err := s.service.ListFuelVouchers(r.Context(), op, vehicleID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": vouchers})
}

func (s *HTTPServer) handlePeekSequence(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	documentType := mux.Vars(r)["documentType"]
	next, err := s.service.PeekNextSequence(r.Context(), op, documentType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documentType": strings.ToUpper(documentType), "next": next})
}

func (s *HTTPServer) handleCreateSheet(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	var body sheet.Header
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	detail, err := s.service.CreateDepartureSheet(r.Context(), op, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (s *HTTPServer) handleAddReview(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	sheetID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var body ReviewInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	review, err := s.service.AddChecklistReview(r.Context(), op, sheetID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

func (s *HTTPServer) handleUpdateSheet(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	sheetID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var body AmendmentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	updated, err := s.service.UpdateDepartureSheet(r.Context(), op, sheetID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleOdometerPhoto(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	sheetID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	upload, err := readUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer upload.close()
	updated, err := s.service.UploadOdometerPhoto(r.Context(), op, sheetID, upload.file, upload.size, upload.contentType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleListSheets(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	filter, err := parseSheetFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	items, err := s.service.ListDepartureSheets(r.Context(), op, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleSearchSheets(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	q := r.URL.Query()
	vehicleID, err := queryInt64(r, "vehicleId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	resp := s.service.SearchDepartureSheets(r.Context(), op, search.Query{
		Text:      strings.TrimSpace(q.Get("q")),
		Platform:  q.Get("platform"),
		VehicleID: vehicleID,
		Limit:     limit,
		Offset:    offset,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetSheet(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	sheetID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	detail, err := s.service.GetDepartureSheet(r.Context(), op, sheetID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *HTTPServer) handleExportSheet(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	sheetID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.ExportDepartureSheet(r.Context(), op, sheetID, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result)
}

func (s *HTTPServer) handleExportRegister(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	filter, err := parseSheetFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	result, err := s.service.ExportRegister(r.Context(), op, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result)
}

func (s *HTTPServer) handleOpenDraft(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	view, err := s.service.OpenDraft(r.Context(), op)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *HTTPServer) handleGetDraft(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	s.respondDraft(w, r)(s.service.GetDraft(r.Context(), op, mux.Vars(r)["draftId"]))
}

func (s *HTTPServer) handleCancelDraft(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	if err := s.service.CancelDraft(r.Context(), op, mux.Vars(r)["draftId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleDraftHeader(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	var patch sheet.HeaderPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	s.respondDraft(w, r)(s.service.UpdateDraftHeader(r.Context(), op, mux.Vars(r)["draftId"], patch))
}

func (s *HTTPServer) handleItemTransition(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	vars := mux.Vars(r)
	itemID, ok := pathInt64(w, r, "itemId")
	if !ok {
		return
	}
	if vars["action"] == "pass" {
		s.respondDraft(w, r)(s.service.PassItem(r.Context(), op, vars["draftId"], itemID))
		return
	}
	s.respondDraft(w, r)(s.service.UnpassItem(r.Context(), op, vars["draftId"], itemID))
}

func (s *HTTPServer) handleItemAnnotation(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	itemID, ok := pathInt64(w, r, "itemId")
	if !ok {
		return
	}
	var body struct {
		Annotation string `json:"annotation"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	s.respondDraft(w, r)(s.service.AnnotateItem(r.Context(), op, mux.Vars(r)["draftId"], itemID, body.Annotation))
}

func (s *HTTPServer) handleItemPhoto(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	itemID, ok := pathInt64(w, r, "itemId")
	if !ok {
		return
	}
	attached := r.Method == http.MethodPost
	s.respondDraft(w, r)(s.service.SetItemPhoto(r.Context(), op, mux.Vars(r)["draftId"], itemID, attached))
}

func (s *HTTPServer) handleAttachPhoto(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	upload, err := readUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer upload.close()
	s.respondDraft(w, r)(s.service.AttachRequiredPhoto(r.Context(), op, mux.Vars(r)["draftId"], upload.file, upload.size, upload.contentType))
}

func (s *HTTPServer) handleDetachPhoto(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	vars := mux.Vars(r)
	s.respondDraft(w, r)(s.service.DetachRequiredPhoto(r.Context(), op, vars["draftId"], vars["photoId"]))
}

func (s *HTTPServer) handleResetDraft(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	s.respondDraft(w, r)(s.service.ResetDraft(r.Context(), op, mux.Vars(r)["draftId"]))
}

func (s *HTTPServer) handleSubmitDraft(w http.ResponseWriter, r *http.Request, op auth.Operator) {
	result, err := s.service.SubmitDraft(r.Context(), op, mux.Vars(r)["draftId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// respondDraft writes the outcome of a draft operation.
func (s *HTTPServer) respondDraft(w http.ResponseWriter, r *http.Request) func(DraftView, error) {
	return func(view DraftView, err error) {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
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

func writeFile(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
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

func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	value, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || value <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", fmt.Sprintf("%s must be a positive integer", name), nil)
		return 0, false
	}
	return value, true
}

func queryInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return value, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid time %q", raw)
}

func parseSheetFilter(r *http.Request) (store.SheetFilter, error) {
	q := r.URL.Query()
	var (
		filter store.SheetFilter
		err    error
	)
	if filter.VehicleID, err = queryInt64(r, "vehicleId"); err != nil {
		return filter, err
	}
	if filter.PilotID, err = queryInt64(r, "pilotId"); err != nil {
		return filter, err
	}
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		return filter, err
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		return filter, err
	}
	filter.Platform = q.Get("platform")
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	return filter, nil
}
