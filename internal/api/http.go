package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/miradorstack/mirador-triage/internal/config"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/report"
	"github.com/miradorstack/mirador-triage/internal/services"
	"github.com/miradorstack/mirador-triage/internal/tracker"
	"github.com/miradorstack/mirador-triage/internal/utils"
)

// HTTPServer serves the web interface.
type HTTPServer struct {
	cfg        config.HTTPConfig
	svc        Orchestrator
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server
}

// NewHTTPServer builds the router for svc.
func NewHTTPServer(cfg config.HTTPConfig, svc Orchestrator, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPServer{cfg: cfg, svc: svc, logger: logger}
	s.router = s.buildRouter()
	return s
}

func (s *HTTPServer) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/process_issue", s.handleProcessIssue)
	r.Post("/batch_process", s.handleBatchProcess)
	r.Get("/test_connection", s.handleTestConnection)
	r.Get("/config_status", s.handleConfigStatus)
	r.Post("/analyze", s.handleAnalyze)
	r.Get("/analyses/{id}", s.handleAnalysisPreview)

	return r
}

// Handler exposes the router.
func (s *HTTPServer) Handler() http.Handler { return s.router }

// Start listens on the configured address until Shutdown.
func (s *HTTPServer) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.logger.Info("http server listening", slog.String("address", s.cfg.Address))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the listener.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *HTTPServer) handleProcessIssue(w http.ResponseWriter, r *http.Request) {
	key := strings.ToUpper(strings.TrimSpace(r.FormValue("issue_key")))
	if key == "" {
		writeError(w, http.StatusBadRequest, "Issue key is required")
		return
	}
	if !tracker.ValidKey(key) {
		writeError(w, http.StatusBadRequest, "Invalid issue key "+key)
		return
	}

	threshold, err := formThreshold(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.svc.ProcessIssue(r.Context(), key, threshold)
	if err != nil {
		s.logger.Warn("process issue failed", slog.String("issue", key), slog.Any("error", err))
		writeError(w, httpStatus(err), err.Error())
		return
	}

	message := "Issue processed successfully"
	if !result.Success {
		message = "Issue not updated: " + result.Reason
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     result.Success,
		"issue_key":   result.IssueKey,
		"message":     message,
		"analysis_id": result.AnalysisID,
	})
}

func (s *HTTPServer) handleBatchProcess(w http.ResponseWriter, r *http.Request) {
	text := r.FormValue("issue_keys")
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "Issue keys are required")
		return
	}
	keys := tracker.ParseKeys(text)
	if len(keys) == 0 {
		writeError(w, http.StatusBadRequest, "No valid issue keys found")
		return
	}

	threshold, err := formThreshold(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.svc.BatchProcess(r.Context(), keys, threshold)
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":         result.Results,
		"total_processed": result.Total,
		"successful":      result.Successful,
		"failed":          result.Failed,
	})
}

func (s *HTTPServer) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.CheckTracker(r.Context())
	if err != nil {
		status := httpStatus(err)
		if status == http.StatusBadRequest {
			writeError(w, status, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Jira connection failed: "+err.Error())
		return
	}
	title := info.ServerTitle
	if title == "" {
		title = "Unknown"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"connection": "ok",
		"message":    "Jira connection successful - Server: " + title,
	})
}

func (s *HTTPServer) handleConfigStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status(r.Context()))
}

func (s *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	threshold, err := thresholdOrDefault(req.Threshold)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	analysis, err := s.svc.Analyze(r.Context(), req.Text, threshold, req.Limit)
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stripEmbeddings(analysis))
}

func (s *HTTPServer) handleAnalysisPreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	analysis, ok := s.svc.Recent(id)
	if !ok {
		http.Error(w, "analysis not found", http.StatusNotFound)
		return
	}
	page, err := report.HTML(analysis.Report)
	if err != nil {
		s.logger.Error("render report", slog.String("id", id), slog.Any("error", err))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

// formThreshold reads the optional threshold form value; unparsable values select the default.
func formThreshold(r *http.Request) (float64, error) {
	raw := strings.TrimSpace(r.FormValue("threshold"))
	if raw == "" {
		return services.UseDefaultThreshold, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return services.UseDefaultThreshold, nil
	}
	return thresholdOrDefault(&v)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, utils.ErrValidation), errors.Is(err, utils.ErrNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, utils.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, utils.ErrEmbedding), errors.Is(err, utils.ErrStoreQuery):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
