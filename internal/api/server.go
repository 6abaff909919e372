package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"tailscale.com/tsweb"

	"github.com/banshee-data/genlab/internal/comfy"
	"github.com/banshee-data/genlab/internal/genlab"
	"github.com/banshee-data/genlab/internal/httputil"
	"github.com/banshee-data/genlab/internal/monitoring"
	"github.com/banshee-data/genlab/internal/store"
	"github.com/banshee-data/genlab/internal/version"
)

var logf = monitoring.Component("api")

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes the panel, the live graph and the run history over HTTP.
type Server struct {
	panel *genlab.Panel
	ws    *comfy.Workspace
	runs  *store.RunStore
}

// NewServer creates a server. runs may be nil, in which case the run history
// endpoints answer 503.
func NewServer(panel *genlab.Panel, ws *comfy.Workspace, runs *store.RunStore) *Server {
	return &Server{
		panel: panel,
		ws:    ws,
		runs:  runs,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// Router returns the API routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/genlab", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/restore", s.handleRestore)
		r.Post("/next", s.handleNext)
		r.Post("/previous", s.handlePrevious)
		r.Post("/close", s.handleClose)
		r.Post("/params/{name}/toggle", s.handleToggleParam)

		r.Route("/nodes/{nodeID}", func(r chi.Router) {
			r.Delete("/", s.handleCloseNode)
			r.Route("/params/{param}", func(r chi.Router) {
				r.Put("/values", s.handleSetValues)
				r.Put("/range", s.handleSetRange)
				r.Post("/toggle", s.handleToggleValue)
				r.Post("/select-all", s.handleSelectAll)
				r.Post("/texts", s.handleAddText)
				r.Put("/texts/{index}", s.handleSetText)
				r.Delete("/texts/{index}", s.handleRemoveText)
				r.Post("/variants", s.handleGenerateVariants)
				r.Post("/variants/apply", s.handleApplyVariants)
			})
		})

		r.Post("/start", s.handleStart)
		r.Post("/cancel", s.handleCancel)
		r.Post("/results/select", s.handleSelectResult)
		r.Post("/results/apply", s.handleApplyResult)
	})

	r.Get("/api/graph", s.handleGetGraph)
	r.Put("/api/graph", s.handlePutGraph)
	r.Put("/api/graph/selection", s.handlePutSelection)

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, version.Get())
	})
	r.Get("/api/runs", s.handleListRuns)
	r.Get("/api/runs/{runID}", s.handleGetRun)
	return r
}

// Handler returns the full service handler: the API routes plus the debug
// pages under /debug/. db may be nil to skip the database admin pages.
func (s *Server) Handler(db *store.DB) (http.Handler, error) {
	mux := http.NewServeMux()
	mux.Handle("/api/", s.Router())

	debug := tsweb.Debugger(mux)
	debug.Handle("genlab/progress", "Sweep job progress chart", http.HandlerFunc(s.handleProgressChart))
	if db != nil {
		if err := db.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return LoggingMiddleware(mux), nil
}

// writeError maps panel errors to status codes. The body is always
// {"error": msg}.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, genlab.ErrAssistantUnavailable):
		httputil.ServiceUnavailable(w, err.Error())
	case errors.Is(err, genlab.ErrVariantGeneration):
		httputil.WriteJSONError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, genlab.ErrWrongScreen), genlab.IsUserFacing(err):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, genlab.ErrUnknownNode), errors.Is(err, genlab.ErrUnknownParam):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, genlab.ErrWrongKind), errors.Is(err, genlab.ErrOutOfRange), errors.Is(err, genlab.ErrNoVariants):
		httputil.BadRequest(w, err.Error())
	default:
		logf("request failed: %v", err)
		httputil.InternalServerError(w, err.Error())
	}
}
