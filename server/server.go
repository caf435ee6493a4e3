// Package server exposes the HTTP API used by the Reconic frontend: projects,
// drafts, YouTube account and search, AI assistance and publishing. It
// includes permissive CORS for development and injects correlation IDs into
// request contexts for consistent logging.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reconic/backend/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// The provided context is used for rate limiter cleanup goroutines lifecycle.
func NewMux(ctx context.Context, d Deps) http.Handler {
	authCfg := loadAuthConfig()
	corsCfg := loadCORSConfig(d.Config)
	limiter := newUserRateLimiter(ctx, loadRateLimiterConfig(d.Config))

	h := NewHandlers(d)
	mux := http.NewServeMux()

	// user wraps a route with session auth; aiRoute adds the per-user AI limiter.
	user := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, d.Signer.Require(fn))
	}
	aiRoute := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, d.Signer.Require(rateLimitMiddleware(fn, limiter)))
	}
	admin := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, adminAuth(fn, authCfg))
	}

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.HandleFunc("GET /status", h.HandleStatus)

	// YouTube account
	user("GET /api/youtube/connect", h.HandleYouTubeConnect)
	mux.HandleFunc("GET /api/youtube/callback", h.HandleYouTubeCallback)
	user("POST /api/youtube/refresh-token", h.HandleRefreshToken)
	user("GET /api/youtube/account", h.HandleGetAccount)
	user("DELETE /api/youtube/account/{channelId}", h.HandleDeleteAccount)

	// YouTube data
	user("GET /api/youtube/search", h.HandleSearch)
	user("GET /api/youtube/channel-videos", h.HandleChannelVideos)
	aiRoute("POST /api/youtube/analyze-channel", h.HandleAnalyzeChannel)

	// AI
	aiRoute("POST /api/ai/parse-project", h.HandleParseProject)
	aiRoute("POST /api/ai/suggestions", h.HandleSuggestions)

	// Projects
	user("GET /api/projects", h.HandleListProjects)
	user("POST /api/projects", h.HandleCreateProject)
	user("GET /api/projects/{id}", h.HandleGetProject)
	user("PATCH /api/projects/{id}", h.HandlePatchProject)
	user("DELETE /api/projects/{id}", h.HandleDeleteProject)
	user("GET /api/projects/{id}/inspirations", h.HandleListInspirations)
	user("POST /api/projects/{id}/inspirations", h.HandleSaveInspiration)
	user("DELETE /api/projects/{id}/inspirations", h.HandleRemoveInspiration)
	user("GET /api/projects/{id}/thumbnail", h.HandleGetThumbnail)
	user("PUT /api/projects/{id}/thumbnail", h.HandlePutThumbnail)
	user("DELETE /api/projects/{id}/thumbnail", h.HandleDeleteThumbnail)
	user("GET /api/projects/{id}/drafts/{field}", h.HandleGetDraft)
	user("PUT /api/projects/{id}/drafts/{field}", h.HandlePutDraft)
	user("GET /api/projects/{id}/script", h.HandleGetScript)
	user("POST /api/projects/{id}/script/template", h.HandleApplyScriptTemplate)
	user("GET /api/projects/{id}/production", h.HandleGetProduction)
	user("POST /api/projects/{id}/broll/{hash}/toggle", h.HandleToggleBroll)
	user("POST /api/projects/{id}/phase", h.HandleSetPhase)

	// Publishing
	user("POST /api/projects/{id}/publish", h.HandlePublish)
	user("GET /api/uploads/{id}", h.HandleUploadStatus)

	// Favorited channels
	user("GET /api/channels/favorited", h.HandleListFavorites)
	user("POST /api/channels/favorited", h.HandleSaveFavorite)
	user("DELETE /api/channels/favorited", h.HandleRemoveFavorite)

	// Admin
	admin("GET /admin/monitor", h.HandleAdminMonitor)
	admin("POST /admin/uploads/resume", h.HandleAdminResumeUploads)
	admin("POST /admin/autosave/flush", h.HandleAdminFlushAutosave)

	// Wrap with correlation ID injector, tracing and request metrics.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		req := r.WithContext(ctx)
		mux.ServeHTTP(rec, req)

		// ServeMux records the matched pattern on the request it dispatched.
		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		span.SetAttributes(telemetry.HTTPRouteAttr(route))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
		telemetry.RecordHTTP(r.Method, route, rec.statusCode, time.Since(start))
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	if !r.wroteHeader {
		r.statusCode = statusCode
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, handler http.Handler, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: AI suggestions stream and publish bodies can be long.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
