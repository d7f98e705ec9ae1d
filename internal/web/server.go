package web

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/ops"
)

// NewServer creates and configures the HTTP server for the Strata JSON API.
func NewServer(env *ops.Env, bind string, port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           NewHandler(env),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewHandler returns the routed API handler.
func NewHandler(env *ops.Env) http.Handler {
	h := &Handlers{env: env}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /documents", h.HandleCreateDocument)
	mux.HandleFunc("GET /documents", h.HandleListDocuments)
	mux.HandleFunc("GET /documents/by-path", h.HandleDocumentByPath)
	mux.HandleFunc("GET /documents/{id}", h.HandleGetDocument)
	mux.HandleFunc("DELETE /documents/{id}", h.HandleDeleteDocument)
	mux.HandleFunc("GET /documents/{id}/html", h.HandleRenderDocument)
	mux.HandleFunc("GET /documents/{id}/versions", h.HandleListVersions)
	mux.HandleFunc("POST /documents/{id}/extract", h.HandleExtractModules)
	mux.HandleFunc("POST /documents/{id}/revisions", h.HandleCreateRevision)
	mux.HandleFunc("GET /documents/{id}/revisions", h.HandleListRevisions)

	mux.HandleFunc("GET /revisions/{id}", h.HandleGetRevision)
	mux.HandleFunc("GET /revisions/{id}/status", h.HandleGetRevisionStatus)
	mux.HandleFunc("GET /revisions/{id}/diff", h.HandleGetRevisionDiff)
	mux.HandleFunc("POST /revisions/{id}/propose", h.HandleProposeRevision)
	mux.HandleFunc("POST /revisions/{id}/approve", h.HandleApproveRevision)
	mux.HandleFunc("POST /revisions/{id}/reject", h.HandleRejectRevision)
	mux.HandleFunc("POST /revisions/{id}/rebase", h.HandleRebaseRevision)

	mux.HandleFunc("POST /modules", h.HandleCreateModule)
	mux.HandleFunc("GET /modules", h.HandleListModules)
	mux.HandleFunc("POST /modules/batch-ground", h.HandleBatchGround)
	mux.HandleFunc("GET /modules/{id}", h.HandleGetModule)
	mux.HandleFunc("PATCH /modules/{id}", h.HandleUpdateModule)
	mux.HandleFunc("POST /modules/{id}/ground", h.HandleGroundModule)
	mux.HandleFunc("POST /modules/{id}/unground", h.HandleUngroundModule)
	mux.HandleFunc("GET /modules/{id}/history", h.HandleModuleHistory)

	mux.HandleFunc("POST /conflicts/detect", h.HandleDetectConflicts)
	mux.HandleFunc("POST /conflicts/batch-resolve", h.HandleBatchResolve)
	mux.HandleFunc("GET /conflicts", h.HandleListConflicts)
	mux.HandleFunc("GET /conflicts/{id}", h.HandleGetConflict)
	mux.HandleFunc("GET /conflicts/{id}/suggestions", h.HandleSuggestResolution)
	mux.HandleFunc("POST /conflicts/{id}/acknowledge", h.HandleAcknowledgeConflict)
	mux.HandleFunc("POST /conflicts/{id}/ignore", h.HandleIgnoreConflict)
	mux.HandleFunc("POST /conflicts/{id}/resolve", h.HandleResolveConflict)

	mux.HandleFunc("GET /audit", h.HandleListAudit)

	return securityHeaders(requestLog(env.Log, mux))
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// requestLog logs one debug line per request.
func requestLog(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server, log *zap.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info("strata API listening", zap.String("addr", "http://"+srv.Addr))

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
