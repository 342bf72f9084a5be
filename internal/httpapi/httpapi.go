// Package httpapi is the optional HTTP surface over the orchestrator:
// project CRUD, state inspection, generate/resume/stop, and rollback.
// Grounded on the teacher's internal/server/server.go (a struct of
// long-lived deps wrapping an http.Server, with logging middleware and a
// statusWriter) and internal/server/endpoints/*.go (writeJSON/writeError,
// Go 1.22 "METHOD /path" mux routing, ErrorResponse), stdlib net/http
// only — matching the teacher's own choice of no router library.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/jamesenh/novelgen/internal/artifact"
	"github.com/jamesenh/novelgen/internal/concurrency"
	"github.com/jamesenh/novelgen/internal/domain"
	"github.com/jamesenh/novelgen/internal/errs"
	"github.com/jamesenh/novelgen/internal/orchestrator"
	"github.com/jamesenh/novelgen/internal/providers"
)

// Status is the lifecycle of the one generate/resume task a project may
// have in flight at a time, reported by GET .../generate/status.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Config holds everything a Server needs: where projects live on disk and
// the generation providers new orchestrators are built with.
type Config struct {
	// ProjectsRoot is the directory each project lives under as an
	// immediate subdirectory named after the project.
	ProjectsRoot string
	Generator    string
	Providers    providers.GenerationProviders
	AuditWorkers int
	Logger       *slog.Logger
	Host         string
	Port         string
}

// Server is the HTTP surface. One Server serves every project under
// ProjectsRoot; each project gets its own Orchestrator built on demand.
type Server struct {
	cfg        Config
	httpServer *http.Server
	logger     *slog.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

// task tracks one project's in-flight (or most recently finished)
// generate/resume invocation.
type task struct {
	id       string
	status   Status
	detail   string
	shutdown *concurrency.ShutdownFlag
}

// New builds a Server from cfg, wiring its routes onto a fresh
// http.ServeMux. It does not start listening; call Start for that.
func New(cfg Config) *Server {
	if cfg.Generator == "" {
		cfg.Generator = "novelgen"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	s := &Server{cfg: cfg, logger: cfg.Logger, tasks: make(map[string]*task)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /projects", s.handleListProjects)
	mux.HandleFunc("POST /projects", s.handleCreateProject)
	mux.HandleFunc("GET /projects/{name}", s.handleGetProject)
	mux.HandleFunc("DELETE /projects/{name}", s.handleDeleteProject)
	mux.HandleFunc("GET /projects/{name}/state", s.handleGetState)
	mux.HandleFunc("POST /projects/{name}/generate", s.handleGenerate(false))
	mux.HandleFunc("POST /projects/{name}/generate/resume", s.handleGenerate(true))
	mux.HandleFunc("POST /projects/{name}/generate/stop", s.handleStop)
	mux.HandleFunc("GET /projects/{name}/generate/status", s.handleGenerateStatus)
	mux.HandleFunc("POST /projects/{name}/rollback", s.handleRollback)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // a run can take a while; status polling is what clients use to avoid blocking
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Addr returns the server's configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("request",
			"method", r.Method, "path", r.URL.Path,
			"status", wrapped.status, "duration", time.Since(start).String())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error body every non-2xx response carries.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeErr maps a returned error onto a status code using the errs
// taxonomy: a UserError is the caller's fault (400), anything else is a
// server-side failure (500).
func writeErr(w http.ResponseWriter, err error) {
	var userErr *errs.UserError
	if errors.As(err, &userErr) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) store(name string) *artifact.Store {
	return artifact.New(filepath.Join(s.cfg.ProjectsRoot, name))
}

func (s *Server) orchestrator(name string, shutdown *concurrency.ShutdownFlag) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Config{
		ProjectRoot:  filepath.Join(s.cfg.ProjectsRoot, name),
		Generator:    s.cfg.Generator,
		Providers:    s.cfg.Providers,
		Shutdown:     shutdown,
		AuditWorkers: s.cfg.AuditWorkers,
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	names, err := artifact.ListProjects(s.cfg.ProjectsRoot)
	if err != nil {
		writeErr(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": names})
}

// CreateProjectRequest is the body of POST /projects.
type CreateProjectRequest struct {
	ProjectName string `json:"project_name"`
	Author      string `json:"author"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "project_name is required")
		return
	}
	store := s.store(req.ProjectName)
	if store.Exists() {
		writeError(w, http.StatusConflict, fmt.Sprintf("project %q already exists", req.ProjectName))
		return
	}
	if err := store.InitProject(req.ProjectName, req.Author, time.Now().UTC()); err != nil {
		writeErr(w, err)
		return
	}
	meta, err := store.ReadMeta()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	store := s.store(name)
	if !store.Exists() {
		writeError(w, http.StatusNotFound, fmt.Sprintf("project %q not found", name))
		return
	}
	meta, err := store.ReadMeta()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	store := s.store(name)
	if !store.Exists() {
		writeError(w, http.StatusNotFound, fmt.Sprintf("project %q not found", name))
		return
	}
	if err := store.Delete(); err != nil {
		writeErr(w, err)
		return
	}
	s.mu.Lock()
	delete(s.tasks, name)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	store := s.store(name)
	if !store.Exists() {
		writeError(w, http.StatusNotFound, fmt.Sprintf("project %q not found", name))
		return
	}
	state, err := s.orchestrator(name, nil).State(r.Context(), name)
	if err != nil {
		writeErr(w, err)
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("project %q has no checkpointed state yet", name))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GenerateRequest is the body of POST .../generate and .../generate/resume.
type GenerateRequest struct {
	NumChapters       int    `json:"num_chapters"`
	Prompt            string `json:"prompt"`
	Author            string `json:"author"`
	MaxRevisionRounds int    `json:"max_revision_rounds"`
	QABlockerMax      int    `json:"qa_blocker_max"`
	QAMajorMax        int    `json:"qa_major_max"`
}

func (req GenerateRequest) toRequirements(projectName string) domain.Requirements {
	r := domain.Requirements{
		ProjectName:       projectName,
		Author:            req.Author,
		NumChapters:       req.NumChapters,
		Prompt:            req.Prompt,
		MaxRevisionRounds: req.MaxRevisionRounds,
		QABlockerMax:      req.QABlockerMax,
		QAMajorMax:        req.QAMajorMax,
	}
	if r.NumChapters <= 0 {
		r.NumChapters = 1
	}
	if r.MaxRevisionRounds <= 0 {
		r.MaxRevisionRounds = 3
	}
	if r.QAMajorMax <= 0 {
		r.QAMajorMax = 3
	}
	return r
}

// handleGenerate returns the handler for either the fresh-run or resume
// route, distinguished only by which Orchestrator method it calls in the
// background goroutine.
func (s *Server) handleGenerate(resume bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		var req GenerateRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
				return
			}
		}

		s.mu.Lock()
		if existing, ok := s.tasks[name]; ok && existing.status == StatusRunning {
			s.mu.Unlock()
			writeError(w, http.StatusConflict, fmt.Sprintf("project %q already has a generation task running", name))
			return
		}
		shutdown := concurrency.NewShutdownFlag()
		t := &task{id: fmt.Sprintf("task_%s_%d", name, time.Now().UTC().UnixNano()), status: StatusRunning, shutdown: shutdown}
		s.tasks[name] = t
		s.mu.Unlock()

		go s.runGenerate(name, req, resume, t)

		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": t.id, "status": string(StatusRunning)})
	}
}

// runGenerate executes Run or Resume in the background, detached from the
// triggering request's context, and records the outcome on t.
func (s *Server) runGenerate(name string, req GenerateRequest, resume bool, t *task) {
	o := s.orchestrator(name, t.shutdown)
	reqs := req.toRequirements(name)

	var out *orchestrator.Outcome
	var err error
	if resume {
		out, err = o.Resume(context.Background(), reqs, time.Now().UTC())
	} else {
		out, err = o.Run(context.Background(), reqs, time.Now().UTC())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil:
		t.status = StatusFailed
		t.detail = err.Error()
	case out.Stopped:
		t.status = StatusStopped
	case out.HumanReviewNeeded:
		t.status = StatusCompleted
		t.detail = "needs human review"
	default:
		t.status = StatusCompleted
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.Lock()
	t, ok := s.tasks[name]
	if !ok || t.status != StatusRunning {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, fmt.Sprintf("project %q has no running generation task", name))
		return
	}
	t.shutdown.Trigger()
	s.mu.Unlock()
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": t.id, "status": string(StatusRunning)})
}

// GenerateStatusResponse is the body of GET .../generate/status.
type GenerateStatusResponse struct {
	Status Status `json:"status"`
	TaskID string `json:"task_id,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) handleGenerateStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, GenerateStatusResponse{Status: StatusIdle})
		return
	}
	writeJSON(w, http.StatusOK, GenerateStatusResponse{Status: t.status, TaskID: t.id, Detail: t.detail})
}

// RollbackRequest is the body of POST .../rollback. Step, when set, takes
// precedence; otherwise Chapter selects a chapter rollback, narrowed to a
// scene rollback when Scene is also set. The CLI's --step/--chapter/--scene
// flags follow the same precedence.
type RollbackRequest struct {
	Step    string `json:"step,omitempty"`
	Chapter int    `json:"chapter,omitempty"`
	Scene   int    `json:"scene,omitempty"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	store := s.store(name)
	if !store.Exists() {
		writeError(w, http.StatusNotFound, fmt.Sprintf("project %q not found", name))
		return
	}

	var req RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	s.mu.Lock()
	if t, ok := s.tasks[name]; ok && t.status == StatusRunning {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, fmt.Sprintf("project %q has a generation task running; stop it before rolling back", name))
		return
	}
	s.mu.Unlock()

	o := s.orchestrator(name, nil)

	var result *orchestrator.RollbackResult
	var err error
	switch {
	case req.Step != "":
		result, err = o.RollbackToStep(r.Context(), name, req.Step)
	case req.Chapter > 0 && req.Scene > 0:
		result, err = o.RollbackToScene(r.Context(), name, req.Chapter, req.Scene)
	case req.Chapter > 0:
		result, err = o.RollbackToChapter(r.Context(), name, req.Chapter)
	default:
		writeError(w, http.StatusBadRequest, "rollback requires either step or chapter")
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
