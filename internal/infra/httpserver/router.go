package httpserver

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	appscans "github.com/bryanwahyu/automaton-fix/internal/application/scans"
	"github.com/bryanwahyu/automaton-fix/internal/domain/findings"
	"github.com/bryanwahyu/automaton-fix/internal/domain/patches"
	"github.com/bryanwahyu/automaton-fix/internal/infra/diff"
	"github.com/bryanwahyu/automaton-fix/internal/middleware"
)

// DiffReader reads a stored diff artifact by name.
type DiffReader interface {
	Read(name string) ([]byte, error)
}

// Deps is everything the status API serves from. Nil Attempts, Diffs or
// Metrics disable the matching routes.
type Deps struct {
	Findings *appscans.Service
	Attempts patches.AttemptRepository
	Diffs    DiffReader
	Metrics  *middleware.Metrics
	Health   map[string]middleware.HealthChecker

	APIKeys        map[string]string
	Limiter        *middleware.RateLimiter
	AllowedOrigins []string
}

type Router struct {
	deps Deps
	diff *diff.Engine
}

func NewRouter(d Deps) http.Handler {
	r := &Router{deps: d, diff: diff.NewEngine()}
	mux := chi.NewRouter()

	mux.Use(middleware.LoggingMiddleware)
	if d.Metrics != nil {
		mux.Use(d.Metrics.Middleware)
	}
	if len(d.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "X-API-Key", "Accept"},
			MaxAge:         300,
		}))
	}
	mux.Use(middleware.APIKeyAuth(d.APIKeys))
	if d.Limiter != nil {
		mux.Use(middleware.RateLimitMiddleware(d.Limiter))
	}

	mux.Get("/health", middleware.HealthHandler(d.Health))
	mux.Get("/healthz", middleware.LivenessHandler)
	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics.Handler())
	}

	mux.Route("/v1", func(rt chi.Router) {
		rt.Get("/findings", r.wrap(r.handleFindings))
		rt.Get("/findings/{id}", r.wrap(r.handleFinding))
		rt.Get("/summary", r.wrap(r.handleSummary))
		rt.Get("/attempts", r.wrap(r.handleAttempts))
		rt.Get("/patches/{name}", r.wrap(r.handlePatch))
	})

	return mux
}

// badRequest marks an error as the client's fault.
type badRequest struct{ error }

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var br badRequest
		switch {
		case errors.As(err, &br):
			http.Error(w, br.Error(), http.StatusBadRequest)
		case errors.Is(err, appscans.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, errDisabled):
			http.Error(w, "not found", http.StatusNotFound)
		default:
			log.Error().Err(err).Str("path", req.URL.Path).Msg("request failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}

var errDisabled = errors.New("route disabled")

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// GET /v1/findings?file=&name=
func (r *Router) handleFindings(w http.ResponseWriter, req *http.Request) error {
	file := req.URL.Query().Get("file")
	if err := middleware.ValidateRelativePath(file); err != nil {
		return badRequest{err}
	}
	name := middleware.SanitizeString(req.URL.Query().Get("name"))

	list, err := r.deps.Findings.List(req.Context())
	if err != nil {
		return err
	}
	out := make([]findings.Finding, 0, len(list))
	for _, f := range list {
		if file != "" && !f.InFile(file) {
			continue
		}
		if name != "" && !strings.EqualFold(f.Name, name) {
			continue
		}
		out = append(out, f)
	}
	return writeJSON(w, out)
}

// GET /v1/findings/{id}
func (r *Router) handleFinding(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateFindingID(id); err != nil {
		return badRequest{err}
	}
	list, err := r.deps.Findings.Get(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/summary
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	list, err := r.deps.Findings.List(req.Context())
	if err != nil {
		return err
	}
	sum := appscans.Summarize(list)
	return writeJSON(w, map[string]any{
		"findings":  sum.Findings,
		"locations": sum.Locations,
		"patches":   findings.CountPatches(list),
		"by_name":   sum.ByName,
	})
}

// GET /v1/attempts?run=&finding=&limit=
func (r *Router) handleAttempts(w http.ResponseWriter, req *http.Request) error {
	if r.deps.Attempts == nil {
		return errDisabled
	}
	q := req.URL.Query()
	run := q.Get("run")
	if err := middleware.ValidateRunID(run); err != nil {
		return badRequest{err}
	}
	finding := q.Get("finding")
	if finding != "" {
		if err := middleware.ValidateFindingID(finding); err != nil {
			return badRequest{err}
		}
	}
	limit, err := middleware.ParseLimit(q.Get("limit"))
	if err != nil {
		return badRequest{err}
	}

	list, err := r.deps.Attempts.List(req.Context(), patches.AttemptFilter{RunID: run, FindingID: finding, Limit: limit})
	if err != nil {
		return err
	}
	if list == nil {
		list = []*patches.AttemptRecord{}
	}
	return writeJSON(w, list)
}

type patchView struct {
	Name    string   `json:"name"`
	Files   []string `json:"files"`
	Added   int      `json:"added"`
	Deleted int      `json:"deleted"`
	Diff    string   `json:"diff"`
}

// GET /v1/patches/{name}
// Raw diff text with Accept: text/x-diff, JSON otherwise.
func (r *Router) handlePatch(w http.ResponseWriter, req *http.Request) error {
	if r.deps.Diffs == nil {
		return errDisabled
	}
	name := chi.URLParam(req, "name")
	if err := middleware.ValidateDiffName(name); err != nil {
		return badRequest{err}
	}
	data, err := r.deps.Diffs.Read(name)
	if err != nil {
		return err
	}

	if strings.Contains(req.Header.Get("Accept"), "text/x-diff") {
		w.Header().Set("Content-Type", "text/x-diff; charset=utf-8")
		_, err := w.Write(data)
		return err
	}

	files, err := diff.Files(data)
	if err != nil {
		return err
	}
	added, deleted, err := r.diff.Stat(string(data))
	if err != nil {
		return err
	}
	return writeJSON(w, patchView{Name: name, Files: files, Added: added, Deleted: deleted, Diff: string(data)})
}
