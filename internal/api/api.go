// Package api implements the thin REST handler layer named in §6: POST
// /start registers a build, GET /status reports its progress. Routing
// uses go-chi/chi, the router the wider example pack reaches for
// (google-skia-buildbot, jordigilh-kubernaut); the handlers themselves
// stay a thin pass-through to internal/orchestrator and
// internal/ledgerstore, matching §6's "thin handler layer" framing.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/brazildatacube/cubebuilder/internal/ledgerstore"
	"github.com/brazildatacube/cubebuilder/internal/orchestrator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Server hosts the /start and /status endpoints.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	store        ledgerstore.Store
	logger       *logrus.Logger
	router       chi.Router
}

func NewServer(orc *orchestrator.Orchestrator, store ledgerstore.Store, logger *logrus.Logger) *Server {
	s := &Server{orchestrator: orc, store: store, logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Post("/start", s.handleStart)
	r.Get("/status", s.handleStatus)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Info("request")
		})
	}
}

// startRequest mirrors §6's BuildRequest wire shape.
type startRequest struct {
	Datacube    string   `json:"datacube"`
	Tiles       []string `json:"tiles"`
	Collections string   `json:"collections"`
	Satellite   string   `json:"satellite"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Force       bool     `json:"force"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errorsx.New(errorsx.Validation, "malformed request body: %v", err))
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, errorsx.New(errorsx.Validation, "invalid start_date %q: %v", req.StartDate, err))
		return
	}
	end := time.Now().UTC()
	if req.EndDate != "" {
		end, err = time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			writeError(w, errorsx.New(errorsx.Validation, "invalid end_date %q: %v", req.EndDate, err))
			return
		}
	}

	buildReq := orchestrator.BuildRequest{
		DatacubeID:  req.Datacube,
		TileIDs:     req.Tiles,
		Collections: splitCollections(req.Collections),
		Satellite:   req.Satellite,
		StartDate:   start,
		EndDate:     end,
		Force:       req.Force,
	}

	result, err := s.orchestrator.Plan(r.Context(), buildReq)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

func splitCollections(csv string) []string {
	var out []string
	for _, c := range strings.Split(csv, ",") {
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// statusResponse mirrors §6's two status shapes, collapsed into one
// struct with omitempty so an unfinished build doesn't carry zero-value
// finished-only fields.
type statusResponse struct {
	Finished bool       `json:"finished"`
	Done     int        `json:"done"`
	NotDone  int        `json:"not_done,omitempty"`
	Error    int        `json:"error"`
	Start    *time.Time `json:"start_date,omitempty"`
	Last     *time.Time `json:"last_date,omitempty"`
	Duration string     `json:"duration,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	datacube := r.URL.Query().Get("datacube")
	if datacube == "" {
		writeError(w, errorsx.New(errorsx.Validation, "missing required query parameter: datacube"))
		return
	}

	status, err := s.store.BuildStatus(r.Context(), datacube)
	if err != nil {
		writeError(w, errorsx.Wrap(errorsx.NotFound, err, "datacube %s", datacube))
		return
	}

	resp := statusResponse{
		Finished: status.Finished(),
		Done:     status.Done,
		NotDone:  status.NotDone,
		Error:    status.Error,
	}
	if resp.Finished {
		resp.Start = status.StartTS
		resp.Last = status.LastTS
		resp.Duration = status.Duration().String()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError maps the errorsx taxonomy onto HTTP status codes per §7:
// Validation -> 400, NotFound -> 404, Conflict -> 409, everything else
// (Transient/DataError/Fatal surfacing through the API layer is already
// a bug in the caller) -> 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errorsx.TypeOf(err) {
	case errorsx.Validation:
		status = http.StatusBadRequest
	case errorsx.NotFound:
		status = http.StatusNotFound
	case errorsx.Conflict:
		status = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
