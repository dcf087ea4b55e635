// Package process implements the client-facing HTTP service: pipeline
// submission, response polling, and the health and version probes.
package process

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/earth2dfm/dfm/api"
	"github.com/earth2dfm/dfm/bus"
	"github.com/earth2dfm/dfm/config"
	"github.com/earth2dfm/dfm/store"
	"github.com/earth2dfm/dfm/telemetry"
)

// maxProcessBody caps the accepted size of a submitted pipeline document.
const maxProcessBody = 8 << 20

type (
	// Options configures the process service.
	Options struct {
		// Site is the home site name stamped into submitted jobs. Required.
		Site string
		// Store is the keyed state store. Required.
		Store store.Store
		// Bus is the coordination bus. Required.
		Bus bus.Bus
		// AuthMethod selects request authentication. Defaults to none.
		AuthMethod string
		// AuthAPIKey is the shared key for the api_key method.
		AuthAPIKey string
		// Version and Name are reported by the version probe.
		Version string
		Name    string
		// Logger receives request diagnostics. Defaults to no-op.
		Logger telemetry.Logger
	}

	// Service is the client-facing HTTP front end.
	Service struct {
		site    string
		store   store.Store
		bus     bus.Bus
		auth    string
		apiKey  string
		version string
		name    string
		log     telemetry.Logger
	}
)

// New validates the options and builds the service.
func New(opts Options) (*Service, error) {
	if opts.Site == "" {
		return nil, errors.New("site name is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("bus is required")
	}
	method := opts.AuthMethod
	if method == "" {
		method = config.AuthNone
	}
	switch method {
	case config.AuthNone:
	case config.AuthAPIKey:
		if len(opts.AuthAPIKey) < 32 {
			return nil, errors.New("api_key auth requires a key of at least 32 characters")
		}
	default:
		return nil, errors.New("unknown auth method " + method)
	}
	return &Service{
		site:    opts.Site,
		store:   opts.Store,
		bus:     opts.Bus,
		auth:    method,
		apiKey:  opts.AuthAPIKey,
		version: opts.Version,
		name:    opts.Name,
		log:     telemetry.Or(opts.Logger),
	}, nil
}

// Handler returns the HTTP routing tree.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", s.handleStatus)
	r.Get("/version", s.handleVersion)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/process", s.handleProcess)
		r.Get("/request/responses/{id}", s.handleResponses)
	})
	return r
}

// authenticate enforces the configured auth method.
func (s *Service) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == config.AuthAPIKey && r.Header.Get(config.AuthHeader) != s.apiKey {
			writeError(w, http.StatusForbidden, "invalid or missing credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (s *Service) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version, "name": s.name})
}

// handleProcess accepts a pipeline document, persists the request state, and
// publishes the job. mode=discovery keeps advise markers and runs the
// discovery path instead of execution.
func (s *Service) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "execute"
	}
	if mode != "execute" && mode != "discovery" {
		writeError(w, http.StatusUnprocessableEntity, "mode must be execute or discovery")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxProcessBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body")
		return
	}
	p, err := api.DecodeProcess(raw, mode == "discovery")
	if err != nil {
		// Malformed pipeline documents are unprocessable, not merely bad
		// syntax: the body parsed but violates the document invariants.
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	id := uuid.New()
	state := &api.RequestState{RequestID: id, Body: p, Responses: []*api.Response{}}
	if err := s.store.CreateRequest(ctx, state); err != nil {
		s.log.Error(ctx, "persist request", "request_id", id.String(), "err", err.Error())
		writeError(w, http.StatusInternalServerError, "persist request")
		return
	}

	job := api.Job{
		HomeSite:    s.site,
		RequestID:   id,
		Deadline:    p.Deadline,
		IsDiscovery: mode == "discovery",
		Execute:     p.Execute,
	}
	// Only a deadline still in the future needs the scheduler; a past one
	// is already due.
	channel := bus.ExecuteChannel
	if p.Deadline != nil && p.Deadline.After(time.Now().UTC()) {
		channel = bus.SchedulerChannel
	}
	if err := bus.PublishJSON(ctx, s.bus, channel, job); err != nil {
		s.log.Error(ctx, "publish job", "request_id", id.String(), "err", err.Error())
		writeError(w, http.StatusInternalServerError, "publish job")
		return
	}
	s.log.Info(ctx, "accepted process", "request_id", id.String(), "mode", mode)
	writeJSON(w, http.StatusOK, map[string]string{"request_id": id.String()})
}

// handleResponses returns the [index, index+size) window of a request's
// responses. An empty window on a known request is 204.
func (s *Service) handleResponses(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		// An unparsable identifier cannot name any request.
		writeError(w, http.StatusNotFound, "unknown request "+raw)
		return
	}
	index := queryInt(r, "index", 0)
	size := queryInt(r, "size", 0)
	responses, err := s.store.Responses(r.Context(), id, index, size)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown request "+id.String())
		return
	case err != nil:
		s.log.Error(r.Context(), "read responses", "request_id", id.String(), "err", err.Error())
		writeError(w, http.StatusInternalServerError, "read responses: "+err.Error())
		return
	}
	if len(responses) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, responses)
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"http_status_code": status,
		"message":          message,
	})
}
