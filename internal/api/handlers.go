// Package api assembles the gateway's HTTP surface: native session, job,
// and diagram-render routes first, then an explicit catch-all that either
// proxies to the embedded backend or answers 404 in standalone mode.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pylonhq/pylon/internal/job"
	"github.com/pylonhq/pylon/internal/render"
	"github.com/pylonhq/pylon/internal/session"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps carries the stores and collaborators handlers close over. The
// gateway injects them explicitly; nothing here is ambient state.
type Deps struct {
	Sessions *session.Store
	Jobs     *job.Store
	Render   *render.Index
	Fallback http.Handler // catch-all: reverse proxy or standalone 404
	Logger   *slog.Logger
}

// NewHandler builds the full route table. Native routes are registered
// before the NotFound catch-all, so registration order is the match order.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Fallback == nil {
		deps.Fallback = StandaloneFallback()
	}

	r := chi.NewRouter()
	r.Use(Metrics)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/mcp", NewMCPHTTPHandler(deps))

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Post("/sessions/{id}/messages", handleAppendMessage(deps))
		r.Post("/sessions/{id}/diagrams", handleAppendDiagram(deps))
		r.Post("/sessions/{id}/plans", handleAppendPlan(deps))
		r.Post("/sessions/{id}/ingest", handleSessionIngest(deps))
		r.Put("/sessions/{id}/ingest", handleSessionIngest(deps))
		r.Post("/ingest", handleIngest(deps))
		r.Get("/ingest/{id}", handleGetJob(deps))
		r.Get("/diagram/render", handleRenderDiagram(deps))
	})

	// Everything unmatched flows to the fallback, method included: the
	// upstream owns routes this gateway has never heard of.
	r.NotFound(deps.Fallback.ServeHTTP)
	r.MethodNotAllowed(deps.Fallback.ServeHTTP)

	return r
}

// StandaloneFallback answers unmatched routes when there is no upstream
// to forward to.
func StandaloneFallback() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "not found")
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := deps.Sessions.Create()
		deps.Logger.Info("session created", "session_id", sess.ID)
		writeJSON(w, http.StatusOK, map[string]string{"session_id": sess.ID})
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sess, ok := deps.Sessions.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

type appendMessageRequest struct {
	Content string `json:"content"`
}

func handleAppendMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req appendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "content is required")
			return
		}

		msg, err := deps.Sessions.AppendMessage(chi.URLParam(r, "id"), req.Content)
		if errors.Is(err, session.ErrNotFound) {
			httpError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "appending message: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	}
}

func handleAppendDiagram(deps Deps) http.HandlerFunc {
	return handleAppendRecord(deps, deps.Sessions.AppendDiagram)
}

func handleAppendPlan(deps Deps) http.HandlerFunc {
	return handleAppendRecord(deps, deps.Sessions.AppendPlan)
}

func handleAppendRecord(deps Deps, attach func(string, session.Record) (session.Record, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var rec session.Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		stored, err := attach(chi.URLParam(r, "id"), rec)
		if errors.Is(err, session.ErrNotFound) {
			httpError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "appending record: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stored)
	}
}

type ingestRequest struct {
	RepoURL   string `json:"repo_url"`
	Commit    string `json:"commit"`
	SessionID string `json:"session_id"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeIngest(w, r)
		if !ok {
			return
		}
		submitIngest(deps, w, req)
	}
}

// handleSessionIngest is the session-scoped submit variant: the session id
// comes from the path and overrides anything in the body.
func handleSessionIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeIngest(w, r)
		if !ok {
			return
		}
		req.SessionID = chi.URLParam(r, "id")
		if _, found := deps.Sessions.Get(req.SessionID); !found {
			httpError(w, http.StatusNotFound, "session not found")
			return
		}
		submitIngest(deps, w, req)
	}
}

func decodeIngest(w http.ResponseWriter, r *http.Request) (ingestRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return ingestRequest{}, false
	}
	if req.RepoURL == "" {
		httpError(w, http.StatusBadRequest, "repo_url is required")
		return ingestRequest{}, false
	}
	return req, true
}

func submitIngest(deps Deps, w http.ResponseWriter, req ingestRequest) {
	j := deps.Jobs.Submit(job.Payload{
		RepoURL:   req.RepoURL,
		Commit:    req.Commit,
		SessionID: req.SessionID,
	})
	deps.Logger.Info("ingest job queued", "job_id", j.ID, "repo", req.RepoURL, "session_id", req.SessionID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": j.ID,
		"status": string(j.Status),
	})
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, ok := deps.Jobs.Get(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, j)
	}
}

// handleRenderDiagram serves a previously rendered SVG or a deterministic
// placeholder. The only error it ever produces is a missing image_id.
func handleRenderDiagram(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		imageID := r.URL.Query().Get("image_id")
		if imageID == "" {
			httpError(w, http.StatusBadRequest, "image_id is required")
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		if path, ok := deps.Render.Lookup(imageID); ok {
			data, err := os.ReadFile(path)
			if err == nil {
				w.Write(data)
				return
			}
			deps.Logger.Warn("reading rendered SVG failed, serving placeholder", "path", path, "error", err)
		}
		w.Write(render.Placeholder(imageID))
	}
}
