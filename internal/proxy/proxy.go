// Package proxy forwards requests the gateway does not handle natively to
// the upstream backend process.
package proxy

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// upstreamUnavailableBody is the fixed response for any upstream failure.
// Callers get a machine-readable signal instead of a hung connection.
const upstreamUnavailableBody = `{"error":"upstream unavailable"}`

// Router is an http.Handler that transparently forwards requests to a
// single upstream base URL, preserving method, headers, body, and status.
type Router struct {
	upstream *url.URL
	rp       *httputil.ReverseProxy
	logger   *slog.Logger
}

// New builds a Router for the given upstream base URL.
func New(upstream string, logger *slog.Logger) (*Router, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream URL %q: %w", upstream, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream URL %q must be absolute", upstream)
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{upstream: u, logger: logger}
	rp := httputil.NewSingleHostReverseProxy(u)
	rp.ErrorHandler = r.handleUpstreamError
	r.rp = rp
	return r, nil
}

// Upstream returns the configured upstream base URL.
func (r *Router) Upstream() string { return r.upstream.String() }

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.rp.ServeHTTP(w, req)
}

// handleUpstreamError converts connection-level proxy failures into a
// structured 502 so a dead backend never takes the gateway down with it.
func (r *Router) handleUpstreamError(w http.ResponseWriter, req *http.Request, err error) {
	r.logger.Error("upstream request failed",
		"method", req.Method,
		"path", req.URL.Path,
		"upstream", r.upstream.Host,
		"error", err,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	w.Write([]byte(upstreamUnavailableBody))
}
