package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewRejectsBadURL(t *testing.T) {
	tests := []struct {
		name     string
		upstream string
	}{
		{"relative", "localhost:8000"},
		{"empty", ""},
		{"garbage", "://nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.upstream, nil); err == nil {
				t.Errorf("New(%q) succeeded, want error", tt.upstream)
			}
		})
	}
}

func TestForwardPreservesRequestAndResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPost {
			t.Errorf("upstream saw method %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/generate" {
			t.Errorf("upstream saw path %s, want /api/generate", r.URL.Path)
		}
		if got := r.Header.Get("X-Request-Source"); got != "test" {
			t.Errorf("upstream saw X-Request-Source %q, want test", got)
		}
		if string(body) != `{"prompt":"draw"}` {
			t.Errorf("upstream saw body %q", body)
		}
		w.Header().Set("X-Backend", "python")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	router, err := New(upstream.URL, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"prompt":"draw"}`))
	req.Header.Set("X-Request-Source", "test")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rr.Code)
	}
	if got := rr.Header().Get("X-Backend"); got != "python" {
		t.Errorf("X-Backend = %q, want python", got)
	}
	if rr.Body.String() != `{"ok":true}` {
		t.Errorf("body = %q, want upstream body", rr.Body.String())
	}
}

func TestForwardUpstreamUnavailable(t *testing.T) {
	// Port 1 is reserved and nothing listens there.
	router, err := New("http://127.0.0.1:1", nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	start := time.Now()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/anything", nil))

	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("forward took %v, want prompt failure", elapsed)
	}
	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body["error"] != "upstream unavailable" {
		t.Errorf("error = %q, want %q", body["error"], "upstream unavailable")
	}
}
