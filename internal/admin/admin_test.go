package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/jmerrifield20/meshfetch/internal/fetch"
)

type stubStatus struct{ st *fetch.Status }

func (s stubStatus) Status() *fetch.Status { return s.st }

func newTestRouter(t *testing.T, origins []string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hash := "00112233445566778899aabbccddeeff"
	st := &fetch.Status{
		IdentityHash: &hash,
		Initialized:  true,
		Version:      "test",
		Timestamp:    "1970-01-01T00:00:00Z",
	}
	return NewRouter(stubStatus{st: st}, origins, nil)
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body: got %v", body)
	}
}

func TestStatus(t *testing.T) {
	r := newTestRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["identity_hash"] != "00112233445566778899aabbccddeeff" {
		t.Errorf("identity_hash: got %v", body["identity_hash"])
	}
	if body["initialized"] != true {
		t.Errorf("initialized: got %v", body["initialized"])
	}
	if _, ok := body["interfaces"]; !ok {
		t.Error("interfaces key missing")
	}
}

func TestMetrics(t *testing.T) {
	r := newTestRouter(t, nil)

	before := testutil.ToFloat64(adminRequestsTotal.WithLabelValues("GET", "/healthz", "200"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	after := testutil.ToFloat64(adminRequestsTotal.WithLabelValues("GET", "/healthz", "200"))
	if after-before != 1 {
		t.Errorf("healthz counter delta: got %v, want 1", after-before)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "meshfetch_admin_requests_total") {
		t.Error("metrics output missing admin request counter")
	}
}

func TestUnmatchedRoute(t *testing.T) {
	r := newTestRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fetch", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		wantOrigin  string
		wantCreds   string
		requestFrom string
	}{
		{"explicit origin", []string{"http://localhost:3000"}, "http://localhost:3000", "true", "http://localhost:3000"},
		{"wildcard", []string{"*"}, "*", "", "http://example.org"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(t, tc.origins)
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set("Origin", tc.requestFrom)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Errorf("allow-origin: got %q, want %q", got, tc.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tc.wantCreds {
				t.Errorf("allow-credentials: got %q, want %q", got, tc.wantCreds)
			}
		})
	}
}

func TestContainsWildcard(t *testing.T) {
	if containsWildcard([]string{"http://a", "http://b"}) {
		t.Error("no wildcard expected")
	}
	if !containsWildcard([]string{"http://a", " * "}) {
		t.Error("wildcard expected")
	}
}

func TestServe_shutdown(t *testing.T) {
	router := newTestRouter(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", router, zap.NewNop())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_badAddr(t *testing.T) {
	if err := Serve(context.Background(), "not-an-addr", http.NotFoundHandler(), zap.NewNop()); err == nil {
		t.Error("expected listen error")
	}
}
