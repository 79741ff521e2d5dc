package trace

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	applog "verdeling/internal/log"
	"verdeling/internal/metrics"
)

func newTestMiddleware(buf *bytes.Buffer, m *metrics.Metrics) *Middleware {
	logger := applog.New(applog.Config{Level: slog.LevelInfo, Format: "json", Output: buf})
	return NewMiddleware(func(r *http.Request) string { return "10.0.0.1" }, logger, m)
}

func TestMiddlewareAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	mw := newTestMiddleware(&buf, nil)

	var seen string
	var scoped *applog.Logger
	h := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		scoped = applog.FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/dashboard", nil))

	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("request id %q is not a uuid", seen)
	}
	if rec.Header().Get(HeaderRequestID) != seen {
		t.Errorf("response header = %q, want %q", rec.Header().Get(HeaderRequestID), seen)
	}
	if scoped == nil || scoped.Component() == "unknown" {
		t.Errorf("request context should carry the request logger")
	}
	if mw.TotalRequests() != 1 {
		t.Errorf("TotalRequests = %d, want 1", mw.TotalRequests())
	}
	if !strings.Contains(buf.String(), "HTTP request completed") {
		t.Errorf("completion not logged: %s", buf.String())
	}
}

func TestMiddlewareKeepsValidIncomingID(t *testing.T) {
	var buf bytes.Buffer
	mw := newTestMiddleware(&buf, nil)
	h := mw.Middleware(http.NotFoundHandler())

	id := uuid.NewString()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderRequestID, id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get(HeaderRequestID) != id {
		t.Errorf("incoming id not kept")
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderRequestID, "<script>")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get(HeaderRequestID) == "<script>" {
		t.Errorf("invalid incoming id should be replaced")
	}
}

func TestMiddlewareRecordsMetrics(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.New()
	mw := newTestMiddleware(&buf, m)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /verdeling", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := mw.Middleware(mux)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/verdeling?year=2025", nil))

	expected := `
# HELP verdeling_http_requests_total HTTP requests by route, method and status code.
# TYPE verdeling_http_requests_total counter
verdeling_http_requests_total{method="GET",route="GET /verdeling",status="418"} 1
`
	if err := testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(expected), "verdeling_http_requests_total"); err != nil {
		t.Error(err)
	}
}

func TestResponseWriterKeepsFirstStatus(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	_, _ = rw.Write([]byte("ok"))
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want 200", rw.statusCode)
	}
}
