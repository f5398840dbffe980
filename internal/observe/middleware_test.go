package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// routed wraps a mux shaped like the voxedit API in Middleware and returns it
// together with the metric reader and span recorder it reports to.
func routed(t *testing.T, opts ...MiddlewareOption) (http.Handler, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()
	spans := useRecorder(t)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/document", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
	})
	mux.HandleFunc("POST /v1/undo", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	mux.HandleFunc("GET /v1/windows/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /healthz", func(http.ResponseWriter, *http.Request) {})
	return Middleware(m, opts...)(mux), reader, spans
}

func serveReq(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h, _, _ := routed(t)

	tests := []struct {
		name   string
		header http.Header
		want   string
	}{
		{name: "new trace"},
		{
			name:   "continues traceparent",
			header: http.Header{"Traceparent": {"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}},
			want:   "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveReq(h, "GET", "/v1/document", tt.header)
			got := rec.Header().Get("X-Correlation-ID")
			if len(got) != 32 {
				t.Fatalf("X-Correlation-ID = %q, want a trace ID", got)
			}
			if seen := rec.Header().Get("X-Seen-Correlation"); seen != got {
				t.Errorf("handler saw %q, response carries %q", seen, got)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("X-Correlation-ID = %q, want %q", got, tt.want)
			}
			if rec.Header().Get("Traceparent") == "" {
				t.Error("response lacks traceparent")
			}
		})
	}
}

func TestMiddleware_SpanAndStatus(t *testing.T) {
	h, _, spans := routed(t)

	if rec := serveReq(h, "POST", "/v1/undo", nil); rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	ended := spans.Ended()
	if len(ended) != 1 {
		t.Fatalf("spans = %d, want 1", len(ended))
	}
	s := ended[0]
	if s.Name() != "HTTP POST /v1/undo" {
		t.Errorf("span name = %q", s.Name())
	}
	attrs := map[string]string{}
	for _, a := range s.Attributes() {
		attrs[string(a.Key)] = a.Value.Emit()
	}
	if attrs["http.response.status_code"] != "409" {
		t.Errorf("status attribute = %q, want 409", attrs["http.response.status_code"])
	}
	if attrs["http.route"] != "POST /v1/undo" {
		t.Errorf("route attribute = %q, want the mux pattern", attrs["http.route"])
	}
}

func TestMiddleware_DurationByRoute(t *testing.T) {
	h, reader, spans := routed(t)

	for _, id := range []string{"1", "2", "3"} {
		serveReq(h, "GET", "/v1/windows/"+id, nil)
	}
	serveReq(h, "GET", "/v1/document", nil)

	met := findMetric(collect(t, reader), "voxedit.http.request.duration")
	if met == nil {
		t.Fatal("voxedit.http.request.duration not recorded")
	}
	counts := map[string]uint64{}
	for _, dp := range met.Data.(metricdata.Histogram[float64]).DataPoints {
		path, _ := dp.Attributes.Value("path")
		counts[path.AsString()] += dp.Count
	}
	if counts["GET /v1/windows/{id}"] != 3 || counts["GET /v1/document"] != 1 || len(counts) != 2 {
		t.Errorf("samples by path = %v, want 3 for the window pattern and 1 for the document", counts)
	}
	// Span names keep the concrete path.
	if got := spans.Ended()[0].Name(); got != "HTTP GET /v1/windows/1" {
		t.Errorf("span name = %q", got)
	}
}

func TestMiddleware_QuietPaths(t *testing.T) {
	h, _, _ := routed(t, WithQuietPaths("/healthz"))
	buf := captureLog(t)

	serveReq(h, "GET", "/healthz", nil)
	if buf.Len() != 0 {
		t.Errorf("quiet path logged at info: %s", buf.String())
	}
	serveReq(h, "GET", "/v1/document", nil)
	if out := buf.String(); !strings.Contains(out, "path=/v1/document") || !strings.Contains(out, "status=200") {
		t.Errorf("request not logged: %s", out)
	}
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	inner := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: inner, statusCode: http.StatusOK}
	if rec.Unwrap() != inner {
		t.Error("Unwrap did not return the wrapped writer")
	}
	// httptest.ResponseRecorder cannot be hijacked.
	if _, _, err := rec.Hijack(); err == nil {
		t.Error("Hijack on a non-hijackable writer returned nil error")
	}
	if rec.statusCode != http.StatusOK {
		t.Errorf("failed Hijack changed status to %d", rec.statusCode)
	}
}
