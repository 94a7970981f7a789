package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// durationSamples returns how many requests the duration histogram holds for
// one method and route pattern.
func durationSamples(t *testing.T, method, route string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "http_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == method && labels["route"] == route {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/snapshots/{id}", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	notFoundBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))
	samplesBefore := durationSamples(t, "GET", "/v1/snapshots/{id}")

	for _, path := range []string{"/v1/snapshots/7", "/v1/snapshots/8", "/v1/snapshots/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, okBefore+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")))
	require.Equal(t, notFoundBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")))
	// Concrete ids collapse onto the route pattern.
	require.Equal(t, samplesBefore+3, durationSamples(t, "GET", "/v1/snapshots/{id}"))
	require.Zero(t, durationSamples(t, "GET", "/v1/snapshots/7"))
}

func TestMiddlewareUnmatchedRoute(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	before := durationSamples(t, "GET", "unknown")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, before+1, durationSamples(t, "GET", "unknown"))
}
