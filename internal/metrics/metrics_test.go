package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveLookup(t *testing.T) {
	before := testutil.ToFloat64(lookupsTotal.WithLabelValues(LookupEmpty))
	ObserveLookup(LookupEmpty)
	ObserveLookup(LookupEmpty)
	assert.InDelta(t, before+2, testutil.ToFloat64(lookupsTotal.WithLabelValues(LookupEmpty)), 0.001)
}

func TestObserveFetchAttempt(t *testing.T) {
	before := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues(AttemptRetry))
	ObserveFetchAttempt(AttemptRetry)
	assert.InDelta(t, before+1, testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues(AttemptRetry)), 0.001)
	ObserveFetchDuration(150 * time.Millisecond)
	ObserveRateLimitDelay(time.Millisecond)
}

func TestCountersIgnoreNonPositive(t *testing.T) {
	records := testutil.ToFloat64(recordsTotal)
	rows := testutil.ToFloat64(rowsWrittenTotal)

	AddRecords(0)
	AddRowsWritten(-1)
	assert.InDelta(t, records, testutil.ToFloat64(recordsTotal), 0.001)
	assert.InDelta(t, rows, testutil.ToFloat64(rowsWrittenTotal), 0.001)

	AddRecords(3)
	AddRowsWritten(4)
	assert.InDelta(t, records+3, testutil.ToFloat64(recordsTotal), 0.001)
	assert.InDelta(t, rows+4, testutil.ToFloat64(rowsWrittenTotal), 0.001)
}

func TestActiveWorkers(t *testing.T) {
	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	assert.InDelta(t, before+1, testutil.ToFloat64(activeWorkers), 0.001)
	DecActiveWorkers()
	assert.InDelta(t, before, testutil.ToFloat64(activeWorkers), 0.001)
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	nfBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))

	for _, path := range []string{"/ok", "/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, okBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")), 0.001)
	assert.InDelta(t, nfBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404")), 0.001)
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveLookup(LookupResolved)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "citecrawler_lookups_total")
}
