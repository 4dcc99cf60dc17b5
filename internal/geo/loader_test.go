package geo

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"surveillance-platform/pkg/logging"
	"surveillance-platform/pkg/metrics"
)

var testMetrics = metrics.NewCollector("geo_test")

func testLogger() *logging.StructuredLogger {
	l := logging.NewStructuredLogger("geo-test", "dev", logging.ErrorLevel)
	l.SetOutput(io.Discard)
	return l
}

const boundaryBody = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"properties": {"code": "A"},
			"geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}
		}
	]
}`

func TestLoadBoundariesFetchesAndCaches(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		io.WriteString(w, boundaryBody)
	}))
	defer srv.Close()

	loader := NewLoader(t.TempDir(), testLogger(), testMetrics)

	fc, err := loader.LoadBoundaries(context.Background(), "regions", srv.URL)
	if err != nil {
		t.Fatalf("LoadBoundaries: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("got %d features, want 1", len(fc.Features))
	}

	// Second load must come from the cache.
	fc, err = loader.LoadBoundaries(context.Background(), "regions", srv.URL)
	if err != nil {
		t.Fatalf("cached LoadBoundaries: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("cached load got %d features, want 1", len(fc.Features))
	}
	if hits != 1 {
		t.Errorf("server hit %d times, want 1", hits)
	}
}

func TestLoadBoundariesNoRetryOnError(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	loader := NewLoader(t.TempDir(), testLogger(), testMetrics)

	if _, err := loader.LoadBoundaries(context.Background(), "regions", srv.URL); err == nil {
		t.Fatal("expected an error for a failing source")
	}
	if hits != 1 {
		t.Errorf("server hit %d times, want exactly 1", hits)
	}
}

func TestLoadBoundariesRejectsBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not geojson")
	}))
	defer srv.Close()

	loader := NewLoader(t.TempDir(), testLogger(), testMetrics)
	if _, err := loader.LoadBoundaries(context.Background(), "regions", srv.URL); err == nil {
		t.Fatal("expected a parse error")
	}
}
