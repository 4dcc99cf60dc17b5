package geo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb/geojson"

	"surveillance-platform/pkg/logging"
	"surveillance-platform/pkg/metrics"
)

// Loader fetches region boundary files and caches them on disk. A
// boundary file is fetched at most once per cache path; failed fetches
// are reported to the caller without retries.
type Loader struct {
	client   *http.Client
	cacheDir string
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewLoader creates a boundary loader writing cached files below
// cacheDir.
func NewLoader(cacheDir string, logger *logging.StructuredLogger, collector *metrics.Collector) *Loader {
	return &Loader{
		client:   &http.Client{Timeout: 60 * time.Second},
		cacheDir: cacheDir,
		logger:   logger,
		metrics:  collector,
	}
}

// LoadBoundaries returns the feature collection at url, serving from
// the disk cache when a previous fetch stored it. name keys the cache
// entry.
func (l *Loader) LoadBoundaries(ctx context.Context, name, url string) (*geojson.FeatureCollection, error) {
	cachePath := filepath.Join(l.cacheDir, name+".geojson")

	if data, err := os.ReadFile(cachePath); err == nil {
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("cached boundary file %s is corrupt: %w", cachePath, err)
		}
		l.metrics.RecordBoundaryFetch("cache")
		l.logger.Debug(ctx, "[GEO_CACHE] Boundary file served from cache", logging.Fields{
			"name": name,
			"path": cachePath,
		})
		return fc, nil
	}

	data, err := l.fetch(ctx, url)
	if err != nil {
		l.metrics.RecordBoundaryFetch("error")
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		l.metrics.RecordBoundaryFetch("error")
		return nil, fmt.Errorf("failed to parse boundary file from %s: %w", url, err)
	}

	if err := os.MkdirAll(l.cacheDir, 0o755); err == nil {
		if err := os.WriteFile(cachePath, data, 0o644); err != nil {
			l.logger.Warn(ctx, "[GEO_CACHE] Failed to write boundary cache", logging.Fields{
				"path":  cachePath,
				"error": err.Error(),
			})
		}
	}

	l.metrics.RecordBoundaryFetch("remote")
	l.logger.Info(ctx, "[GEO_FETCH] Boundary file fetched", logging.Fields{
		"name":     name,
		"url":      url,
		"features": len(fc.Features),
	})
	return fc, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build boundary request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch boundary file from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("boundary fetch from %s returned status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read boundary response: %w", err)
	}
	return data, nil
}
