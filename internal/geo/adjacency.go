package geo

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gonum.org/v1/gonum/mat"
)

// vertexKey snaps a coordinate to a fixed grid so that boundary points
// shared between polygons compare equal despite floating point noise.
type vertexKey struct {
	x, y int64
}

const snapScale = 1e6

func keyOf(p orb.Point) vertexKey {
	return vertexKey{
		x: int64(math.Round(p[0] * snapScale)),
		y: int64(math.Round(p[1] * snapScale)),
	}
}

// Adjacency builds the first-order contiguity matrix of the regions in
// fc. Two regions count as neighbours when their boundaries share at
// least one vertex. idProperty names the feature property holding the
// region code; regions are returned sorted by code, matching the matrix
// rows.
func Adjacency(fc *geojson.FeatureCollection, idProperty string) ([]string, *mat.Dense, error) {
	if fc == nil || len(fc.Features) == 0 {
		return nil, nil, fmt.Errorf("boundary collection has no features")
	}

	type region struct {
		code     string
		vertices map[vertexKey]struct{}
	}

	regions := make([]region, 0, len(fc.Features))
	seen := make(map[string]bool)
	for _, f := range fc.Features {
		code := f.Properties.MustString(idProperty, "")
		if code == "" {
			return nil, nil, fmt.Errorf("feature is missing the %q property", idProperty)
		}
		if seen[code] {
			return nil, nil, fmt.Errorf("duplicate region code %q in boundary file", code)
		}
		seen[code] = true

		vertices := make(map[vertexKey]struct{})
		if err := collectVertices(f.Geometry, vertices); err != nil {
			return nil, nil, fmt.Errorf("region %s: %w", code, err)
		}
		regions = append(regions, region{code: code, vertices: vertices})
	}

	sort.Slice(regions, func(i, j int) bool { return regions[i].code < regions[j].code })

	k := len(regions)
	units := make([]string, k)
	for i, r := range regions {
		units[i] = r.code
	}

	adj := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if shareVertex(regions[i].vertices, regions[j].vertices) {
				adj.Set(i, j, 1)
				adj.Set(j, i, 1)
			}
		}
	}
	return units, adj, nil
}

func collectVertices(g orb.Geometry, into map[vertexKey]struct{}) error {
	switch geom := g.(type) {
	case orb.Polygon:
		for _, ring := range geom {
			for _, p := range ring {
				into[keyOf(p)] = struct{}{}
			}
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			for _, ring := range poly {
				for _, p := range ring {
					into[keyOf(p)] = struct{}{}
				}
			}
		}
	default:
		return fmt.Errorf("unsupported geometry type %T", g)
	}
	return nil
}

func shareVertex(a, b map[vertexKey]struct{}) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for v := range a {
		if _, ok := b[v]; ok {
			return true
		}
	}
	return false
}
