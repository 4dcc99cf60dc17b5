package geo

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gonum.org/v1/gonum/mat"
)

func square(x, y float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y},
	}}
}

func regionFeature(code string, geom orb.Geometry) *geojson.Feature {
	f := geojson.NewFeature(geom)
	f.Properties["code"] = code
	return f
}

func chainCollection() *geojson.FeatureCollection {
	// Three unit squares in a row: A-B and B-C share an edge, A-C do
	// not touch.
	fc := geojson.NewFeatureCollection()
	fc.Append(regionFeature("C", square(2, 0)))
	fc.Append(regionFeature("A", square(0, 0)))
	fc.Append(regionFeature("B", square(1, 0)))
	return fc
}

func TestAdjacency(t *testing.T) {
	units, adj, err := Adjacency(chainCollection(), "code")
	if err != nil {
		t.Fatalf("Adjacency: %v", err)
	}

	want := []string{"A", "B", "C"}
	for i, u := range want {
		if units[i] != u {
			t.Fatalf("units = %v, want %v", units, want)
		}
	}

	wantAdj := []float64{
		0, 1, 0,
		1, 0, 1,
		0, 1, 0,
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if got := adj.At(i, j); got != wantAdj[i*3+j] {
				t.Errorf("adj[%d][%d] = %v, want %v", i, j, got, wantAdj[i*3+j])
			}
		}
	}
}

func TestAdjacencyCornerTouch(t *testing.T) {
	// Diagonal squares only share the corner (1, 1); queen contiguity
	// still links them.
	fc := geojson.NewFeatureCollection()
	fc.Append(regionFeature("A", square(0, 0)))
	fc.Append(regionFeature("B", square(1, 1)))

	_, adj, err := Adjacency(fc, "code")
	if err != nil {
		t.Fatalf("Adjacency: %v", err)
	}
	if adj.At(0, 1) != 1 {
		t.Error("corner-touching regions not adjacent")
	}
}

func TestAdjacencyMultiPolygon(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(regionFeature("A", orb.MultiPolygon{square(0, 0), square(5, 5)}))
	fc.Append(regionFeature("B", square(6, 5)))

	_, adj, err := Adjacency(fc, "code")
	if err != nil {
		t.Fatalf("Adjacency: %v", err)
	}
	if adj.At(0, 1) != 1 {
		t.Error("multipolygon part not linked to its neighbour")
	}
}

func TestAdjacencyErrors(t *testing.T) {
	missing := geojson.NewFeatureCollection()
	missing.Append(geojson.NewFeature(square(0, 0)))
	if _, _, err := Adjacency(missing, "code"); err == nil {
		t.Error("expected an error for a feature without a region code")
	}

	dup := geojson.NewFeatureCollection()
	dup.Append(regionFeature("A", square(0, 0)))
	dup.Append(regionFeature("A", square(1, 0)))
	if _, _, err := Adjacency(dup, "code"); err == nil {
		t.Error("expected an error for duplicate region codes")
	}

	if _, _, err := Adjacency(geojson.NewFeatureCollection(), "code"); err == nil {
		t.Error("expected an error for an empty collection")
	}
}

func TestNeighbourhoodOrders(t *testing.T) {
	adj := mat.NewDense(4, 4, []float64{
		0, 1, 0, 0,
		1, 0, 1, 0,
		0, 1, 0, 0,
		0, 0, 0, 0,
	})

	order, err := NeighbourhoodOrders(adj)
	if err != nil {
		t.Fatalf("NeighbourhoodOrders: %v", err)
	}

	want := []float64{
		0, 1, 2, 0,
		1, 0, 1, 0,
		2, 1, 0, 0,
		0, 0, 0, 0,
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if got := order.At(i, j); got != want[i*4+j] {
				t.Errorf("order[%d][%d] = %v, want %v", i, j, got, want[i*4+j])
			}
		}
	}
}

func TestNeighbourhoodOrdersRejectsBadMatrix(t *testing.T) {
	asym := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	if _, err := NeighbourhoodOrders(asym); err == nil {
		t.Error("expected an error for an asymmetric matrix")
	}

	selfLoop := mat.NewDense(2, 2, []float64{1, 0, 0, 0})
	if _, err := NeighbourhoodOrders(selfLoop); err == nil {
		t.Error("expected an error for a non-zero diagonal")
	}
}
