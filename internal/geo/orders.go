package geo

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// NeighbourhoodOrders expands a first-order contiguity matrix into path
// distances by breadth-first search: entry (i, j) is the minimal number
// of contiguity steps between regions i and j. Unreachable pairs keep
// order zero, which downstream weight schemes treat as no connection.
func NeighbourhoodOrders(adj *mat.Dense) (*mat.Dense, error) {
	k, c := adj.Dims()
	if k != c {
		return nil, fmt.Errorf("adjacency matrix is %dx%d, want square", k, c)
	}

	neighbours := make([][]int, k)
	for i := 0; i < k; i++ {
		if adj.At(i, i) != 0 {
			return nil, fmt.Errorf("adjacency diagonal must be zero at region %d", i)
		}
		for j := 0; j < k; j++ {
			v := adj.At(i, j)
			if v != 0 && v != 1 {
				return nil, fmt.Errorf("adjacency entries must be 0 or 1, got %v at (%d, %d)", v, i, j)
			}
			if v != adj.At(j, i) {
				return nil, fmt.Errorf("adjacency matrix not symmetric at (%d, %d)", i, j)
			}
			if v == 1 {
				neighbours[i] = append(neighbours[i], j)
			}
		}
	}

	order := mat.NewDense(k, k, nil)
	dist := make([]int, k)
	queue := make([]int, 0, k)

	for src := 0; src < k; src++ {
		for i := range dist {
			dist[i] = -1
		}
		dist[src] = 0
		queue = append(queue[:0], src)

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range neighbours[cur] {
				if dist[nb] < 0 {
					dist[nb] = dist[cur] + 1
					queue = append(queue, nb)
				}
			}
		}

		for j := 0; j < k; j++ {
			if dist[j] > 0 {
				order.Set(src, j, float64(dist[j]))
			}
		}
	}
	return order, nil
}
