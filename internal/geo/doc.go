// Package geo derives spatial model inputs from region boundary files:
// it loads GeoJSON boundaries, builds the contiguity graph of the
// regions and expands it into the neighbourhood order matrix consumed
// by the spatio-temporal models.
package geo
