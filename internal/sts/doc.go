// Package sts provides the multivariate surveillance count time series
// container: a matrix of counts (one row per period, one column per
// region) together with the temporal index, the region neighbourhood
// order matrix, and optional population fractions. Containers are
// immutable; all derived views are copies.
package sts
