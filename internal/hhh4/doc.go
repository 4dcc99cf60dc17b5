// Package hhh4 fits endemic-epidemic models to multivariate surveillance
// count time series. The conditional mean of unit i at period t is
//
//	mu_it = e_i*nu_it + lambda_it*ybar_it + phi_it*sum_j w_ji*ybar_jt
//
// where nu, lambda and phi are log-linear in intercepts, a time trend,
// seasonal harmonics and covariates, e_i is an optional population
// offset, ybar is a lag-weighted sum of past counts, and w is a
// neighbourhood weight matrix (first-order adjacency or a power law in
// the neighbourhood order). Counts follow a Poisson or negative
// binomial distribution; regression coefficients and overdispersion are
// estimated by maximum likelihood, weight-decay parameters by profile
// likelihood.
package hhh4
