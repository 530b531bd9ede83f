package rbcm

import "errors"

var (
	// ErrEmptyModel is returned when a prediction or training run is
	// requested with no labeled entries across all experts.
	ErrEmptyModel = errors.New("rbcm: model has no training labels")

	// ErrFactorization is returned when a covariance matrix is not
	// positive definite during Cholesky factorization.
	ErrFactorization = errors.New("rbcm: covariance matrix is not positive definite")

	// ErrInvalidArgument is returned for malformed force components,
	// inconsistent expert ids, or mismatched label counts.
	ErrInvalidArgument = errors.New("rbcm: invalid argument")

	// ErrOptimization is returned when no optimization method
	// produced a result.
	ErrOptimization = errors.New("rbcm: no optimization method produced a result")

	// ErrUnsupportedFormat is returned when a serialization format is
	// not implemented by the persistence layer.
	ErrUnsupportedFormat = errors.New("rbcm: unsupported serialization format")
)
