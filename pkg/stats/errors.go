package stats

import "errors"

var (
	// ErrLengthMismatch is returned when paired inputs differ in length
	ErrLengthMismatch = errors.New("input length mismatch")

	// ErrSampleTooShort is returned when there are too few observations for the test
	ErrSampleTooShort = errors.New("sample too short")

	// ErrSingularMatrix is returned when a regression design matrix is singular or ill-conditioned
	ErrSingularMatrix = errors.New("singular design matrix")

	// ErrConstantSeries is returned when an input series has zero variance
	ErrConstantSeries = errors.New("constant series")

	// ErrNonFinite is returned when an input or statistic is NaN or Inf
	ErrNonFinite = errors.New("non-finite value")
)
