package model

// Estimator approximates the number of distinct k-mers in a temp file.
type Estimator interface {
	// ApproximateUniqueCount returns an estimate that is not exceeded by the
	// true count with the given confidence in (0,1].
	ApproximateUniqueCount(confidence float64) uint64
}

// EstimateSource looks up the estimator of a file.
type EstimateSource interface {
	Estimate(file FileID) (Estimator, bool)
}
