// Package estimate keeps HyperLogLog sketches of the distinct k-mers of each
// temp file, used to size counting tables before the exact count is known.
package estimate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/go-hll"

	"GoKmerSpectra/internal/model"
)

const (
	DefaultLog2m = 14
	regwidth     = 5

	// confidences at or above this value are treated as this value, since the
	// normal quantile diverges at 1.
	maxConfidence = 0.9999
)

// FileEstimate approximates the number of distinct k-mers of one file.
// It is not safe for concurrent writers.
type FileEstimate struct {
	sketch hll.Hll
	log2m  int
}

// New creates an empty estimate with 2^log2m registers.
func New(log2m int) (*FileEstimate, error) {
	sketch, err := hll.NewHll(hll.Settings{
		Log2m:             log2m,
		Regwidth:          regwidth,
		ExplicitThreshold: -1, // auto
		SparseEnabled:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create hll: %w", err)
	}
	return &FileEstimate{sketch: sketch, log2m: log2m}, nil
}

// Add records a k-mer.
func (e *FileEstimate) Add(km model.KMer) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(km))
	e.sketch.AddRaw(xxhash.Sum64(buf[:]))
}

// AddBatch records every k-mer of the batch.
func (e *FileEstimate) AddBatch(batch *model.KMerBatch) {
	for _, km := range batch.KMers {
		e.Add(km)
	}
}

// Cardinality returns the raw HyperLogLog estimate.
func (e *FileEstimate) Cardinality() uint64 {
	return e.sketch.Cardinality()
}

// RelativeError is the standard error of the estimate for this register count.
func (e *FileEstimate) RelativeError() float64 {
	return 1.04 / math.Sqrt(float64(uint64(1)<<e.log2m))
}

// ApproximateUniqueCount returns the upper bound of the one-sided confidence
// interval around the estimate. Confidences of 0.5 or less return the raw
// estimate.
func (e *FileEstimate) ApproximateUniqueCount(confidence float64) uint64 {
	card := e.Cardinality()
	z := quantile(confidence)
	if z <= 0 {
		return card
	}
	return uint64(math.Ceil(float64(card) * (1 + z*e.RelativeError())))
}

// quantile returns the standard normal quantile of confidence.
func quantile(confidence float64) float64 {
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	if confidence <= 0.5 {
		return 0
	}
	return math.Sqrt2 * math.Erfinv(2*confidence-1)
}

// Merge adds the k-mers seen by other into e.
func (e *FileEstimate) Merge(other *FileEstimate) error {
	if e.log2m != other.log2m {
		return fmt.Errorf("cannot merge estimates with log2m %d and %d", e.log2m, other.log2m)
	}
	return e.sketch.StrictUnion(other.sketch)
}

// MarshalBinary encodes the estimate as one log2m byte followed by the
// serialized sketch.
func (e *FileEstimate) MarshalBinary() ([]byte, error) {
	raw := e.sketch.ToBytes()
	out := make([]byte, 0, len(raw)+1)
	out = append(out, byte(e.log2m))
	return append(out, raw...), nil
}

// UnmarshalBinary restores an estimate produced by MarshalBinary.
func (e *FileEstimate) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return errors.New("estimate data too short")
	}
	sketch, err := hll.FromBytes(data[1:])
	if err != nil {
		return fmt.Errorf("failed to decode hll: %w", err)
	}
	e.sketch = sketch
	e.log2m = int(data[0])
	return nil
}
