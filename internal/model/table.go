package model

// CountingTable maps k-mers to counts for a single device.
// A table is owned by exactly one hasher goroutine and is not safe for
// concurrent use.
type CountingTable interface {
	// Init resets the table to hold about capacity distinct k-mers.
	// The table must be empty, i.e. freshly created or just extracted.
	Init(capacity uint64) error

	// Add counts every k-mer of the batch.
	Add(batch *KMerBatch) error

	// ExtractAndClear returns all entries with a count at or above the
	// threshold and empties the table.
	ExtractAndClear() ([]KMerCount, error)

	Capacity() uint64
	MaxCapacity() uint64

	// KMersNumber is the running number of inserted k-mers.
	KMersNumber() uint64
	// UniqueKMersNumber is the running number of distinct k-mers extracted.
	UniqueKMersNumber() uint64
	// BelowThresholdNumber is the running number of distinct k-mers dropped
	// for not reaching the threshold.
	BelowThresholdNumber() uint64

	Close() error
}
