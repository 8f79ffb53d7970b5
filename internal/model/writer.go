package model

// Writer defines a generic interface for sending result batches downstream.
// Writers are driven by a single drainer goroutine.
type Writer interface {
	// Write persists or forwards one result batch.
	Write(batch *ResultBatch) error

	// Close flushes buffered output and releases connections.
	Close() error
}
