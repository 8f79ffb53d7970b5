// Package sink drains counted k-mers from the output queue into the
// configured writers.
package sink

import (
	"fmt"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"GoKmerSpectra/internal/factory"
	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/metrics"
	"GoKmerSpectra/internal/model"
	"GoKmerSpectra/internal/queue"
)

// DrainStats counts what went through a Drainer.
type DrainStats struct {
	Batches int    `json:"batches"`
	Entries uint64 `json:"entries"`
	Errors  int    `json:"errors"`
}

// Drainer is the single consumer of the output queue.
type Drainer struct {
	output  *queue.Queue[*model.ResultBatch]
	writers []factory.NamedWriter
	log     logr.Logger
	stats   DrainStats
}

func NewDrainer(output *queue.Queue[*model.ResultBatch], writers []factory.NamedWriter, log logr.Logger) *Drainer {
	return &Drainer{output: output, writers: writers, log: log.WithName("drainer")}
}

// Run hands every batch to every writer until the queue is closed and empty,
// then closes the writers. A failing writer does not stop the others or the
// queue; all errors are returned together.
func (d *Drainer) Run() error {
	var errs error
	for {
		rb, ok := d.output.Pop()
		if !ok {
			break
		}
		d.stats.Batches++
		d.stats.Entries += uint64(len(rb.Entries))

		for _, w := range d.writers {
			err := w.Write(rb)
			metrics.RecordWrite(w.Name, err)
			if err != nil {
				d.stats.Errors++
				d.log.Error(err, "Writer failed", "writer", w.Name, "device", rb.DeviceID, "file", rb.FileID)
				errs = multierr.Append(errs, fmt.Errorf("writer %s: %w", w.Name, err))
			}
		}
	}

	for _, w := range d.writers {
		if err := w.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close writer %s: %w", w.Name, err))
		}
	}
	d.log.V(logging.VERBOSE).Info("Output drained",
		"batches", d.stats.Batches, "entries", d.stats.Entries, "errors", d.stats.Errors)
	return errs
}

// Stats is valid once Run has returned.
func (d *Drainer) Stats() DrainStats {
	return d.stats
}
