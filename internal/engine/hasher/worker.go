package hasher

import (
	"fmt"
	"math"
	"time"

	"github.com/go-logr/logr"

	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/metrics"
	"GoKmerSpectra/internal/model"
	"GoKmerSpectra/internal/queue"
)

// runner is the goroutine body of one device.
type runner interface {
	run() error
	// stats is read once run has returned.
	stats() model.Stats
}

// workerContext is everything a worker may touch. The negotiator and the
// output queue are shared with the other workers; the rest is private.
type workerContext struct {
	id         int
	input      *queue.Queue[*model.KMerBatch]
	table      model.CountingTable
	negotiator model.Negotiator
	output     *queue.Queue[*model.ResultBatch]
	estimates  model.EstimateSource
	confidence float64
	batchSize  int
	now        func() time.Time
	log        logr.Logger
}

// deviceWorker drains one input queue into one table. Within a device the
// order is always extraction, then resize, then insertion of the batch that
// revealed the new file.
type deviceWorker struct {
	workerContext

	file     model.FileID
	baseline uint64        // table.KMersNumber() at the start of the window
	elapsed  time.Duration // time spent counting in the window

	extractions int
	final       model.Stats
}

func newDeviceWorker(ctx workerContext) *deviceWorker {
	return &deviceWorker{workerContext: ctx}
}

func (w *deviceWorker) run() error {
	batch, ok := w.input.Pop()
	if !ok {
		return w.finish()
	}
	// nothing has been counted yet, so the first file only needs a resize
	if err := w.resize(batch.FileID); err != nil {
		return w.fail(err)
	}
	if err := w.insert(batch); err != nil {
		return w.fail(err)
	}

	for {
		batch, ok := w.input.Pop()
		if !ok {
			return w.finish()
		}
		if batch.FileID != w.file {
			if err := w.extract(false); err != nil {
				return w.fail(err)
			}
			if err := w.resize(batch.FileID); err != nil {
				return w.fail(err)
			}
		}
		if err := w.insert(batch); err != nil {
			return w.fail(err)
		}
	}
}

func (w *deviceWorker) stats() model.Stats {
	return w.final
}

func (w *deviceWorker) insert(batch *model.KMerBatch) error {
	start := w.now()
	err := w.table.Add(batch)
	w.elapsed += w.now().Sub(start)
	if err != nil {
		return fmt.Errorf("insert %d k-mers of file %d: %w", len(batch.KMers), batch.FileID, err)
	}
	return nil
}

func (w *deviceWorker) extract(final bool) error {
	start := w.now()
	entries, err := w.table.ExtractAndClear()
	w.elapsed += w.now().Sub(start)
	if err != nil {
		return fmt.Errorf("extract file %d: %w", w.file, err)
	}
	if err := w.emit(entries, final); err != nil {
		return err
	}
	w.extractions++

	processed := w.table.KMersNumber() - w.baseline
	tp := throughput(processed, w.elapsed)
	w.negotiator.UpdateThroughput(model.Accelerator, w.id, tp)
	metrics.RecordExtraction(w.id, processed, len(entries), tp)

	w.log.V(logging.DEBUG).Info("Extracted table",
		"file", w.file, "entries", len(entries), "processed", processed,
		"elapsed", w.elapsed, "throughput", tp, "final", final)
	return nil
}

// emit pushes the entries of one extraction, split into batches of at most
// batchSize entries. An extraction always yields at least one batch.
func (w *deviceWorker) emit(entries []model.KMerCount, final bool) error {
	size := w.batchSize
	if size <= 0 || size > len(entries) {
		size = len(entries)
	}
	var seq uint32
	for {
		n := min(size, len(entries))
		last := n == len(entries)
		rb := &model.ResultBatch{
			DeviceID: w.id,
			FileID:   w.file,
			Seq:      seq,
			Final:    final && last,
			Entries:  entries[:n:n],
		}
		if err := w.output.Push(rb); err != nil {
			return fmt.Errorf("push results of file %d: %w", w.file, err)
		}
		if last {
			return nil
		}
		entries = entries[n:]
		seq++
	}
}

func (w *deviceWorker) resize(file model.FileID) error {
	ratio := w.negotiator.GetSplitRatio(model.Accelerator, w.id, file)

	estimate := w.table.MaxCapacity()
	if w.estimates != nil {
		if est, ok := w.estimates.Estimate(file); ok {
			estimate = est.ApproximateUniqueCount(w.confidence)
		}
	}
	target := targetCapacity(estimate, ratio)
	if err := w.table.Init(target); err != nil {
		return fmt.Errorf("resize to %d for file %d: %w", target, file, err)
	}
	metrics.RecordResize(w.id, ratio, w.table.Capacity())

	w.log.V(logging.TRACE).Info("Resized table",
		"file", file, "ratio", ratio, "estimate", estimate,
		"target", target, "capacity", w.table.Capacity())

	w.file = file
	w.baseline = w.table.KMersNumber()
	w.elapsed = 0
	return nil
}

func (w *deviceWorker) finish() error {
	if err := w.extract(true); err != nil {
		return w.fail(err)
	}
	w.final = model.Stats{
		KMers:          w.table.KMersNumber(),
		UniqueKMers:    w.table.UniqueKMersNumber(),
		BelowThreshold: w.table.BelowThresholdNumber(),
	}
	w.log.V(logging.VERBOSE).Info("Device done",
		"extractions", w.extractions, "kmers", w.final.KMers,
		"unique", w.final.UniqueKMers, "belowThreshold", w.final.BelowThreshold)
	return nil
}

// fail stops counting but keeps the input queue moving until it is closed,
// so producers never block on a dead device.
func (w *deviceWorker) fail(err error) error {
	err = fmt.Errorf("device %d: %w", w.id, err)
	w.log.Error(err, "Device stopped counting, discarding its input")
	discard(w.input)
	return err
}

func discard(q *queue.Queue[*model.KMerBatch]) {
	for {
		if _, ok := q.Pop(); !ok {
			return
		}
	}
}

// throughput is k-mers per second; an empty window reports 0.
func throughput(processed uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(processed) / elapsed.Seconds()
}

// targetCapacity is estimate*ratio rounded up, never below 1. Ratios outside
// (0,1] are treated as 1 so a misbehaving negotiator cannot shrink the table
// to nothing. The table applies its own bounds on top.
func targetCapacity(estimate uint64, ratio float64) uint64 {
	if !(ratio > 0) || ratio > 1 {
		ratio = 1
	}
	v := math.Ceil(float64(estimate) * ratio)
	switch {
	case v < 1:
		return 1
	case v >= math.MaxUint64:
		return math.MaxUint64
	}
	return uint64(v)
}
