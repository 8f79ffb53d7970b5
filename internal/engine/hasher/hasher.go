// Package hasher runs one counting worker per device and aggregates their
// statistics once every input stream has ended.
package hasher

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"GoKmerSpectra/internal/engine/device"
	"GoKmerSpectra/internal/engine/table"
	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/model"
	"GoKmerSpectra/internal/queue"
)

const DefaultConfidence = 0.9

var (
	ErrAlreadyStarted = errors.New("hasher already started")
	ErrNotStarted     = errors.New("hasher not started")
	ErrClosed         = errors.New("hasher closed")
)

// Option configures a Hasher.
type Option func(*Hasher)

// WithBackend sets the device backend. The default emulates one device per
// CPU in host memory.
func WithBackend(b device.Backend) Option {
	return func(h *Hasher) { h.backend = b }
}

// WithConfidence sets the confidence passed to the cardinality estimates.
func WithConfidence(c float64) Option {
	return func(h *Hasher) { h.confidence = c }
}

// WithResultBatchSize caps the number of entries per result batch. Zero emits
// one batch per extraction.
func WithResultBatchSize(n int) Option {
	return func(h *Hasher) { h.resultBatchSize = n }
}

func WithLogger(log logr.Logger) Option {
	return func(h *Hasher) { h.log = log }
}

// WithClock replaces time.Now for window measurements.
func WithClock(now func() time.Time) Option {
	return func(h *Hasher) { h.now = now }
}

// Hasher owns the tables of deviceCount devices and the workers counting on
// them.
type Hasher struct {
	deviceCount     int
	negotiator      model.Negotiator
	output          *queue.Queue[*model.ResultBatch]
	estimates       model.EstimateSource
	scratchPath     string
	thresholdMin    uint32
	backend         device.Backend
	confidence      float64
	resultBatchSize int
	log             logr.Logger
	now             func() time.Time

	tables []model.CountingTable

	mu      sync.Mutex
	started bool
	closed  bool
	group   errgroup.Group
	runners []runner
	errs    []error

	joinOnce    sync.Once
	joinErr     error
	joined      atomic.Bool
	total       model.Stats
	deviceStats []model.Stats
}

// New allocates one table per device and registers each device's capacity
// ceiling with the negotiator. It fails with model.ErrConfiguration when the
// backend offers fewer than deviceCount devices. Tables allocated before a
// failure are released.
func New(
	deviceCount int,
	negotiator model.Negotiator,
	output *queue.Queue[*model.ResultBatch],
	estimates model.EstimateSource,
	scratchPath string,
	thresholdMin uint32,
	opts ...Option,
) (_ *Hasher, err error) {
	if deviceCount < 1 {
		return nil, fmt.Errorf("%w: device count must be positive, got %d", model.ErrConfiguration, deviceCount)
	}
	if negotiator == nil || output == nil {
		return nil, fmt.Errorf("%w: negotiator and output queue are required", model.ErrConfiguration)
	}

	h := &Hasher{
		deviceCount:  deviceCount,
		negotiator:   negotiator,
		output:       output,
		estimates:    estimates,
		scratchPath:  scratchPath,
		thresholdMin: thresholdMin,
		confidence:   DefaultConfidence,
		log:          logr.Discard(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.backend == nil {
		h.backend = device.NewHost(runtime.NumCPU(), table.Options{})
	}
	if h.confidence <= 0 || h.confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be in (0,1], got %g", model.ErrConfiguration, h.confidence)
	}
	h.log = h.log.WithName("hasher")

	if !h.backend.Supported() {
		h.log.Info("Backend has no counting devices, workers will fail fast", "backend", h.backend.Name())
		return h, nil
	}
	if deviceCount > h.backend.Available() {
		return nil, fmt.Errorf("%w: %d devices requested, backend %q has %d",
			model.ErrConfiguration, deviceCount, h.backend.Name(), h.backend.Available())
	}

	defer func() {
		if err != nil {
			err = multierr.Append(err, h.releaseTables())
		}
	}()
	h.tables = make([]model.CountingTable, 0, deviceCount)
	for i := 0; i < deviceCount; i++ {
		tbl, err := h.backend.NewTable(i, thresholdMin, scratchPath)
		if err != nil {
			return nil, fmt.Errorf("allocate table of device %d: %w", i, err)
		}
		h.tables = append(h.tables, tbl)
		negotiator.UpdateCapacity(model.Accelerator, i, tbl.MaxCapacity())
	}

	h.log.V(logging.VERBOSE).Info("Hasher ready",
		"devices", deviceCount, "backend", h.backend.Name(), "threshold", thresholdMin)
	return h, nil
}

// Start launches one worker per input queue. inputs[i] feeds device i. On a
// backend without counting devices Start returns model.ErrConfiguration; the
// workers still drain their queues, so Join returns once they are closed.
func (h *Hasher) Start(inputs []*queue.Queue[*model.KMerBatch]) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrAlreadyStarted
	}
	if h.closed {
		return ErrClosed
	}
	if len(inputs) != h.deviceCount {
		return fmt.Errorf("%w: %d input queues for %d devices", model.ErrConfiguration, len(inputs), h.deviceCount)
	}
	for i, in := range inputs {
		if in == nil {
			return fmt.Errorf("%w: input queue %d is nil", model.ErrConfiguration, i)
		}
	}
	h.started = true

	h.runners = make([]runner, h.deviceCount)
	h.errs = make([]error, h.deviceCount)
	for i, in := range inputs {
		ctx := workerContext{
			id:         i,
			input:      in,
			negotiator: h.negotiator,
			output:     h.output,
			estimates:  h.estimates,
			confidence: h.confidence,
			batchSize:  h.resultBatchSize,
			now:        h.now,
			log:        h.log.WithValues("device", i),
		}
		if h.backend.Supported() {
			ctx.table = h.tables[i]
			h.runners[i] = newDeviceWorker(ctx)
		} else {
			h.runners[i] = &unsupportedWorker{workerContext: ctx, backend: h.backend.Name()}
		}

		r := h.runners[i]
		h.group.Go(func() error {
			h.errs[i] = r.run()
			return h.errs[i]
		})
	}

	if !h.backend.Supported() {
		return fmt.Errorf("%w: backend %q has no counting devices", model.ErrConfiguration, h.backend.Name())
	}
	return nil
}

// Join waits for every worker to finish, which happens once all input queues
// are closed; there is no timeout. It merges the device statistics, releases
// the tables and returns the combined worker errors. Later calls return the
// same result.
func (h *Hasher) Join() error {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	h.joinOnce.Do(func() {
		_ = h.group.Wait()

		h.deviceStats = make([]model.Stats, len(h.runners))
		for i, r := range h.runners {
			h.deviceStats[i] = r.stats()
			h.total.Add(h.deviceStats[i])
		}
		h.joinErr = multierr.Combine(append(h.errs, h.releaseTables())...)
		h.joined.Store(true)

		h.log.V(logging.VERBOSE).Info("Hasher joined",
			"kmers", h.total.KMers, "unique", h.total.UniqueKMers,
			"belowThreshold", h.total.BelowThreshold, "err", h.joinErr)
	})
	return h.joinErr
}

// Close releases the tables of a hasher that was never started, for
// instance after Start rejected its inputs. A started hasher releases its
// tables in Join, so Close then returns ErrAlreadyStarted.
func (h *Hasher) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrAlreadyStarted
	}
	if h.closed {
		return nil
	}
	h.closed = true
	return h.releaseTables()
}

func (h *Hasher) releaseTables() error {
	var err error
	for _, tbl := range h.tables {
		err = multierr.Append(err, tbl.Close())
	}
	h.tables = nil
	return err
}

// Joined reports whether Join has completed.
func (h *Hasher) Joined() bool {
	return h.joined.Load()
}

func (h *Hasher) DeviceCount() int {
	return h.deviceCount
}

// KMersNumber is the number of k-mers counted by all devices. Like the other
// statistics it is only meaningful after Join.
func (h *Hasher) KMersNumber() uint64 {
	if !h.joined.Load() {
		return 0
	}
	return h.total.KMers
}

func (h *Hasher) UniqueKMersNumber() uint64 {
	if !h.joined.Load() {
		return 0
	}
	return h.total.UniqueKMers
}

func (h *Hasher) BelowThresholdNumber() uint64 {
	if !h.joined.Load() {
		return 0
	}
	return h.total.BelowThreshold
}

// Stats returns the totals of all devices.
func (h *Hasher) Stats() model.Stats {
	if !h.joined.Load() {
		return model.Stats{}
	}
	return h.total
}

// DeviceStats returns the statistics of device i, or false before Join or for
// an unknown device.
func (h *Hasher) DeviceStats(i int) (model.Stats, bool) {
	if !h.joined.Load() || i < 0 || i >= len(h.deviceStats) {
		return model.Stats{}, false
	}
	return h.deviceStats[i], true
}
