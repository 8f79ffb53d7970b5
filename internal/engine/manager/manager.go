// Package manager wires configuration, devices, queues, writers and the
// status surface into one counting run.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"GoKmerSpectra/internal/api"
	"GoKmerSpectra/internal/config"
	"GoKmerSpectra/internal/engine/device"
	"GoKmerSpectra/internal/engine/hasher"
	"GoKmerSpectra/internal/engine/negotiator"
	"GoKmerSpectra/internal/estimate"
	"GoKmerSpectra/internal/factory"
	"GoKmerSpectra/internal/ingest"
	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/metrics"
	"GoKmerSpectra/internal/model"
	"GoKmerSpectra/internal/queue"
	"GoKmerSpectra/internal/sink" // Registers the result writers
)

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry sets where metrics are registered and served from. The
// default is the global Prometheus registry.
func WithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) Option {
	return func(m *Manager) {
		m.registerer = reg
		m.gatherer = gatherer
	}
}

// Manager orchestrates one counting run: ingest, hasher and writers.
type Manager struct {
	cfg   *config.Config
	log   logr.Logger
	runID uuid.UUID

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	negotiator *negotiator.Negotiator
	estimates  *estimate.Set
	inputs     []*queue.Queue[*model.KMerBatch]
	output     *queue.Queue[*model.ResultBatch]
	hasher     *hasher.Hasher
	drainer    *sink.Drainer
	ingest     *ingest.Subscriber
	api        *api.Server

	drainDone chan struct{}
	drainErr  error

	waitOnce sync.Once
	waitErr  error
	stopOnce sync.Once
}

// NewManager creates a new Manager. Nothing runs before Start.
func NewManager(cfg *config.Config, log logr.Logger, opts ...Option) (_ *Manager, err error) {
	m := &Manager{
		cfg:        cfg,
		log:        log.WithName("manager"),
		runID:      uuid.New(),
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		drainDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	metrics.Register(m.registerer)

	// 1. Negotiator and cardinality estimates
	m.negotiator, err = negotiator.New(negotiator.Config{
		Smoothing: cfg.Negotiator.Smoothing,
		MinRatio:  cfg.Negotiator.MinRatio,
		CacheSize: cfg.Negotiator.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create negotiator: %w", err)
	}
	if cfg.Estimates.Path != "" {
		m.estimates, err = estimate.LoadDir(cfg.Estimates.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load estimates: %w", err)
		}
		m.log.Info("Loaded cardinality estimates", "files", m.estimates.Len(), "path", cfg.Estimates.Path)
	} else {
		m.estimates = estimate.NewSet()
	}

	// 2. Queues
	m.inputs = make([]*queue.Queue[*model.KMerBatch], cfg.Engine.NumDevices)
	for i := range m.inputs {
		m.inputs[i] = queue.New[*model.KMerBatch](cfg.Engine.QueueSize)
	}
	m.output = queue.New[*model.ResultBatch](cfg.Engine.OutputQueueSize)

	// 3. Writers, released again if anything below fails
	writers, err := factory.Create(cfg.Writers, factory.Env{K: cfg.KMer.K, RunID: m.runID, Log: log})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			for _, w := range writers {
				err = multierr.Append(err, w.Close())
			}
		}
	}()
	m.drainer = sink.NewDrainer(m.output, writers, log)

	// 4. Optional ingest
	if cfg.Ingest.Enabled {
		m.ingest, err = ingest.NewSubscriber(cfg.Ingest, m.inputs, log)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				m.ingest.Stop()
			}
		}()
	}

	// 5. Devices and hasher, last since its tables are only released by Join
	backend, err := device.FromConfig(cfg.Device)
	if err != nil {
		return nil, err
	}
	m.hasher, err = hasher.New(
		cfg.Engine.NumDevices,
		m.negotiator,
		m.output,
		m.estimates,
		cfg.Engine.ScratchPath,
		cfg.Engine.ThresholdMin,
		hasher.WithBackend(backend),
		hasher.WithConfidence(cfg.Engine.Confidence),
		hasher.WithResultBatchSize(cfg.Engine.ResultBatchSize),
		hasher.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	// 6. Optional status surface
	if cfg.API.ListenAddr != "" || cfg.API.GRPCAddr != "" {
		m.api = api.NewServer(cfg.API, api.NewAPIHandler(m.hasher, m.negotiator, m.gatherer), log)
	}

	m.log.Info("Manager created", "run", m.runID, "devices", cfg.Engine.NumDevices,
		"backend", backend.Name(), "writers", len(writers))
	return m, nil
}

// Start launches the drainer, the device workers, ingest and the API.
func (m *Manager) Start() error {
	// 1. The drainer must consume before any worker can push.
	go func() {
		m.drainErr = m.drainer.Run()
		close(m.drainDone)
	}()

	// 2. Workers. On a backend without devices they only drain their inputs.
	if err := m.hasher.Start(m.inputs); err != nil {
		// a hasher that rejected its inputs still holds its tables
		if cerr := m.hasher.Close(); !errors.Is(cerr, hasher.ErrAlreadyStarted) {
			err = multierr.Append(err, cerr)
		}
		return err
	}

	// 3. Producers and status.
	if m.ingest != nil {
		if err := m.ingest.Start(); err != nil {
			return err
		}
	}
	if m.api != nil {
		if err := m.api.Start(); err != nil {
			return err
		}
		m.api.SetServing(true)
	}
	m.log.Info("Manager started", "run", m.runID)
	return nil
}

// Inputs returns the per-device input queues for in-process producers. Every
// queue must be closed for the run to finish.
func (m *Manager) Inputs() []*queue.Queue[*model.KMerBatch] {
	return m.inputs
}

// IngestDone is closed once ingest has seen the end of every device stream.
// It is nil when ingest is disabled.
func (m *Manager) IngestDone() <-chan struct{} {
	if m.ingest == nil {
		return nil
	}
	return m.ingest.Done()
}

// Wait blocks until every input queue is closed and all results have been
// written. Later calls return the same result.
func (m *Manager) Wait() error {
	m.waitOnce.Do(func() {
		// 1. Wait for every device to be done.
		hashErr := m.hasher.Join()

		// 2. No more results can be produced; let the drainer finish.
		m.output.Close()
		<-m.drainDone

		m.waitErr = multierr.Combine(hashErr, m.drainErr)
		stats := m.hasher.Stats()
		m.log.Info("Counting finished", "run", m.runID,
			"kmers", stats.KMers, "unique", stats.UniqueKMers,
			"belowThreshold", stats.BelowThreshold, "err", m.waitErr)
		m.log.V(logging.VERBOSE).Info("Output", "drain", m.drainer.Stats())
	})
	return m.waitErr
}

// Stop ends every input stream, waits for the run to finish and shuts the
// API down.
func (m *Manager) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		m.log.Info("Manager stopping...")
		if m.ingest != nil {
			m.ingest.Stop()
		}
		for _, in := range m.inputs {
			in.Close()
		}
		err = m.Wait()
		if m.api != nil {
			err = multierr.Append(err, m.api.Shutdown(ctx))
		}
		m.log.Info("Manager stopped.")
	})
	return err
}

// Stats returns the run totals once Wait has returned.
func (m *Manager) Stats() model.Stats {
	return m.hasher.Stats()
}

func (m *Manager) RunID() uuid.UUID {
	return m.runID
}
