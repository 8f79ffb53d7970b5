// Package ingest moves encoded k-mer batches from NATS into the per-device
// input queues.
package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/nats-io/nats.go"

	"GoKmerSpectra/internal/config"
	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/model"
	"GoKmerSpectra/internal/queue"
	"GoKmerSpectra/internal/wire"
)

// HeaderEndOfStream set to "1" on a message ends the stream of its device.
const HeaderEndOfStream = "Kmc-Eos"

// Subject returns the subject carrying the batches of a device.
func Subject(prefix string, device int) string {
	return prefix + "." + strconv.Itoa(device)
}

// Router delivers decoded messages to device queues.
type Router struct {
	prefix string
	inputs []*queue.Queue[*model.KMerBatch]
	log    logr.Logger

	mu     sync.Mutex
	open   int
	closed []bool
	done   chan struct{}
}

func NewRouter(prefix string, inputs []*queue.Queue[*model.KMerBatch], log logr.Logger) *Router {
	r := &Router{
		prefix: prefix,
		inputs: inputs,
		log:    log,
		open:   len(inputs),
		closed: make([]bool, len(inputs)),
		done:   make(chan struct{}),
	}
	if r.open == 0 {
		close(r.done)
	}
	return r
}

// Route handles one message. A batch for a device whose stream has ended is
// an error, as is a subject that names no known device.
func (r *Router) Route(subject string, header nats.Header, data []byte) error {
	device, err := r.device(subject)
	if err != nil {
		return err
	}
	if header.Get(HeaderEndOfStream) == "1" {
		r.closeDevice(device)
		return nil
	}

	batch, err := wire.UnmarshalKMerBatch(data)
	if err != nil {
		return fmt.Errorf("device %d: %w", device, err)
	}
	if err := r.inputs[device].Push(batch); err != nil {
		return fmt.Errorf("device %d: %w", device, err)
	}
	return nil
}

func (r *Router) device(subject string) (int, error) {
	suffix, ok := strings.CutPrefix(subject, r.prefix+".")
	if !ok {
		return 0, fmt.Errorf("unexpected subject %q", subject)
	}
	device, err := strconv.Atoi(suffix)
	if err != nil || device < 0 || device >= len(r.inputs) {
		return 0, fmt.Errorf("subject %q names no device in [0,%d)", subject, len(r.inputs))
	}
	return device, nil
}

func (r *Router) closeDevice(device int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed[device] {
		return
	}
	r.closed[device] = true
	r.inputs[device].Close()
	r.open--
	r.log.V(logging.VERBOSE).Info("End of stream", "device", device, "open", r.open)
	if r.open == 0 {
		close(r.done)
	}
}

// CloseAll ends every device stream that is still open.
func (r *Router) CloseAll() {
	for i := range r.inputs {
		r.closeDevice(i)
	}
}

// Done is closed once every device stream has ended.
func (r *Router) Done() <-chan struct{} {
	return r.done
}

// Subscriber consumes <prefix>.<device> from NATS.
type Subscriber struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	router *Router
	log    logr.Logger
	errors atomic.Int64
}

// NewSubscriber connects to NATS. Nothing is received before Start.
func NewSubscriber(cfg config.IngestConfig, inputs []*queue.Queue[*model.KMerBatch], log logr.Logger) (*Subscriber, error) {
	log = log.WithName("ingest")
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("Connected to NATS server", "url", cfg.NATSURL)
	return &Subscriber{
		nc:     nc,
		router: NewRouter(cfg.SubjectPrefix, inputs, log),
		log:    log,
	}, nil
}

// Start subscribes to every device subject.
func (s *Subscriber) Start() error {
	subject := s.router.prefix + ".*"
	sub, err := s.nc.Subscribe(subject, s.handleBatch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", subject, err)
	}
	// a full device queue blocks the handler; let NATS buffer meanwhile
	if err := sub.SetPendingLimits(-1, -1); err != nil {
		return errors.Join(err, sub.Unsubscribe())
	}
	s.sub = sub
	s.log.Info("Subscribed, waiting for k-mer batches", "subject", subject)
	return nil
}

func (s *Subscriber) handleBatch(msg *nats.Msg) {
	if err := s.router.Route(msg.Subject, msg.Header, msg.Data); err != nil {
		s.errors.Add(1)
		s.log.Error(err, "Dropping message", "subject", msg.Subject)
	}
}

// Done is closed once every device stream has ended.
func (s *Subscriber) Done() <-chan struct{} {
	return s.router.Done()
}

// Stop unsubscribes, closes the connection and ends every device stream.
func (s *Subscriber) Stop() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
	s.router.CloseAll()
	s.log.Info("Ingest stopped", "droppedMessages", s.errors.Load())
}

// Publisher sends k-mer batches to the ingest subjects.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, prefix: prefix}, nil
}

// Publish serializes a batch and publishes it to the device subject.
func (p *Publisher) Publish(device int, batch *model.KMerBatch) error {
	return p.nc.Publish(Subject(p.prefix, device), wire.MarshalKMerBatch(batch))
}

// EndOfStream tells the engine that device will get no more batches.
func (p *Publisher) EndOfStream(device int) error {
	msg := nats.NewMsg(Subject(p.prefix, device))
	msg.Header.Set(HeaderEndOfStream, "1")
	return p.nc.PublishMsg(msg)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
