package sink

import (
	"fmt"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"GoKmerSpectra/internal/config"
	"GoKmerSpectra/internal/factory"
	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/model"
	"GoKmerSpectra/internal/wire"
)

const TypeNATS = "nats"

// Headers set on every published result batch.
const (
	HeaderRunID = "Kmc-Run"
	HeaderFinal = "Kmc-Final"
)

func init() {
	factory.RegisterWriter(TypeNATS, func(def config.WriterDef, env factory.Env) (model.Writer, error) {
		return NewNATSWriter(def.NATS, env.RunID, env.Log)
	})
}

// NATSWriter publishes wire-encoded result batches to
// <subject>.<device>.
type NATSWriter struct {
	nc      *nats.Conn
	subject string
	runID   uuid.UUID
	log     logr.Logger
}

// NewNATSWriter creates a new NATS publisher.
func NewNATSWriter(cfg config.NATSWriterConfig, runID uuid.UUID, log logr.Logger) (*NATSWriter, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("%w: nats writer needs a subject", model.ErrConfiguration)
	}
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log = log.WithName("nats-writer")
	log.Info("Connected to NATS server", "url", cfg.URL, "subject", cfg.Subject)
	return &NATSWriter{nc: nc, subject: cfg.Subject, runID: runID, log: log}, nil
}

// Write serializes the batch and publishes it.
func (w *NATSWriter) Write(rb *model.ResultBatch) error {
	msg := nats.NewMsg(w.subject + "." + strconv.Itoa(rb.DeviceID))
	msg.Data = wire.MarshalResultBatch(rb)
	msg.Header.Set(HeaderRunID, w.runID.String())
	if rb.Final {
		msg.Header.Set(HeaderFinal, "1")
	}
	if err := w.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish result batch: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (w *NATSWriter) Close() error {
	if w.nc == nil {
		return nil
	}
	err := w.nc.Drain()
	w.log.V(logging.VERBOSE).Info("NATS connection drained and closed")
	return err
}
