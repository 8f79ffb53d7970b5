package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"

	"GoKmerSpectra/internal/config"
	"GoKmerSpectra/internal/factory"
	"GoKmerSpectra/internal/logging"
	"GoKmerSpectra/internal/model"
	"GoKmerSpectra/internal/wire"
)

const (
	TypeAMQP = "amqp"

	publishTimeout = 5 * time.Second
)

func init() {
	factory.RegisterWriter(TypeAMQP, func(def config.WriterDef, env factory.Env) (model.Writer, error) {
		return NewAMQPWriter(def.AMQP, env.RunID, env.Log)
	})
}

// AMQPWriter sends wire-encoded result batches to a durable RabbitMQ queue
// through the default exchange.
type AMQPWriter struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	runID   uuid.UUID
	log     logr.Logger
}

// NewAMQPWriter dials the broker and declares the queue.
func NewAMQPWriter(cfg config.AMQPWriterConfig, runID uuid.UUID, log logr.Logger) (*AMQPWriter, error) {
	if cfg.Queue == "" {
		return nil, fmt.Errorf("%w: amqp writer needs a queue", model.ErrConfiguration)
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue '%s': %w", cfg.Queue, err)
	}

	log = log.WithName("amqp-writer")
	log.Info("Declared RabbitMQ queue", "queue", cfg.Queue)
	return &AMQPWriter{conn: conn, channel: ch, queue: cfg.Queue, runID: runID, log: log}, nil
}

func (w *AMQPWriter) Write(rb *model.ResultBatch) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err := w.channel.PublishWithContext(ctx,
		"",      // exchange (empty for default queue)
		w.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:   "application/x-protobuf",
			DeliveryMode:  amqp.Persistent,
			MessageId:     uuid.NewString(),
			CorrelationId: w.runID.String(),
			Timestamp:     time.Now(),
			Headers: amqp.Table{
				"device": int32(rb.DeviceID),
				"file":   int64(rb.FileID),
				"final":  rb.Final,
			},
			Body: wire.MarshalResultBatch(rb),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to queue '%s': %w", w.queue, err)
	}
	return nil
}

func (w *AMQPWriter) Close() error {
	err := multierr.Append(w.channel.Close(), w.conn.Close())
	w.log.V(logging.VERBOSE).Info("RabbitMQ channel closed", "queue", w.queue)
	return err
}
