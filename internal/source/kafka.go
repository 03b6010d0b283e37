package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/go-github/v60/github"
	kgo "github.com/segmentio/kafka-go"

	"dispatchd/internal/config"
	"dispatchd/internal/metrics"
	"dispatchd/internal/tracing"
)

// kafkaReader is the slice of kafka-go's Reader the source uses.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kgo.Message, error)
	CommitMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// kafkaWriter is the dead-letter producer surface.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// KafkaSource is the poll TaskSource for deployments that front the
// dispatcher with a Kafka topic instead of SQS. Offsets are committed
// manually, only once the task is fully reported.
type KafkaSource struct {
	reader    kafkaReader
	dlq       kafkaWriter
	secret    string
	builder   *Builder
	submitter Submitter
	logger    *slog.Logger
}

// NewKafkaSource builds the Kafka poll source.
func NewKafkaSource(cfg config.KafkaConfig, secret string, builder *Builder, submitter Submitter, logger *slog.Logger) *KafkaSource {
	reader := kgo.NewReader(kgo.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
	})

	var dlq kafkaWriter
	if cfg.DeadLetterTopic != "" {
		dlq = &kgo.Writer{
			Addr:  kgo.TCP(cfg.Brokers...),
			Topic: cfg.DeadLetterTopic,
		}
	}

	return newKafkaSource(reader, dlq, secret, builder, submitter, logger)
}

func newKafkaSource(reader kafkaReader, dlq kafkaWriter, secret string, builder *Builder, submitter Submitter, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{
		reader:    reader,
		dlq:       dlq,
		secret:    secret,
		builder:   builder,
		submitter: submitter,
		logger:    logger.With("component", "kafka-source"),
	}
}

// Run fetches messages until ctx ends.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.logger.Info("kafka source started")
	defer s.close()

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("kafka source stopped")
				return ctx.Err()
			}
			s.logger.Error("fetch failed, backing off", "err", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
			continue
		}
		s.handleMessage(ctx, msg)
	}
}

func (s *KafkaSource) handleMessage(ctx context.Context, msg kgo.Message) {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		s.logger.Error("malformed topic message, dead-lettering", "err", err)
		s.deadLetter(ctx, msg.Value)
		s.commit(ctx, msg)
		return
	}

	ctx, span := tracing.IngestSpan(ctx, "kafka", env.Headers.Event)
	defer span.End()

	payload := []byte(env.Payload)
	if s.secret != "" {
		if err := github.ValidateSignature(env.Headers.Signature, payload, []byte(s.secret)); err != nil {
			s.logger.Warn("forwarded message failed signature check, dropping",
				"delivery_id", env.Headers.DeliveryID, "err", err)
			s.commit(ctx, msg)
			return
		}
	}

	t, err := s.builder.Build("kafka", env.Headers.Event, env.Headers.DeliveryID, payload)
	if err != nil {
		if dropped(err) {
			s.logger.Info("topic message ignored", "delivery_id", env.Headers.DeliveryID, "reason", err)
		} else {
			s.logger.Error("unparseable payload, dead-lettering", "delivery_id", env.Headers.DeliveryID, "err", err)
			s.deadLetter(ctx, msg.Value)
		}
		s.commit(ctx, msg)
		return
	}

	// Offset commit is the acknowledgment; it runs after Reported.
	t.Ack = func(ackCtx context.Context) error {
		return s.reader.CommitMessages(ackCtx, msg)
	}

	decision, err := s.submitter.Submit(ctx, t)
	if err != nil {
		// Uncommitted; the message redelivers on rebalance or restart.
		s.logger.Error("task submission failed, message will redeliver", "task_id", t.ID, "err", err)
		return
	}
	s.logger.Info("topic message submitted", "task_id", t.ID, "decision", decision)
}

func (s *KafkaSource) commit(ctx context.Context, msg kgo.Message) {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.reader.CommitMessages(cctx, msg); err != nil {
		s.logger.Error("offset commit failed", "err", err)
	}
}

func (s *KafkaSource) deadLetter(ctx context.Context, value []byte) {
	if s.dlq == nil {
		s.logger.Warn("no dead-letter topic configured, dropping message")
		return
	}
	if err := s.dlq.WriteMessages(ctx, kgo.Message{Value: value}); err != nil {
		s.logger.Error("dead-letter write failed", "err", err)
		return
	}
	metrics.DeadLetteredTotal.WithLabelValues("kafka").Inc()
}

func (s *KafkaSource) close() {
	if err := s.reader.Close(); err != nil {
		s.logger.Error("reader close failed", "err", err)
	}
	if s.dlq != nil {
		if err := s.dlq.Close(); err != nil {
			s.logger.Error("dead-letter writer close failed", "err", err)
		}
	}
}
