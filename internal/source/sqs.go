package source

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/go-github/v60/github"

	"dispatchd/internal/config"
	"dispatchd/internal/metrics"
	"dispatchd/internal/tracing"
)

// sqsAPI is the slice of the SQS client the source uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSource long-polls a durable SQS queue of forwarded webhook envelopes.
// Messages are deleted only after the dispatcher has fully reported the
// task, so a crash between receipt and completion causes redelivery rather
// than loss.
type SQSSource struct {
	client      sqsAPI
	secret      string
	queueURL    string
	dlqURL      string
	maxReceive  int
	waitSeconds int32
	builder     *Builder
	submitter   Submitter
	logger      *slog.Logger
}

// NewSQSSource builds the poll source using the default AWS credential
// chain.
func NewSQSSource(ctx context.Context, cfg config.SQSConfig, secret string, builder *Builder, submitter Submitter, logger *slog.Logger) (*SQSSource, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return newSQSSource(sqs.NewFromConfig(awsCfg), cfg, secret, builder, submitter, logger), nil
}

func newSQSSource(client sqsAPI, cfg config.SQSConfig, secret string, builder *Builder, submitter Submitter, logger *slog.Logger) *SQSSource {
	return &SQSSource{
		client:      client,
		secret:      secret,
		queueURL:    cfg.QueueURL,
		dlqURL:      cfg.DeadLetterURL,
		maxReceive:  cfg.MaxReceive,
		waitSeconds: int32(cfg.WaitSeconds),
		builder:     builder,
		submitter:   submitter,
		logger:      logger.With("component", "sqs-source"),
	}
}

// Run long-polls until ctx ends.
func (s *SQSSource) Run(ctx context.Context) error {
	s.logger.Info("sqs source started", "queue_url", s.queueURL)
	for {
		if ctx.Err() != nil {
			s.logger.Info("sqs source stopped")
			return ctx.Err()
		}

		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     s.waitSeconds,
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{
				types.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("sqs source stopped")
				return ctx.Err()
			}
			s.logger.Error("receive failed, backing off", "err", err)
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
			continue
		}

		for _, msg := range out.Messages {
			s.handleMessage(ctx, msg)
		}
	}
}

func (s *SQSSource) handleMessage(ctx context.Context, msg types.Message) {
	body := aws.ToString(msg.Body)
	receipt := aws.ToString(msg.ReceiptHandle)
	attempt := receiveCount(msg)

	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		s.logger.Error("malformed queue message, dead-lettering", "err", err)
		s.deadLetter(ctx, body)
		s.delete(ctx, receipt)
		return
	}

	ctx, span := tracing.IngestSpan(ctx, "sqs", env.Headers.Event)
	defer span.End()

	if attempt > s.maxReceive {
		s.logger.Error("redelivery bound exceeded, dead-lettering",
			"delivery_id", env.Headers.DeliveryID, "attempt", attempt)
		s.deadLetter(ctx, body)
		s.delete(ctx, receipt)
		return
	}

	payload := []byte(env.Payload)
	if s.secret != "" {
		if err := github.ValidateSignature(env.Headers.Signature, payload, []byte(s.secret)); err != nil {
			s.logger.Warn("forwarded message failed signature check, dropping",
				"delivery_id", env.Headers.DeliveryID, "err", err)
			s.delete(ctx, receipt)
			return
		}
	}

	t, err := s.builder.Build("sqs", env.Headers.Event, env.Headers.DeliveryID, payload)
	if err != nil {
		if dropped(err) {
			s.logger.Info("queue message ignored", "delivery_id", env.Headers.DeliveryID, "reason", err)
		} else {
			s.logger.Error("unparseable payload, dead-lettering", "delivery_id", env.Headers.DeliveryID, "err", err)
			s.deadLetter(ctx, body)
		}
		s.delete(ctx, receipt)
		return
	}

	t.Attempt = attempt
	// Deletion is deferred past execution: the dispatcher acknowledges
	// after the Reported transition.
	t.Ack = func(ackCtx context.Context) error {
		_, err := s.client.DeleteMessage(ackCtx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(s.queueURL),
			ReceiptHandle: aws.String(receipt),
		})
		return err
	}

	decision, err := s.submitter.Submit(ctx, t)
	if err != nil {
		// Leave the message in the queue; it will be redelivered.
		s.logger.Error("task submission failed, message will redeliver", "task_id", t.ID, "err", err)
		return
	}
	s.logger.Info("queue message submitted", "task_id", t.ID, "decision", decision, "attempt", attempt)
}

func (s *SQSSource) delete(ctx context.Context, receipt string) {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		s.logger.Error("message delete failed", "err", err)
	}
}

func (s *SQSSource) deadLetter(ctx context.Context, body string) {
	if s.dlqURL == "" {
		s.logger.Warn("no dead-letter queue configured, dropping message")
		return
	}
	_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.dlqURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		s.logger.Error("dead-letter send failed", "err", err)
		return
	}
	metrics.DeadLetteredTotal.WithLabelValues("sqs").Inc()
}

func receiveCount(msg types.Message) int {
	v, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 1
	}
	return n
}
