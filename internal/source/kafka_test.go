package source

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	kgo "github.com/segmentio/kafka-go"

	"dispatchd/internal/task"
)

type fakeKafkaReader struct {
	mu        sync.Mutex
	committed []int64
	closed    bool
}

func (f *fakeKafkaReader) FetchMessage(ctx context.Context) (kgo.Message, error) {
	<-ctx.Done()
	return kgo.Message{}, ctx.Err()
}

func (f *fakeKafkaReader) CommitMessages(ctx context.Context, msgs ...kgo.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeKafkaReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeKafkaReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.committed))
	copy(out, f.committed)
	return out
}

type fakeKafkaWriter struct {
	mu      sync.Mutex
	written []kgo.Message
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kgo.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error { return nil }

func (f *fakeKafkaWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func newTestKafkaSource(reader kafkaReader, dlq kafkaWriter, submitter Submitter) *KafkaSource {
	return newKafkaSource(reader, dlq, testSecret, testBuilder(), submitter, slog.New(slog.DiscardHandler))
}

func TestKafkaCommitDeferredUntilReported(t *testing.T) {
	reader := &fakeKafkaReader{}
	submitter := &fakeSubmitter{decision: task.Accepted}
	s := newTestKafkaSource(reader, nil, submitter)

	msg := kgo.Message{Offset: 7, Value: []byte(envelopeBody(t, testSecret, triggeringIssuePayload))}
	s.handleMessage(context.Background(), msg)

	if len(submitter.submitted) != 1 {
		t.Fatalf("expected 1 submitted task, got %d", len(submitter.submitted))
	}
	if got := reader.commits(); len(got) != 0 {
		t.Fatalf("offset committed before the task was reported: %v", got)
	}

	tk := submitter.submitted[0]
	if err := tk.Acknowledge(context.Background()); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	if got := reader.commits(); len(got) != 1 || got[0] != 7 {
		t.Errorf("ack did not commit the right offset: %v", got)
	}
}

func TestKafkaMalformedMessageDeadLetters(t *testing.T) {
	reader := &fakeKafkaReader{}
	dlq := &fakeKafkaWriter{}
	submitter := &fakeSubmitter{decision: task.Accepted}
	s := newTestKafkaSource(reader, dlq, submitter)

	s.handleMessage(context.Background(), kgo.Message{Offset: 1, Value: []byte("{broken")})

	if dlq.count() != 1 {
		t.Error("malformed message was not dead-lettered")
	}
	if len(reader.commits()) != 1 {
		t.Error("malformed message offset was not committed")
	}
	if len(submitter.submitted) != 0 {
		t.Error("malformed message reached the dispatcher")
	}
}

func TestKafkaBadSignatureDropped(t *testing.T) {
	reader := &fakeKafkaReader{}
	dlq := &fakeKafkaWriter{}
	submitter := &fakeSubmitter{decision: task.Accepted}
	s := newTestKafkaSource(reader, dlq, submitter)

	msg := kgo.Message{Offset: 2, Value: []byte(envelopeBody(t, "other secret", triggeringIssuePayload))}
	s.handleMessage(context.Background(), msg)

	if len(submitter.submitted) != 0 {
		t.Error("message with a bad signature reached the dispatcher")
	}
	if dlq.count() != 0 {
		t.Error("bad signature should be dropped, not dead-lettered")
	}
	if len(reader.commits()) != 1 {
		t.Error("dropped message offset was not committed")
	}
}

func TestKafkaSubmitErrorLeavesOffset(t *testing.T) {
	reader := &fakeKafkaReader{}
	submitter := &fakeSubmitter{decision: task.Rejected, err: errors.New("shutting down")}
	s := newTestKafkaSource(reader, nil, submitter)

	msg := kgo.Message{Offset: 3, Value: []byte(envelopeBody(t, testSecret, triggeringIssuePayload))}
	s.handleMessage(context.Background(), msg)

	if len(reader.commits()) != 0 {
		t.Error("offset must stay uncommitted after a submit error")
	}
}

func TestKafkaRunClosesReader(t *testing.T) {
	reader := &fakeKafkaReader{}
	submitter := &fakeSubmitter{decision: task.Accepted}
	s := newTestKafkaSource(reader, nil, submitter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	reader.mu.Lock()
	defer reader.mu.Unlock()
	if !reader.closed {
		t.Error("run must close the reader on exit")
	}
}
