package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaEventPublisher publishes job-lifecycle transitions for external
// consumers, grounded on the teacher's KafkaCommitPublisher. Publication is
// fire-and-forget from the caller's perspective: WriteMessages runs
// synchronously against the writer's own internal batching, but failures
// are logged and swallowed rather than propagated, since a lost lifecycle
// notification must never fail an ingest job.
type KafkaEventPublisher struct {
	writer *kafka.Writer
}

// NewKafkaEventPublisher builds a publisher; brokers may be empty, in which
// case the caller should use NoopPublisher instead.
func NewKafkaEventPublisher(brokers []string, topic string) *KafkaEventPublisher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaEventPublisher{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, event JobEvent) {
	if p == nil || p.writer == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Msg("job_event_encode_failed")
		return
	}
	msg := kafka.Message{Key: []byte(event.UserID), Value: payload, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Warn().Err(err).Str("job_id", event.JobID.String()).Msg("job_event_publish_failed")
	}
}

// Close shuts down the writer.
func (p *KafkaEventPublisher) Close() {
	if p == nil || p.writer == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		log.Warn().Err(err).Msg("kafka_writer_close_failed")
	}
}
