package callback

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/taskfleet/dispatch/internal/lg"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaForwarder relays run events to a Kafka topic so out-of-process
// reporting layers can consume them. Delivery failures are logged, not
// surfaced: the bus contract is fire-and-forget.
type KafkaForwarder struct {
	writer messageWriter
	runID  uuid.UUID
	topic  string
	lg     lg.Logger
}

type eventEnvelope struct {
	RunID   string    `json:"run_id"`
	Event   string    `json:"event"`
	Payload any       `json:"payload,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

func NewKafkaForwarder(brokers []string, topic string, runID uuid.UUID, logger lg.Logger) *KafkaForwarder {
	return &KafkaForwarder{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			Async:                  false,
			AllowAutoTopicCreation: true,
		},
		runID: runID,
		topic: topic,
		lg:    logger,
	}
}

func (f *KafkaForwarder) Handle(event string, payload any) {
	env := eventEnvelope{
		RunID:   f.runID.String(),
		Event:   event,
		Payload: payload,
		SentAt:  time.Now(),
	}
	value, err := json.Marshal(env)
	if err != nil {
		f.lg.Error("failed to marshal event", lg.String("event", event), lg.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = f.writer.WriteMessages(ctx, kafka.Message{
		Key:   f.runID[:],
		Value: value,
		Time:  env.SentAt,
	})
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			f.lg.Error("kafka topic does not exist",
				lg.String("topic", f.topic),
				lg.String("action", "create the topic manually or enable auto-creation"))
			return
		}
		f.lg.Error("failed to forward event", lg.String("event", event), lg.Err(err))
	}
}

func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}
