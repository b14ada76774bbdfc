package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskfleet/dispatch/internal/lg"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaForwarderEnvelope(t *testing.T) {
	writer := &fakeWriter{}
	runID := uuid.New()
	f := &KafkaForwarder{writer: writer, runID: runID, topic: "run-events", lg: lg.Discard}

	f.Handle(EventListOptions, ListOptions{Tasks: true, Hosts: true})

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, runID[:], msg.Key)

	var env eventEnvelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, runID.String(), env.RunID)
	assert.Equal(t, EventListOptions, env.Event)
	assert.False(t, env.SentAt.IsZero())
}

func TestKafkaForwarderSwallowsWriteErrors(t *testing.T) {
	writer := &fakeWriter{err: fmt.Errorf("broker down")}
	f := &KafkaForwarder{writer: writer, runID: uuid.New(), topic: "run-events", lg: lg.Discard}

	// bus delivery is fire-and-forget; a failing broker must not panic
	f.Handle(EventRunnerOK, nil)
	assert.Empty(t, writer.messages)
}
