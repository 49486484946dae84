package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const fetchWait = 2 * time.Second

// Envelope is one event read back from the stream.
type Envelope struct {
	Subject  string          `json:"subject"`
	Sequence uint64          `json:"sequence"`
	Time     time.Time       `json:"time"`
	Data     json.RawMessage `json:"data"`
}

// EventReader reads events back from the event stream.
type EventReader struct {
	js jetstream.JetStream
}

// NewEventReader creates a new EventReader.
func NewEventReader(js jetstream.JetStream) *EventReader {
	return &EventReader{js: js}
}

// Recent returns up to n of the newest events on subject, oldest first.
// An empty subject matches every event.
func (r *EventReader) Recent(ctx context.Context, subject string, n int) ([]Envelope, error) {
	if subject == "" {
		subject = "coach.events.>"
	}

	stream, err := r.js.Stream(ctx, StreamEvents)
	if err != nil {
		return nil, fmt.Errorf("looking up stream %s: %w", StreamEvents, err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading stream %s info: %w", StreamEvents, err)
	}
	last := info.State.LastSeq
	if last == 0 || n <= 0 {
		return nil, nil
	}
	start := uint64(1)
	if last > uint64(n) {
		start = last - uint64(n) + 1
	}

	consumer, err := stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:    start,
	})
	if err != nil {
		return nil, fmt.Errorf("creating reader on %s: %w", subject, err)
	}

	batch, err := consumer.Fetch(int(last-start+1), jetstream.FetchMaxWait(fetchWait))
	if err != nil {
		return nil, fmt.Errorf("fetching from %s: %w", subject, err)
	}

	var out []Envelope
	for m := range batch.Messages() {
		env := Envelope{Subject: m.Subject(), Data: json.RawMessage(m.Data())}
		if meta, err := m.Metadata(); err == nil {
			env.Sequence = meta.Sequence.Stream
			env.Time = meta.Timestamp
		}
		out = append(out, env)
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return out, fmt.Errorf("fetching from %s: %w", subject, err)
	}
	return out, nil
}
