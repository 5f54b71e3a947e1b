// Package events publishes one analytics record per executed query to
// Kafka.
package events

import (
	"context"

	"github.com/strata-search/strata/internal/query"
	"github.com/strata-search/strata/pkg/kafka"
)

// Emitter forwards query events to the batching Kafka producer. Events are
// keyed by the normalized query so repeats of the same query land on the
// same partition.
type Emitter struct {
	producer *kafka.Producer
}

// New wraps a producer as a query event sink.
func New(producer *kafka.Producer) *Emitter {
	return &Emitter{producer: producer}
}

// QueryExecuted enqueues one event; the producer batches and never blocks
// the query path.
func (e *Emitter) QueryExecuted(_ context.Context, ev query.QueryEvent) {
	e.producer.Publish(ev.Query, ev)
}

// Close flushes the underlying producer.
func (e *Emitter) Close() error { return e.producer.Close() }
