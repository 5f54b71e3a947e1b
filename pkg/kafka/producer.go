// Package kafka publishes query-analytics records. Events are JSON-encoded
// and buffered in-process; full batches are written from a background
// goroutine and a ticker loop flushes partial ones, so the query path never
// waits on a broker round trip.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/strata-search/strata/pkg/config"
)

const (
	// flushBatchSize is the number of buffered events that triggers an
	// immediate flush.
	flushBatchSize = 100

	// flushInterval bounds how long a partial batch may sit in memory.
	flushInterval = time.Second

	// maxBuffered caps the in-process buffer; events beyond it are dropped
	// rather than stalling query execution.
	maxBuffered = 10000
)

// Producer accumulates events and writes them to one Kafka topic in
// batches.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger

	mu      sync.Mutex
	pending []kafka.Message
	dropped uint64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewProducer creates a batching producer for the configured topic and
// starts its flush loop.
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
	}
	p := &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", cfg.Topic),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.flushLoop()
	return p
}

// Publish enqueues one event. The key selects the partition; the value is
// JSON-encoded here so callers hand over plain structs. Never blocks on
// the broker: when the buffer is full the event is dropped and counted.
func (p *Producer) Publish(key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		p.logger.Error("event not serializable", "key", key, "error", err)
		return
	}
	p.mu.Lock()
	if len(p.pending) >= maxBuffered {
		p.dropped++
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, kafka.Message{Key: []byte(key), Value: data})
	full := len(p.pending) >= flushBatchSize
	p.mu.Unlock()
	if full {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.flush()
		}()
	}
}

func (p *Producer) flushLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.flush()
		case <-p.done:
			p.flush()
			return
		}
	}
}

// flush writes the buffered batch in one WriteMessages call. On failure
// the batch is dropped; analytics loss must not surface to queries.
func (p *Producer) flush() {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	dropped := p.dropped
	p.dropped = 0
	p.mu.Unlock()
	if dropped > 0 {
		p.logger.Warn("event buffer overflowed", "dropped", dropped)
	}
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, batch...); err != nil {
		p.logger.Error("batch publish failed", "events", len(batch), "error", err)
	}
}

// Close flushes the remaining events and closes the writer.
func (p *Producer) Close() error {
	close(p.done)
	p.wg.Wait()
	return p.writer.Close()
}
