// Package audit keeps the verification audit trail.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Publisher records verification outcomes. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store   Store
	records chan Record
	wg      sync.WaitGroup
	logger  *slog.Logger
	async   bool
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async processing with the specified buffer size.
// Records are queued and persisted in a background goroutine.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.records = make(chan Record, size)
			p.async = true
		}
	}
}

// WithPublisherLogger sets a logger for async error reporting.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.process()
	}
	return p
}

func (p *Publisher) process() {
	defer p.wg.Done()
	for record := range p.records {
		if err := p.store.Append(context.Background(), record); err != nil && p.logger != nil {
			p.logger.Error("failed to persist verification audit record",
				"error", err,
				"issuer_id", record.IssuerID,
				"verdict", record.Verdict,
			)
		}
	}
}

// Close shuts down the async publisher and waits for pending records to drain.
func (p *Publisher) Close() {
	if p.async && p.records != nil {
		close(p.records)
		p.wg.Wait()
	}
}

// Emit stamps the record with an id and time when missing and stores it.
func (p *Publisher) Emit(ctx context.Context, record Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	if p.async {
		// Dropping beats blocking the verification hot path.
		select {
		case p.records <- record:
			return nil
		default:
			if p.logger != nil {
				p.logger.Warn("audit buffer full, record dropped",
					"issuer_id", record.IssuerID,
					"verdict", record.Verdict,
				)
			}
			return nil
		}
	}
	return p.store.Append(ctx, record)
}

func (p *Publisher) List(ctx context.Context, filter Filter) ([]Record, error) {
	return p.store.List(ctx, filter)
}
