// Package notify publishes auction events to NATS JetStream for bots and
// downstream consumers. Subjects follow the pattern:
// witch.auction.events.{event_type}.{collateral}
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/aaoferreira/vault-v2/internal/event"
)

// Publisher drains sequenced auction events and publishes them outbound.
// Publishing is best-effort: a failed publish is logged and skipped, since
// consumers can always re-read the durable event log.
type Publisher struct {
	js    jetstream.JetStream
	input <-chan event.Record
	log   zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, input <-chan event.Record, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, input: input, log: log}
}

// outboundEvent is the published wire form.
type outboundEvent struct {
	Sequence   int64       `json:"sequence"`
	EventType  string      `json:"event_type"`
	Vault      string      `json:"vault,omitempty"`
	Collateral string      `json:"collateral,omitempty"`
	Payload    interface{} `json:"payload"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Run starts the publisher loop, blocking until ctx is cancelled or the
// input channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, rec); err != nil {
				p.log.Warn().Err(err).Int64("sequence", rec.Sequence).
					Str("type", rec.Type).Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, rec event.Record) error {
	data, err := json.Marshal(outboundEvent{
		Sequence:   rec.Sequence,
		EventType:  rec.Type,
		Vault:      rec.Vault,
		Collateral: rec.Collateral,
		Payload:    rec.Payload,
		Timestamp:  rec.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("witch.auction.events.%s", rec.Type)
	if rec.Collateral != "" {
		subject = fmt.Sprintf("%s.%s", subject, rec.Collateral)
	}

	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureAuctionStream creates or updates the outbound events stream.
func EnsureAuctionStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "WITCH_AUCTION_EVENTS",
		Subjects:  []string{"witch.auction.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create auction stream: %w", err)
	}
	return nil
}
