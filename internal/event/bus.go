package event

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aaoferreira/vault-v2/internal/observability"
)

// Record is a sequenced event ready for the durable log and the outbound
// publisher.
type Record struct {
	Sequence   int64
	Type       string
	Vault      string
	Collateral string
	Payload    Event
	Timestamp  time.Time
}

// Bus assigns the global event sequence and fans records out. Sends to the
// persist channel block so no event is lost; sends to the publish channel
// drop when the publisher falls behind, since downstream consumers can
// always re-read the durable log.
type Bus struct {
	mu  sync.Mutex
	seq int64

	persist chan<- Record
	publish chan<- Record
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewBus(startSequence int64, persist, publish chan<- Record, metrics *observability.Metrics, log zerolog.Logger) *Bus {
	return &Bus{
		seq:     startSequence,
		persist: persist,
		publish: publish,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
}

// Emit sequences the event and hands it to both sinks. Returns the
// assigned sequence.
func (b *Bus) Emit(e Event) int64 {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.mu.Unlock()

	rec := Record{
		Sequence:   seq,
		Type:       e.EventType().String(),
		Vault:      e.VaultID(),
		Collateral: e.CollateralID(),
		Payload:    e,
		Timestamp:  b.now(),
	}

	if b.metrics != nil {
		b.metrics.EventSequence.Set(float64(seq))
	}

	if b.persist != nil {
		b.persist <- rec
	}

	if b.publish != nil {
		select {
		case b.publish <- rec:
		default:
			if b.metrics != nil {
				b.metrics.PublishDrops.Inc()
			}
			b.log.Warn().Int64("sequence", seq).Str("type", rec.Type).
				Msg("publish channel full, event dropped from outbound stream")
		}
	}

	return seq
}

// Sequence returns the last assigned sequence.
func (b *Bus) Sequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
