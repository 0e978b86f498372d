// Package publisher forwards attributable usage to the revenue distribution
// process as Kafka records.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	usagemodels "alma/internal/usage/models"
)

// AttributionEvent is the wire form of one attributable use.
type AttributionEvent struct {
	UsageID          string    `json:"usage_id"`
	Entity           string    `json:"entity"`
	Action           string    `json:"action"`
	ActorID          string    `json:"actor_id"`
	OccurredAt       time.Time `json:"occurred_at"`
	RevenueGenerated *int64    `json:"revenue_generated,omitempty"`
	ConsentEntryID   string    `json:"consent_entry_id"`
	ConsentLevel     string    `json:"consent_level"`
	Client           string    `json:"client,omitempty"`
}

// FromEntry builds the event for e.
func FromEntry(e usagemodels.Entry) AttributionEvent {
	return AttributionEvent{
		UsageID:          e.ID.String(),
		Entity:           e.Entity.String(),
		Action:           string(e.Action),
		ActorID:          e.ActorID.String(),
		OccurredAt:       e.Timestamp,
		RevenueGenerated: e.RevenueGenerated,
		ConsentEntryID:   e.ConsentEntryID.String(),
		ConsentLevel:     string(e.ConsentLevel),
		Client:           e.Client,
	}
}

// producer is the subset of *kgo.Client the publisher needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Kafka publishes attribution events keyed by entity ref, so every event for
// one record lands on the same partition in order.
type Kafka struct {
	client producer
	topic  string
}

// NewKafka connects a producer to brokers. Extra kgo options are appended
// after the defaults.
func NewKafka(brokers []string, topic string, opts ...kgo.Opt) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic required")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchMaxBytes(1 << 20),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Kafka{client: client, topic: topic}, nil
}

// Publish writes e and waits for the broker acknowledgement.
func (k *Kafka) Publish(ctx context.Context, e usagemodels.Entry) error {
	value, err := json.Marshal(FromEntry(e))
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(e.Entity.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte("usage.attributable")},
		},
	}
	return k.client.ProduceSync(ctx, record).FirstErr()
}

func (k *Kafka) Close() {
	k.client.Close()
}

// Noop drops events. It is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, usagemodels.Entry) error { return nil }

func (Noop) Close() {}
