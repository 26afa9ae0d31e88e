package events

import (
	"context"
	"encoding/json"
	"fmt"

	"docproof/internal/platform/kafka/consumer"
	"docproof/internal/platform/kafka/producer"
)

const headerKind = "kind"

// MessagePublisher is the subset of the Kafka producer the publisher needs.
type MessagePublisher interface {
	Publish(ctx context.Context, msg producer.Message) error
}

// KafkaPublisher writes notifications to a topic as JSON, keyed by hash so
// changes to one record stay ordered within a partition.
type KafkaPublisher struct {
	producer MessagePublisher
	topic    string
}

func NewKafkaPublisher(p MessagePublisher, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

func (p *KafkaPublisher) PublishRecordChanged(ctx context.Context, ev RecordChanged) error {
	return p.publish(ctx, Notification{Kind: KindRecordChanged, Record: &ev}, []byte(ev.Hash))
}

func (p *KafkaPublisher) PublishStorageChanged(ctx context.Context) error {
	return p.publish(ctx, Notification{Kind: KindStorageChanged}, nil)
}

func (p *KafkaPublisher) publish(ctx context.Context, n Notification, key []byte) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return p.producer.Publish(ctx, producer.Message{
		Topic:   p.topic,
		Key:     key,
		Value:   payload,
		Headers: map[string]string{headerKind: string(n.Kind)},
	})
}

// Relay is a consumer.Handler that decodes notifications from Kafka and
// republishes them on a local Bus.
type Relay struct {
	bus *Bus
}

func NewRelay(bus *Bus) *Relay {
	return &Relay{bus: bus}
}

func (r *Relay) Handle(ctx context.Context, msg *consumer.Message) error {
	n, err := Decode(msg.Value)
	if err != nil {
		return err
	}
	r.bus.Publish(ctx, n)
	return nil
}

// Decode parses a notification payload and checks its shape.
func Decode(data []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	switch n.Kind {
	case KindStorageChanged:
		n.Record = nil
	case KindRecordChanged:
		if n.Record == nil {
			return Notification{}, fmt.Errorf("decode notification: %s without record", n.Kind)
		}
	default:
		return Notification{}, fmt.Errorf("decode notification: unknown kind %q", n.Kind)
	}
	return n, nil
}
