package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/bulk-logistics/internal/models"
)

// EventPublisher emits shipment lifecycle events to downstream
// consumers (partner notification fan-out, dashboards).
type EventPublisher interface {
	PublishShipmentEvent(ev models.ShipmentEvent) error
	Close() error
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishShipmentEvent keys messages by shipment id so one shipment's
// lifecycle stays ordered within a partition.
func (k *KafkaProducer) PublishShipmentEvent(ev models.ShipmentEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := strconv.FormatInt(ev.ShipmentID, 10)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// NopPublisher drops events; used when Kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishShipmentEvent(models.ShipmentEvent) error { return nil }
func (NopPublisher) Close() error                                    { return nil }
