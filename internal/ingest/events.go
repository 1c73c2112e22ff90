// Package ingest publishes booking lifecycle events to Kafka for the
// analytics pipeline. Publishing is fire-and-forget; a broker outage must
// never stall a negotiation.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/booking"
)

type event struct {
	Kind            string         `json:"kind"`
	BookingID       string         `json:"booking_id"`
	Status          booking.Status `json:"status"`
	AcceptedOfferID string         `json:"accepted_offer_id,omitempty"`
	OfferCount      int            `json:"offer_count"`
	At              time.Time      `json:"at"`
}

type KafkaEvents struct {
	writer *kafka.Writer
	log    *slog.Logger
}

func NewKafkaEvents(brokers []string, topic string, log *slog.Logger) *KafkaEvents {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaEvents{writer: w, log: log}
}

// Publish writes one lifecycle event keyed by booking id so all events of a
// session land on the same partition in order.
func (k *KafkaEvents) Publish(ctx context.Context, kind string, res *booking.Resource) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	b, err := json.Marshal(event{
		Kind:            kind,
		BookingID:       res.ID,
		Status:          res.Status,
		AcceptedOfferID: res.AcceptedOfferID,
		OfferCount:      len(res.Offers),
		At:              time.Now().UTC(),
	})
	if err != nil {
		k.log.Error("marshal lifecycle event", "kind", kind, "error", err)
		return
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(res.ID), Value: b}); err != nil {
		k.log.Warn("publish lifecycle event failed", "kind", kind, "booking_id", res.ID, "error", err)
	}
}

func (k *KafkaEvents) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
