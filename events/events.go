// Package events publishes decision activity for downstream consumers such as
// the announcement renderer or an audit sink.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	TypeDecisionCreated = "decision.created"
	TypeVotersAdded     = "decision.voters_added"
	TypeVoteCast        = "vote.cast"
	TypeDecisionClosed  = "decision.closed"
)

type DecisionEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	DecisionID string    `json:"decisionId"`
	UserID     string    `json:"userId,omitempty"`
	Value      string    `json:"value,omitempty"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

func NewEvent(eventType, decisionID string) DecisionEvent {
	return DecisionEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		DecisionID: decisionID,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event DecisionEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher keys messages by decision id so one decision's events stay
// ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event DecisionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.DecisionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}); err != nil {
		return fmt.Errorf("publish %s for %s: %w", event.Type, event.DecisionID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops events; it is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, event DecisionEvent) error {
	logging.Log.Debugf("EVENTS: %s for %s (no broker)", event.Type, event.DecisionID)
	return nil
}

func (NoopPublisher) Close() error { return nil }
