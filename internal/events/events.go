// Package events publishes ledger change notifications to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/dvloznov/bank-ledger/internal/domain"
)

// EventLedgerMaterialized is emitted after a user's ledger is replaced.
const EventLedgerMaterialized = "ledger.materialized"

const publishTimeout = 10 * time.Second

// LedgerEvent is the JSON value of every published message. The message
// key is the user id so all events of one user land on one partition.
type LedgerEvent struct {
	Type             string    `json:"type"`
	RunID            string    `json:"run_id"`
	UserID           string    `json:"user_id"`
	Balance          string    `json:"balance"`
	Currency         string    `json:"currency"`
	TransactionCount int       `json:"transaction_count"`
	LastUpdated      time.Time `json:"last_updated"`
	EmittedAt        time.Time `json:"emitted_at"`
}

// MessageWriter is implemented by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher implements pipeline.EventPublisher.
type KafkaPublisher struct {
	writer MessageWriter
	now    func() time.Time
	log    zerolog.Logger
}

// NewKafkaPublisher creates a synchronous writer for topic.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: publishTimeout,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Debug().Str("component", "kafka").Msg(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Str("component", "kafka").Msg(fmt.Sprintf(msg, args...))
		}),
	}
	return NewPublisherWithWriter(w, log)
}

// NewPublisherWithWriter builds a publisher over an existing writer.
func NewPublisherWithWriter(w MessageWriter, log zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, now: time.Now, log: log}
}

// NewLedgerEvent describes a freshly materialized ledger.
func NewLedgerEvent(runID string, ledger domain.UserLedger, emittedAt time.Time) LedgerEvent {
	return LedgerEvent{
		Type:             EventLedgerMaterialized,
		RunID:            runID,
		UserID:           ledger.UserID,
		Balance:          ledger.Balance.StringFixed(2),
		Currency:         ledger.Currency,
		TransactionCount: ledger.TransactionCount,
		LastUpdated:      ledger.LastUpdated.UTC(),
		EmittedAt:        emittedAt.UTC(),
	}
}

// Message encodes the event as a Kafka message.
func (e LedgerEvent) Message() (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return kafka.Message{
		Key:   []byte(e.UserID),
		Value: value,
		Time:  e.EmittedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}, nil
}

// PublishLedgerMaterialized writes one ledger.materialized event.
func (p *KafkaPublisher) PublishLedgerMaterialized(ctx context.Context, runID string, ledger domain.UserLedger) error {
	msg, err := NewLedgerEvent(runID, ledger, p.now()).Message()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for user %s: %w", EventLedgerMaterialized, ledger.UserID, err)
	}
	p.log.Debug().
		Str("user_id", ledger.UserID).
		Str("run_id", runID).
		Msg("Published ledger event")
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
