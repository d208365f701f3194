package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-ledger/internal/domain"
)

type MockWriter struct {
	WriteMessagesFunc func(ctx context.Context, msgs ...kafka.Message) error
	written           []kafka.Message
	closed            bool
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.WriteMessagesFunc != nil {
		return m.WriteMessagesFunc(ctx, msgs...)
	}
	m.written = append(m.written, msgs...)
	return nil
}

func (m *MockWriter) Close() error {
	m.closed = true
	return nil
}

func testLedger() domain.UserLedger {
	return domain.UserLedger{
		UserID:           "A1",
		Balance:          decimal.RequireFromString("37.01"),
		Currency:         "EUR",
		TransactionCount: 2,
		LastUpdated:      time.Date(2025, 6, 27, 0, 0, 0, 0, time.UTC),
	}
}

func TestPublishLedgerMaterialized(t *testing.T) {
	w := &MockWriter{}
	p := NewPublisherWithWriter(w, zerolog.Nop())
	emitted := time.Date(2025, 6, 28, 9, 30, 0, 0, time.UTC)
	p.now = func() time.Time { return emitted }

	require.NoError(t, p.PublishLedgerMaterialized(context.Background(), "run-1", testLedger()))
	require.Len(t, w.written, 1)

	msg := w.written[0]
	assert.Equal(t, "A1", string(msg.Key))
	assert.Equal(t, emitted, msg.Time)

	var ev LedgerEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, EventLedgerMaterialized, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, "37.01", ev.Balance)
	assert.Equal(t, 2, ev.TransactionCount)
	assert.True(t, ev.LastUpdated.Equal(testLedger().LastUpdated))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishLedgerMaterialized_WriteError(t *testing.T) {
	w := &MockWriter{
		WriteMessagesFunc: func(context.Context, ...kafka.Message) error {
			return errors.New("broker down")
		},
	}
	p := NewPublisherWithWriter(w, zerolog.Nop())

	err := p.PublishLedgerMaterialized(context.Background(), "run-1", testLedger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Contains(t, err.Error(), "user A1")
}

func TestNewLedgerEvent_BalanceHasTwoDecimals(t *testing.T) {
	l := testLedger()
	l.Balance = decimal.NewFromInt(-5)
	ev := NewLedgerEvent("r", l, time.Now())
	assert.Equal(t, "-5.00", ev.Balance)
}
