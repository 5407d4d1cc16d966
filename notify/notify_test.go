package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"order-tracker/logger"
	"order-tracker/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var change = models.StatusChange{
	OrderID:     "8d7c2a9e-0000-4000-8000-000000000001",
	OrderNumber: "ORD-1001",
	From:        models.StatusConfirmed,
	To:          models.StatusPreparing,
	Label:       "In preparazione",
	Message:     "Ordine ORD-1001: In preparazione",
	At:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
}

type recorder struct {
	got []models.StatusChange
	err error
}

func (r *recorder) StatusChanged(_ context.Context, c models.StatusChange) error {
	r.got = append(r.got, c)
	return r.err
}

func TestMulti_DeliversToAll(t *testing.T) {
	failing := &recorder{err: errors.New("chat not found")}
	ok := &recorder{}
	m := Multi{failing, nil, ok}

	err := m.StatusChanged(context.Background(), change)
	require.Error(t, err)
	assert.ErrorIs(t, err, failing.err)
	assert.Len(t, failing.got, 1)
	assert.Equal(t, []models.StatusChange{change}, ok.got)

	assert.NoError(t, Multi{ok}.StatusChanged(context.Background(), change))
	assert.NoError(t, Multi(nil).StatusChanged(context.Background(), change))
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLog(logger.New(zap.New(core)))

	require.NoError(t, n.StatusChanged(context.Background(), change))
	entries := logs.FilterMessage("Ordine ORD-1001: In preparazione").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ORD-1001", fields["order_number"])
	assert.Equal(t, "preparing", fields["to"])
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		f.records = append(f.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func (f *fakeProducer) Close() { f.closed = true }

func TestKafka_PublishesKeyedEvent(t *testing.T) {
	p := &fakeProducer{}
	k := &Kafka{client: p, topic: "order-status", log: logger.NewNop()}

	require.NoError(t, k.StatusChanged(context.Background(), change))
	require.Len(t, p.records, 1)
	rec := p.records[0]
	assert.Equal(t, "order-status", rec.Topic)
	assert.Equal(t, []byte(change.OrderID), rec.Key)
	assert.True(t, rec.Timestamp.Equal(change.At))

	var got models.StatusChange
	require.NoError(t, json.Unmarshal(rec.Value, &got))
	assert.Equal(t, models.StatusPreparing, got.To)
	assert.Equal(t, "ORD-1001", got.OrderNumber)

	k.Close()
	assert.True(t, p.closed)
}

func TestKafka_ProduceError(t *testing.T) {
	p := &fakeProducer{err: kgo.ErrRecordTimeout}
	k := &Kafka{client: p, topic: "order-status", log: logger.NewNop()}

	err := k.StatusChanged(context.Background(), change)
	assert.ErrorIs(t, err, kgo.ErrRecordTimeout)
	assert.ErrorContains(t, err, "order-status")
}
