package db

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"order-tracker/logger"
	"order-tracker/models"
	"order-tracker/services"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFilterValue(t *testing.T) {
	assert.Equal(t, "42", filterValue("id=eq.42", "id"))
	assert.Equal(t, "", filterValue("status=eq.ready", "id"))
	assert.Equal(t, "", filterValue("", "id"))
}

func TestListenChannel_Matches(t *testing.T) {
	c := &listenChannel{spec: services.ChannelSpec{Table: "orders", Event: "UPDATE"}, orderID: "o1"}
	tests := []struct {
		payload string
		want    bool
	}{
		{`{"table":"orders","type":"UPDATE","new":{"id":"o1"}}`, true},
		{`{"table":"orders","type":"UPDATE","new":{"id":"o2"}}`, false},
		{`{"table":"orders","type":"INSERT","new":{"id":"o1"}}`, false},
		{`{"table":"order_items","type":"UPDATE","new":{"id":"o1"}}`, false},
		{`not json`, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.matches([]byte(tt.payload)), tt.payload)
	}
}

// Integration tests need a scratch database, e.g.
// TEST_DATABASE_URL=postgres://postgres@localhost:5432/tracker_test?sslmode=disable
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("skipping database integration test: TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := ConnectDSN(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool, logger.NewNop()))
	return pool
}

func TestMigrate_Rerun(t *testing.T) {
	pool := testPool(t)
	core, logs := observer.New(zapcore.DebugLevel)

	require.NoError(t, Migrate(context.Background(), pool, logger.New(zap.New(core))))

	applied := logs.FilterMessage("migration applied").All()
	require.Len(t, applied, 2)
	assert.Equal(t, "001_orders.sql", applied[0].ContextMap()["file"])
	assert.Equal(t, "002_order_updates_notify.sql", applied[1].ContextMap()["file"])
	done := logs.FilterMessage("schema up to date").All()
	require.Len(t, done, 1)
	assert.Equal(t, int64(2), done[0].ContextMap()["migrations"])
}

func seedOrder(t *testing.T, repo *OrderRepository, st models.Status) *models.Order {
	t.Helper()
	note := "senza cipolla"
	o, err := repo.InsertOrder(context.Background(), &models.Order{
		OrderNumber:   "ORD-" + uuid.NewString()[:8],
		CustomerName:  "Giulia Bianchi",
		CustomerEmail: "Giulia@Example.it",
		TotalAmount:   decimal.RequireFromString("27.50"),
		Status:        st,
		Items: []models.OrderItem{
			{ProductName: "Margherita", Quantity: 2, Price: decimal.RequireFromString("8.50"), Subtotal: decimal.RequireFromString("17.00"), SpecialRequests: &note, Toppings: []string{"basilico"}},
			{ProductName: "Tiramisù", Quantity: 1, Price: decimal.RequireFromString("10.50"), Subtotal: decimal.RequireFromString("10.50")},
		},
	})
	require.NoError(t, err)
	return o
}

func TestOrderRepository_Integration(t *testing.T) {
	pool := testPool(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()
	seeded := seedOrder(t, repo, models.StatusConfirmed)

	o, err := repo.FindByNumberAndEmail(ctx, seeded.OrderNumber, "giulia@example.IT")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, seeded.ID, o.ID)
	assert.Equal(t, models.StatusConfirmed, o.Status)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("27.50")))
	require.Len(t, o.Items, 2)
	assert.Equal(t, []string{"basilico"}, o.Items[0].Toppings)
	assert.Equal(t, "senza cipolla", *o.Items[0].SpecialRequests)

	o, err = repo.FindByNumberAndEmail(ctx, seeded.OrderNumber, "other@example.it")
	require.NoError(t, err)
	assert.Nil(t, o)

	o, err = repo.FindByID(ctx, "not-a-uuid")
	require.NoError(t, err)
	assert.Nil(t, o)

	updated, err := repo.SetStatus(ctx, seeded.ID, models.StatusConfirmed, models.StatusPreparing)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, models.StatusPreparing, updated.Status)
	assert.True(t, updated.UpdatedAt.After(seeded.UpdatedAt))

	stale, err := repo.SetStatus(ctx, seeded.ID, models.StatusConfirmed, models.StatusReady)
	require.NoError(t, err)
	assert.Nil(t, stale, "optimistic check on the previous status")

	var legacy string
	require.NoError(t, pool.QueryRow(ctx, `SELECT order_status FROM orders WHERE id = $1::uuid`, seeded.ID).Scan(&legacy))
	assert.Equal(t, "preparing", legacy)

	require.NoError(t, repo.InsertNotification(ctx, models.OrderNotification{
		OrderID: seeded.ID, OrderNumber: seeded.OrderNumber,
		OldStatus: models.StatusConfirmed, NewStatus: models.StatusPreparing,
		Message: "Ordine: In preparazione", CreatedAt: time.Now(),
	}))
}

func TestListenProvider_Integration(t *testing.T) {
	pool := testPool(t)
	repo := NewOrderRepository(pool)
	seeded := seedOrder(t, repo, models.StatusConfirmed)
	other := seedOrder(t, repo, models.StatusConfirmed)

	events := make(chan []byte, 4)
	statuses := make(chan services.ChannelStatus, 4)
	p := NewListenProvider(pool, "order_updates", logger.NewNop())
	ch, err := p.Open(context.Background(), services.ChannelSpec{
		Name: "order-test", Table: "orders", Event: "UPDATE", Filter: "id=eq." + seeded.ID,
	}, func(b []byte) { events <- b }, func(s services.ChannelStatus, _ error) { statuses <- s })
	require.NoError(t, err)
	assert.Equal(t, services.ChannelSubscribed, <-statuses)

	ctx := context.Background()
	_, err = repo.SetStatus(ctx, other.ID, models.StatusConfirmed, models.StatusPreparing)
	require.NoError(t, err)
	_, err = repo.SetStatus(ctx, seeded.ID, models.StatusConfirmed, models.StatusPreparing)
	require.NoError(t, err)

	select {
	case b := <-events:
		var ev struct {
			New models.OrderPatch `json:"new"`
		}
		require.NoError(t, json.Unmarshal(b, &ev))
		require.NotNil(t, ev.New.ID)
		assert.Equal(t, seeded.ID, *ev.New.ID)
		assert.Equal(t, models.StatusPreparing, *ev.New.Status)
		assert.NotNil(t, ev.New.UpdatedAt)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
	}

	require.NoError(t, ch.Close())
	assert.Equal(t, services.ChannelClosed, <-statuses)
	assert.Empty(t, events, "the other order's update was filtered out")
}
