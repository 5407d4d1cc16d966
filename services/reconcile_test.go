package services

import (
	"encoding/json"
	"testing"
	"time"

	"order-tracker/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_TimestampGate(t *testing.T) {
	current := testOrder("o1", "ORD-1", "a@b.it", models.StatusConfirmed, t0)

	tests := []struct {
		name    string
		patch   models.OrderPatch
		applied bool
		want    models.Status
	}{
		{"newer applies", statusPatch("o1", models.StatusPreparing, t0.Add(time.Second)), true, models.StatusPreparing},
		{"equal is ignored", statusPatch("o1", models.StatusPreparing, t0), false, models.StatusConfirmed},
		{"older is ignored", statusPatch("o1", models.StatusPending, t0.Add(-time.Minute)), false, models.StatusConfirmed},
		{"missing updated_at is ignored", models.OrderPatch{Status: statusPtr(models.StatusReady)}, false, models.StatusConfirmed},
		{"other order is ignored", statusPatch("o2", models.StatusReady, t0.Add(time.Hour)), false, models.StatusConfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Merge(current, tt.patch)
			assert.Equal(t, tt.applied, res.Applied)
			assert.Equal(t, tt.want, res.Order.Status)
			assert.Equal(t, models.StatusConfirmed, current.Status, "input is never mutated")
		})
	}
}

func TestMerge_NilCurrentTakesIncoming(t *testing.T) {
	res := Merge(nil, statusPatch("o1", models.StatusPending, t0))
	require.True(t, res.Applied)
	assert.False(t, res.StatusChanged, "first snapshot is not a change")
	assert.Equal(t, "o1", res.Order.ID)
	assert.Equal(t, models.StatusPending, res.Order.Status)

	res = Merge(nil, models.OrderPatch{})
	assert.True(t, res.Applied)
	assert.NotNil(t, res.Order)
}

func TestMerge_KeepsFieldsMissingFromPatch(t *testing.T) {
	current := testOrder("o1", "ORD-1", "a@b.it", models.StatusConfirmed, t0)
	res := Merge(current, statusPatch("o1", models.StatusPreparing, t0.Add(time.Second)))

	require.True(t, res.Applied)
	assert.True(t, res.StatusChanged)
	assert.Equal(t, models.StatusConfirmed, res.From)
	assert.Equal(t, models.StatusPreparing, res.To)
	assert.Len(t, res.Order.Items, 2)
	assert.Equal(t, current.TotalAmount.String(), res.Order.TotalAmount.String())
	assert.Equal(t, "ORD-1", res.Order.OrderNumber)

	res.Order.Items[0].ProductName = "changed"
	assert.Equal(t, "Margherita", current.Items[0].ProductName)
}

func TestMerge_LegacyStatusAlias(t *testing.T) {
	var p models.OrderPatch
	require.NoError(t, json.Unmarshal([]byte(`{"id":"o1","order_status":"ready","updated_at":"2024-05-01T12:00:05Z"}`), &p))

	current := testOrder("o1", "ORD-1", "a@b.it", models.StatusPreparing, t0)
	got := ApplyUpdate(current, p)
	assert.Equal(t, models.StatusReady, got.Status)
}

// Any interleaving of the same updates ends on the latest one.
func TestApplyUpdate_OutOfOrderConverges(t *testing.T) {
	updates := []models.OrderPatch{
		statusPatch("o1", models.StatusConfirmed, t0.Add(1*time.Second)),
		statusPatch("o1", models.StatusPreparing, t0.Add(2*time.Second)),
		statusPatch("o1", models.StatusReady, t0.Add(3*time.Second)),
	}
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}, {2, 0, 1}, {0, 2, 1, 1, 0}}

	for _, order := range orders {
		cur := testOrder("o1", "ORD-1", "a@b.it", models.StatusPending, t0)
		for _, i := range order {
			next := ApplyUpdate(cur, updates[i])
			assert.False(t, next.UpdatedAt.Before(cur.UpdatedAt), "updated_at never goes back")
			cur = next
		}
		assert.Equal(t, models.StatusReady, cur.Status, "order %v", order)
		assert.Equal(t, t0.Add(3*time.Second), cur.UpdatedAt)
	}
}

func TestViewOf(t *testing.T) {
	tests := []struct {
		status   models.Status
		label    string
		index    int
		pct      float64
		terminal bool
		halted   bool
	}{
		{models.StatusPending, "In attesa", 0, 100.0 / 7, false, false},
		{models.StatusPreparing, "In preparazione", 2, 300.0 / 7, false, false},
		{models.StatusDelivered, "Consegnato", 6, 100, true, false},
		{models.StatusCancelled, "Annullato", -1, 0, true, true},
		{"on_the_moon", "In attesa", 0, 100.0 / 7, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			v := ViewOf(testOrder("o1", "ORD-1", "a@b.it", tt.status, t0), "it")
			assert.Equal(t, tt.label, v.StatusLabel)
			assert.Equal(t, tt.index, v.ProgressIndex)
			assert.Equal(t, 7, v.ProgressSteps)
			assert.InDelta(t, tt.pct, v.ProgressPercentage, 0.001)
			assert.Equal(t, tt.terminal, v.IsTerminal)
			assert.Equal(t, tt.halted, v.Halted)
		})
	}
}

func TestViewOf_English(t *testing.T) {
	v := ViewOf(testOrder("o1", "ORD-1", "a@b.it", models.StatusOutForDelivery, t0), "en")
	assert.Equal(t, "Out for delivery", v.StatusLabel)
}

func TestOrderState(t *testing.T) {
	s := NewOrderState()
	assert.Nil(t, s.Current())

	s.Replace(testOrder("o1", "ORD-1", "a@b.it", models.StatusConfirmed, t0))
	res := s.Apply(statusPatch("o1", models.StatusPreparing, t0.Add(time.Second)))
	require.True(t, res.Applied)
	assert.Equal(t, models.StatusPreparing, s.Current().Status)

	res.Order.Status = models.StatusCancelled
	assert.Equal(t, models.StatusPreparing, s.Current().Status, "results are copies")

	res = s.Apply(statusPatch("o1", models.StatusConfirmed, t0))
	assert.False(t, res.Applied)
	assert.Equal(t, models.StatusPreparing, s.Current().Status)

	s.Reset()
	assert.Nil(t, s.Current())
}

func statusPtr(s models.Status) *models.Status {
	return &s
}
