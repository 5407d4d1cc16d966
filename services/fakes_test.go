package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"order-tracker/logger"
	"order-tracker/models"
	"order-tracker/storage"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testOrder(id, number, email string, st models.Status, updated time.Time) *models.Order {
	return &models.Order{
		ID:            id,
		OrderNumber:   number,
		CustomerName:  "Giulia Bianchi",
		CustomerEmail: email,
		TotalAmount:   decimal.RequireFromString("27.50"),
		PaymentStatus: models.PaymentPaid,
		Status:        st,
		Items: []models.OrderItem{
			{ProductName: "Margherita", Quantity: 2, Price: decimal.RequireFromString("8.50"), Subtotal: decimal.RequireFromString("17.00")},
			{ProductName: "Tiramisù", Quantity: 1, Price: decimal.RequireFromString("10.50"), Subtotal: decimal.RequireFromString("10.50")},
		},
		CreatedAt: t0,
		UpdatedAt: updated,
	}
}

func statusPatch(id string, st models.Status, updated time.Time) models.OrderPatch {
	return models.OrderPatch{ID: &id, Status: &st, UpdatedAt: &updated}
}

func pushPayload(id string, st models.Status, updated time.Time) map[string]any {
	return map[string]any{
		"table": "orders",
		"type":  "UPDATE",
		"new": map[string]any{
			"id":           id,
			"status":       st,
			"order_status": st,
			"updated_at":   updated,
		},
	}
}

// fakeBackend is an in-memory orders table.
type fakeBackend struct {
	mu            sync.Mutex
	orders        map[string]*models.Order
	err           error
	notifyErr     error
	notifications []models.OrderNotification

	searches atomic.Int32
	byID     atomic.Int32
	// gate, when set, blocks searches until it is closed.
	gate chan struct{}
}

func newFakeBackend(orders ...*models.Order) *fakeBackend {
	b := &fakeBackend{orders: map[string]*models.Order{}}
	for _, o := range orders {
		b.put(o)
	}
	return b
}

func (b *fakeBackend) put(o *models.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[o.ID] = o.Clone()
}

func (b *fakeBackend) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.orders, id)
}

func (b *fakeBackend) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *fakeBackend) FindByNumberAndEmail(ctx context.Context, number, email string) (*models.Order, error) {
	b.searches.Add(1)
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	for _, o := range b.orders {
		if o.OrderNumber == number && strings.EqualFold(o.CustomerEmail, email) {
			return o.Clone(), nil
		}
	}
	return nil, nil
}

func (b *fakeBackend) FindByID(_ context.Context, id string) (*models.Order, error) {
	b.byID.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.orders[id].Clone(), nil
}

func (b *fakeBackend) SetStatus(_ context.Context, id string, from, to models.Status) (*models.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	o, ok := b.orders[id]
	if !ok || o.Status != from {
		return nil, nil
	}
	o.Status = to
	o.UpdatedAt = o.UpdatedAt.Add(time.Second)
	return o.Clone(), nil
}

func (b *fakeBackend) InsertNotification(_ context.Context, n models.OrderNotification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notifyErr != nil {
		return b.notifyErr
	}
	b.notifications = append(b.notifications, n)
	return nil
}

// fakeChannels records every open and close in order.
type fakeChannels struct {
	mu      sync.Mutex
	log     []string
	live    map[string]*fakeChannel
	last    *fakeChannel
	openErr error
}

type fakeChannel struct {
	spec     ChannelSpec
	parent   *fakeChannels
	onEvent  func([]byte)
	onStatus func(ChannelStatus, error)
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{live: map[string]*fakeChannel{}}
}

func (f *fakeChannels) Open(_ context.Context, spec ChannelSpec, onEvent func([]byte), onStatus func(ChannelStatus, error)) (Channel, error) {
	f.mu.Lock()
	if f.openErr != nil {
		f.mu.Unlock()
		return nil, f.openErr
	}
	ch := &fakeChannel{spec: spec, parent: f, onEvent: onEvent, onStatus: onStatus}
	f.live[spec.Name] = ch
	f.last = ch
	f.log = append(f.log, "open")
	f.mu.Unlock()

	onStatus(ChannelSubscribed, nil)
	return ch, nil
}

func (f *fakeChannels) opens() int { return f.count("open") }
func (f *fakeChannels) closes() int { return f.count("close") }

func (f *fakeChannels) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.log {
		if e == kind {
			n++
		}
	}
	return n
}

func (f *fakeChannels) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakeChannels) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeChannels) current() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (c *fakeChannel) Name() string {
	return c.spec.Name
}

func (c *fakeChannel) Close() error {
	c.parent.mu.Lock()
	defer c.parent.mu.Unlock()
	delete(c.parent.live, c.spec.Name)
	c.parent.log = append(c.parent.log, "close")
	return nil
}

func (c *fakeChannel) emit(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	c.onEvent(b)
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []models.StatusChange
	err     error
}

func (n *recordingNotifier) StatusChanged(_ context.Context, c models.StatusChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return n.err
}

func (n *recordingNotifier) all() []models.StatusChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.StatusChange(nil), n.changes...)
}

// brokenTier fails every operation.
type brokenTier struct{ name string }

var errDiskGone = errors.New("disk gone")

func (b brokenTier) Name() string { return b.name }
func (brokenTier) Get(string) ([]byte, error) { return nil, errDiskGone }
func (brokenTier) Set(string, []byte, time.Duration) error { return errDiskGone }
func (brokenTier) Delete(string) error { return errDiskGone }

type trackerEnv struct {
	tracker  *Tracker
	backend  *fakeBackend
	channels *fakeChannels
	notifier *recordingNotifier
	cookie   *storage.Memory
	local    *storage.Memory
}

func newTrackerEnv(t *testing.T, orders ...*models.Order) *trackerEnv {
	t.Helper()
	log := logger.NewNop()
	env := &trackerEnv{
		backend:  newFakeBackend(orders...),
		channels: newFakeChannels(),
		notifier: &recordingNotifier{},
		cookie:   storage.NewMemory("cookie"),
		local:    storage.NewMemory("local"),
	}
	identity := NewIdentityProvider(env.cookie, env.local, 0, log)
	store := NewOrderStore(identity.GetOrCreateClientID, log, env.local, env.cookie)
	env.tracker = NewTracker(TrackerDeps{
		Identity: identity,
		Store:    store,
		Lookup:   NewLookupService(env.backend, store, log),
		Channels: env.channels,
		Notifier: env.notifier,
		Logger:   log,
	}, TrackerOptions{PollInterval: time.Hour, Lang: "it"})
	t.Cleanup(env.tracker.Close)
	return env
}

// pollNow runs one poll of the live session synchronously.
func (e *trackerEnv) pollNow(t *testing.T) bool {
	t.Helper()
	sess := e.tracker.sess.Load()
	if sess == nil {
		t.Fatal("no live session")
	}
	return sess.poller.tick(context.Background())
}
