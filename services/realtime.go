package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"order-tracker/logger"
	"order-tracker/models"

	"github.com/google/uuid"
)

// ChannelStatus is the lifecycle state reported by a push channel.
type ChannelStatus string

const (
	ChannelSubscribed ChannelStatus = "SUBSCRIBED"
	ChannelError      ChannelStatus = "CHANNEL_ERROR"
	ChannelTimedOut   ChannelStatus = "TIMED_OUT"
	ChannelClosed     ChannelStatus = "CLOSED"
)

// ChannelSpec names a channel and the row changes it should carry.
type ChannelSpec struct {
	Name   string
	Table  string
	Event  string
	Filter string
}

type Channel interface {
	Name() string
	Close() error
}

// ChannelProvider opens push channels. onEvent receives the raw payload of
// each change; onStatus receives lifecycle transitions. Neither callback may
// close its own channel synchronously.
type ChannelProvider interface {
	Open(ctx context.Context, spec ChannelSpec, onEvent func(payload []byte), onStatus func(ChannelStatus, error)) (Channel, error)
}

// pushEvent is the change payload: {"table": ..., "type": ..., "new": {...}}.
type pushEvent struct {
	Table string             `json:"table"`
	Type  string             `json:"type"`
	New   *models.OrderPatch `json:"new"`
}

// RealtimeManager keeps at most one live channel per order and feeds its
// events into the shared OrderState.
type RealtimeManager struct {
	provider ChannelProvider
	state    *OrderState
	table    string
	log      logger.Logger

	seq        atomic.Uint64
	orderLocks sync.Map

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	orderID  string
	name     string
	onUpdate func(MergeResult)

	// deliver is held for reading while an event is applied, so close
	// returns only after in-flight deliveries finish.
	deliver sync.RWMutex
	closed  atomic.Bool
	active  atomic.Bool
	once    sync.Once
	ch      Channel
}

func NewRealtimeManager(provider ChannelProvider, state *OrderState, log logger.Logger) *RealtimeManager {
	return &RealtimeManager{
		provider: provider,
		state:    state,
		table:    "orders",
		log:      log,
		subs:     map[string]*subscription{},
	}
}

func (m *RealtimeManager) lockOrder(orderID string) func() {
	v, _ := m.orderLocks.LoadOrStore(orderID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Subscribe opens a channel for orderID, closing any earlier one for the
// same order first. onUpdate runs after each event that changed the
// snapshot and must not unsubscribe synchronously. The returned func closes
// the channel and is safe to call more than once.
func (m *RealtimeManager) Subscribe(ctx context.Context, orderID string, onUpdate func(MergeResult)) (func(), error) {
	unlock := m.lockOrder(orderID)
	defer unlock()

	m.mu.Lock()
	prev := m.subs[orderID]
	delete(m.subs, orderID)
	m.mu.Unlock()
	if prev != nil {
		m.close(prev)
	}

	sub := &subscription{
		orderID:  orderID,
		name:     fmt.Sprintf("order-%s-%d-%s", orderID, m.seq.Add(1), uuid.NewString()[:8]),
		onUpdate: onUpdate,
	}
	spec := ChannelSpec{
		Name:   sub.name,
		Table:  m.table,
		Event:  "UPDATE",
		Filter: "id=eq." + orderID,
	}
	ch, err := m.provider.Open(ctx, spec,
		func(payload []byte) { m.handle(sub, payload) },
		func(st ChannelStatus, err error) { m.status(sub, st, err) },
	)
	if err != nil {
		return func() {}, fmt.Errorf("open channel %s: %w", sub.name, err)
	}
	sub.ch = ch

	m.mu.Lock()
	m.subs[orderID] = sub
	m.mu.Unlock()

	return func() { m.unsubscribe(sub) }, nil
}

// Active reports whether the live channel for orderID is subscribed.
func (m *RealtimeManager) Active(orderID string) bool {
	m.mu.Lock()
	sub := m.subs[orderID]
	m.mu.Unlock()
	return sub != nil && sub.active.Load()
}

// Close tears down every channel.
func (m *RealtimeManager) Close() {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()
	for _, s := range subs {
		m.unsubscribe(s)
	}
}

func (m *RealtimeManager) unsubscribe(sub *subscription) {
	unlock := m.lockOrder(sub.orderID)
	defer unlock()

	m.mu.Lock()
	if m.subs[sub.orderID] == sub {
		delete(m.subs, sub.orderID)
	}
	m.mu.Unlock()
	m.close(sub)
}

func (m *RealtimeManager) close(sub *subscription) {
	sub.once.Do(func() {
		sub.closed.Store(true)
		sub.active.Store(false)
		sub.deliver.Lock()
		sub.deliver.Unlock()
		if sub.ch == nil {
			return
		}
		if err := sub.ch.Close(); err != nil {
			m.log.Warn("close realtime channel", logger.String("channel", sub.name), logger.Error(err))
		}
	})
}

func (m *RealtimeManager) handle(sub *subscription, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("realtime handler panic",
				logger.String("channel", sub.name),
				logger.Any("panic", r))
		}
	}()
	sub.deliver.RLock()
	defer sub.deliver.RUnlock()
	if sub.closed.Load() {
		return
	}

	var ev pushEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.New == nil {
		m.log.Warn("dropping malformed realtime payload",
			logger.String("channel", sub.name),
			logger.Int("bytes", len(payload)))
		return
	}
	if ev.Table != "" && ev.Table != m.table {
		return
	}
	if ev.New.ID != nil && *ev.New.ID != sub.orderID {
		return
	}

	res := m.state.Apply(*ev.New)
	if !res.Applied {
		m.log.Debug("realtime update not newer, ignored", logger.String("order_id", sub.orderID))
		return
	}
	if sub.onUpdate != nil {
		sub.onUpdate(res)
	}
}

func (m *RealtimeManager) status(sub *subscription, st ChannelStatus, err error) {
	if sub.closed.Load() {
		return
	}
	fields := []logger.Field{logger.String("channel", sub.name), logger.String("status", string(st))}
	switch st {
	case ChannelSubscribed:
		sub.active.Store(true)
		m.log.Info("realtime subscribed", fields...)
	case ChannelError, ChannelTimedOut, ChannelClosed:
		sub.active.Store(false)
		if err != nil {
			fields = append(fields, logger.Error(err))
		}
		m.log.Warn("realtime channel down, polling continues", fields...)
	}
}
