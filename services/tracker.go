package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"order-tracker/lang"
	"order-tracker/logger"
	"order-tracker/models"
)

const (
	subscribeTimeout = 10 * time.Second
	notifyTimeout    = 5 * time.Second
)

// Notifier tells the customer that their order moved to a new status.
type Notifier interface {
	StatusChanged(ctx context.Context, change models.StatusChange) error
}

// TrackerDeps are the collaborators of a Tracker. Channels and Notifier may
// be nil: without Channels the tracker relies on polling alone.
type TrackerDeps struct {
	Identity *IdentityProvider
	Store    *OrderStore
	Lookup   *LookupService
	Channels ChannelProvider
	Notifier Notifier
	Logger   logger.Logger
}

type TrackerOptions struct {
	PollInterval time.Duration
	Lang         string
}

// Tracker follows one order at a time: it resolves it, caches a pointer to it
// and keeps it fresh through push events with polling as a fallback.
type Tracker struct {
	identity *IdentityProvider
	store    *OrderStore
	lookup   *LookupService
	state    *OrderState
	realtime *RealtimeManager
	notifier Notifier
	log      logger.Logger

	pollInterval time.Duration
	lang         string
	now          func() time.Time

	// lifecycle serializes session switches. Update callbacks never take it.
	lifecycle sync.Mutex
	sess      atomic.Pointer[session]
	seq       atomic.Uint64
}

// session is one period of live updates for one order.
type session struct {
	id          uint64
	orderID     string
	unsubscribe func()
	poller      *Poller
}

// Snapshot is what a client renders.
type Snapshot struct {
	ClientID       string        `json:"clientId"`
	Order          *models.Order `json:"order"`
	View           *View         `json:"view,omitempty"`
	RealTimeActive bool          `json:"realTimeActive"`
	Loading        bool          `json:"loading"`
}

func NewTracker(deps TrackerDeps, opts TrackerOptions) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Lang == "" {
		opts.Lang = lang.It
	}
	t := &Tracker{
		identity:     deps.Identity,
		store:        deps.Store,
		lookup:       deps.Lookup,
		state:        NewOrderState(),
		notifier:     deps.Notifier,
		log:          deps.Logger,
		pollInterval: opts.PollInterval,
		lang:         opts.Lang,
		now:          time.Now,
	}
	if deps.Channels != nil {
		t.realtime = NewRealtimeManager(deps.Channels, t.state, deps.Logger)
	}
	return t
}

// Resume looks up the order cached for this client and starts following it.
// It returns nil, nil when there is nothing to resume.
func (t *Tracker) Resume(ctx context.Context) (*models.Order, error) {
	clientID := t.ClientID()
	o, err := t.lookup.FindOrder(ctx, Criteria{ClientID: clientID})
	if err != nil {
		t.log.WithContext(ctx).Warn("resume tracking", logger.String("client_id", clientID), logger.Error(err))
		return nil, err
	}
	if o == nil {
		t.Close()
		return nil, nil
	}
	return t.begin(ctx, o), nil
}

// Search finds an order by number and email and starts following it. A miss
// returns ErrNotFound and leaves the current tracking untouched.
func (t *Tracker) Search(ctx context.Context, orderNumber, email string) (*models.Order, error) {
	o, err := t.lookup.FindOrder(ctx, Criteria{OrderNumber: orderNumber, CustomerEmail: email})
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrNotFound
	}
	return t.begin(ctx, o), nil
}

// Track starts following an order the client has just placed.
func (t *Tracker) Track(ctx context.Context, o *models.Order) error {
	if o == nil || o.ID == "" {
		return errors.New("track: order without id")
	}
	t.begin(ctx, o.Clone())
	return nil
}

// Close stops live updates and forgets the in-memory snapshot. The cached
// record stays so a later Resume can pick the order up again.
func (t *Tracker) Close() {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	t.stopLiveLocked()
	t.state.Reset()
}

// Clear stops tracking and removes the cached record from every tier.
func (t *Tracker) Clear(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	t.stopLiveLocked()
	t.state.Reset()
	if err := t.store.Clear(); err != nil {
		t.log.WithContext(ctx).Warn("clear tracked order", logger.Error(err))
		return err
	}
	return nil
}

func (t *Tracker) Current() *models.Order {
	return t.state.Current()
}

// View returns the display projection of the current order, if any.
func (t *Tracker) View() (View, bool) {
	o := t.state.Current()
	if o == nil {
		return View{}, false
	}
	return ViewOf(o, t.lang), true
}

func (t *Tracker) RealTimeActive() bool {
	sess := t.sess.Load()
	return sess != nil && t.realtime != nil && t.realtime.Active(sess.orderID)
}

// Live reports whether a polling session is running.
func (t *Tracker) Live() bool {
	sess := t.sess.Load()
	return sess != nil && sess.poller.Running()
}

func (t *Tracker) ClientID() string {
	return t.identity.GetOrCreateClientID()
}

func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		ClientID:       t.ClientID(),
		Order:          t.state.Current(),
		RealTimeActive: t.RealTimeActive(),
		Loading:        t.lookup.Loading(),
	}
	if s.Order != nil {
		v := ViewOf(s.Order, t.lang)
		s.View = &v
	}
	return s
}

// begin makes o the followed order and returns the snapshot now shown. A
// lookup of the order already followed goes through the same merge as push
// and poll results, so a read older than the snapshot cannot move it back.
func (t *Tracker) begin(ctx context.Context, o *models.Order) *models.Order {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.stopLiveLocked()
	if cur := t.state.Current(); cur != nil && cur.ID == o.ID {
		res := t.state.Apply(models.PatchFromOrder(o))
		if !res.Applied {
			t.log.WithContext(ctx).Debug("lookup older than snapshot, kept snapshot",
				logger.String("order_id", o.ID),
				logger.String("status", string(res.Order.Status)))
		} else if res.StatusChanged {
			t.notify(res)
		}
		o = res.Order
	} else {
		t.state.Replace(o)
	}
	t.saveRecord(ctx, o)
	if o.Status.IsTerminal() {
		return o
	}
	t.startLiveLocked(ctx, o.ID)
	return o
}

// startLiveLocked opens the push channel and starts the poller. Both outlive
// ctx: they run until the session ends.
func (t *Tracker) startLiveLocked(ctx context.Context, orderID string) {
	live := context.WithoutCancel(ctx)
	sess := &session{id: t.seq.Add(1), orderID: orderID}
	log := t.log.WithContext(ctx).WithFields(logger.String("order_id", orderID))

	onUpdate := t.onUpdate(sess)
	sess.poller = NewPoller(t.state, PollerConfig{
		Interval: t.pollInterval,
		Fetch: func(ctx context.Context) (*models.Order, error) {
			return t.lookup.FindByID(ctx, orderID)
		},
		OnUpdate: onUpdate,
		OnGone: func() {
			go t.endSession(sess)
		},
	}, log)

	if t.realtime != nil {
		sctx, cancel := context.WithTimeout(live, subscribeTimeout)
		unsub, err := t.realtime.Subscribe(sctx, orderID, onUpdate)
		cancel()
		if err != nil {
			log.Warn("realtime unavailable, polling only", logger.Error(err))
		}
		sess.unsubscribe = unsub
	}
	sess.poller.Start(live)
	t.sess.Store(sess)
	log.Debug("live updates started", logger.Int64("session", int64(sess.id)))
}

// stopLiveLocked closes the channel, then stops the poller. After it returns
// no callback of the old session is running.
func (t *Tracker) stopLiveLocked() {
	sess := t.sess.Swap(nil)
	if sess == nil {
		return
	}
	if sess.unsubscribe != nil {
		sess.unsubscribe()
	}
	sess.poller.Stop()
}

// endSession stops sess if it is still the live one. Callbacks run it on a
// new goroutine since stopping waits for them.
func (t *Tracker) endSession(sess *session) {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	if t.sess.Load() == sess {
		t.stopLiveLocked()
	}
}

func (t *Tracker) onUpdate(sess *session) func(MergeResult) {
	return func(res MergeResult) {
		ctx := context.Background()
		t.saveRecord(ctx, res.Order)
		if res.StatusChanged {
			t.notify(res)
		}
		if res.Order.Status.IsTerminal() {
			go t.endSession(sess)
		}
	}
}

func (t *Tracker) saveRecord(ctx context.Context, o *models.Order) {
	if err := t.store.Save(models.RecordFromOrder(o, t.ClientID())); err != nil {
		t.log.WithContext(ctx).Warn("save tracked order", logger.String("order_id", o.ID), logger.Error(err))
	}
}

func (t *Tracker) notify(res MergeResult) {
	if t.notifier == nil {
		return
	}
	label := StatusLabel(res.To, t.lang)
	change := models.StatusChange{
		OrderID:     res.Order.ID,
		OrderNumber: res.Order.OrderNumber,
		From:        res.From,
		To:          res.To,
		Label:       label,
		Message:     fmt.Sprintf(lang.T(t.lang, "toast_status_changed"), res.Order.OrderNumber, label),
		At:          t.now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := t.notifier.StatusChanged(ctx, change); err != nil {
		t.log.Warn("status notification failed",
			logger.String("order_id", change.OrderID),
			logger.String("status", string(change.To)),
			logger.Error(err))
	}
}
