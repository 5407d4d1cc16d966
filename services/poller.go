package services

import (
	"context"
	"sync"
	"time"

	"order-tracker/logger"
	"order-tracker/models"
)

const DefaultPollInterval = 30 * time.Second

// PollerConfig configures a Poller. Fetch returns nil, nil when the order no
// longer exists.
type PollerConfig struct {
	Interval time.Duration
	Fetch    func(ctx context.Context) (*models.Order, error)
	OnUpdate func(MergeResult)
	OnGone   func()
}

// Poller re-reads the tracked order on a fixed interval and merges it into
// the shared state. It is the safety net for missed or unavailable push
// events.
type Poller struct {
	cfg   PollerConfig
	state *OrderState
	log   logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(state *OrderState, cfg PollerConfig, log logger.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	return &Poller{cfg: cfg, state: state, log: log}
}

// Start launches the loop. Calling it while running does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		select {
		case <-p.done:
		default:
			return
		}
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop cancels the loop and waits for it to exit. It must not be called from
// OnUpdate or OnGone.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.tick(ctx) {
				return
			}
		}
	}
}

// tick runs one poll and reports whether polling should continue.
func (p *Poller) tick(ctx context.Context) bool {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.Interval)
	defer cancel()

	o, err := p.cfg.Fetch(fctx)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		p.log.Warn("order poll failed, retrying next tick", logger.Error(err))
		return true
	}
	if o == nil {
		p.log.Info("tracked order is gone, polling stops")
		if p.cfg.OnGone != nil {
			p.cfg.OnGone()
		}
		return false
	}

	res := p.state.Apply(models.PatchFromOrder(o))
	if res.Applied && p.cfg.OnUpdate != nil {
		p.cfg.OnUpdate(res)
	}
	if cur := p.state.Current(); cur != nil && cur.Status.IsTerminal() {
		p.log.Debug("order reached a terminal status, polling stops", logger.String("status", string(cur.Status)))
		return false
	}
	return true
}
