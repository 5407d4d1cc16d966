package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"order-tracker/logger"
	"order-tracker/models"

	"golang.org/x/sync/singleflight"
)

// sharedLookupTimeout bounds a collapsed backend call, which no caller's
// context cancels.
const sharedLookupTimeout = 10 * time.Second

var (
	// ErrNotFound is returned when an explicit search matches no order.
	ErrNotFound = errors.New("order not found, check your details")
	// ErrInvalidCriteria is returned when criteria carry neither an order
	// number with email nor a client id.
	ErrInvalidCriteria = errors.New("lookup needs an order number and email, or a client id")
)

// LookupError wraps a backend failure. Callers keep their current state and
// may retry.
type LookupError struct {
	Op  string
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("order lookup (%s): %v", e.Op, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

func (e *LookupError) Temporary() bool {
	return true
}

// OrderFinder reads orders with their items from the backend. Both methods
// return nil, nil when nothing matches.
type OrderFinder interface {
	FindByNumberAndEmail(ctx context.Context, orderNumber, email string) (*models.Order, error)
	FindByID(ctx context.Context, id string) (*models.Order, error)
}

// Criteria selects an order either explicitly (number and email) or
// implicitly through the identity's cached record.
type Criteria struct {
	OrderNumber   string
	CustomerEmail string
	ClientID      string
}

func (c Criteria) explicit() bool {
	return strings.TrimSpace(c.OrderNumber) != "" && strings.TrimSpace(c.CustomerEmail) != ""
}

type LookupService struct {
	finder OrderFinder
	store  *OrderStore
	log    logger.Logger

	group    singleflight.Group
	inFlight atomic.Int32
}

func NewLookupService(finder OrderFinder, store *OrderStore, log logger.Logger) *LookupService {
	return &LookupService{finder: finder, store: store, log: log}
}

// FindOrder resolves criteria to a fresh order. It returns nil, nil when no
// order matches; for implicit lookups a cached record that no longer matches
// is cleared on the way.
func (s *LookupService) FindOrder(ctx context.Context, c Criteria) (*models.Order, error) {
	switch {
	case c.explicit():
		return s.search(ctx, c.OrderNumber, c.CustomerEmail)
	case c.ClientID != "":
		return s.resume(ctx, c.ClientID)
	default:
		return nil, ErrInvalidCriteria
	}
}

// FindByID re-reads an order by primary key.
func (s *LookupService) FindByID(ctx context.Context, id string) (*models.Order, error) {
	return s.do(ctx, "id", "id:"+id, func(ctx context.Context) (*models.Order, error) {
		return s.finder.FindByID(ctx, id)
	})
}

// Loading reports whether any lookup is in flight.
func (s *LookupService) Loading() bool {
	return s.inFlight.Load() > 0
}

func (s *LookupService) search(ctx context.Context, number, email string) (*models.Order, error) {
	number = strings.TrimSpace(number)
	email = strings.ToLower(strings.TrimSpace(email))
	return s.do(ctx, "search", "search:"+number+"|"+email, func(ctx context.Context) (*models.Order, error) {
		return s.finder.FindByNumberAndEmail(ctx, number, email)
	})
}

func (s *LookupService) resume(ctx context.Context, clientID string) (*models.Order, error) {
	rec := s.store.Load()
	if rec == nil {
		return nil, nil
	}
	log := s.log.WithContext(ctx).WithFields(
		logger.String("client_id", clientID),
		logger.String("order_number", rec.OrderNumber),
	)

	o, err := s.search(ctx, rec.OrderNumber, rec.CustomerEmail)
	if err != nil {
		return nil, err
	}
	if o == nil || (rec.OrderID != "" && o.ID != rec.OrderID) {
		log.Info("cached order no longer matches, discarding")
		if err := s.store.Clear(); err != nil {
			log.Warn("clear stale tracked order", logger.Error(err))
		}
		return nil, nil
	}
	return o, nil
}

// do collapses concurrent identical queries into one backend call. The
// shared call is detached from any single caller: each caller stops waiting
// when its own ctx ends, and the others still get the result. Every caller
// gets its own copy.
func (s *LookupService) do(ctx context.Context, op, key string, fn func(context.Context) (*models.Order, error)) (*models.Order, error) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	ch := s.group.DoChan(key, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		return fn(sctx)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, &LookupError{Op: op, Err: ctx.Err()}
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, &LookupError{Op: op, Err: res.Err}
	}
	o, _ := res.Val.(*models.Order)
	if o == nil {
		return nil, nil
	}
	return o.Clone(), nil
}
