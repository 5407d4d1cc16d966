package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"order-tracker/logger"
	"order-tracker/models"
	"order-tracker/storage"
)

const lastOrderKey = "last_order"

func scopedOrderKey(clientID string) string {
	return "order:" + clientID
}

// OrderStore caches the tracked order record under a generic key and under a
// key scoped to the client identity, in every tier.
type OrderStore struct {
	tiers    *storage.Ranked
	clientID func() string
	log      logger.Logger
	now      func() time.Time

	mu sync.Mutex
	// clearedAt hides records saved before the last Clear, so a tier whose
	// delete failed cannot bring a cleared order back.
	clearedAt time.Time
	pending   []string
}

func NewOrderStore(clientID func() string, log logger.Logger, tiers ...storage.Provider) *OrderStore {
	return &OrderStore{
		tiers:    storage.NewRanked(tiers...),
		clientID: clientID,
		log:      log,
		now:      time.Now,
	}
}

// Save writes rec under both keys. It fails only if some key reached no tier.
func (s *OrderStore) Save(rec models.TrackedOrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ClientID == "" {
		rec.ClientID = s.clientID()
	}
	rec.SavedAt = s.now()
	if !rec.SavedAt.After(s.clearedAt) {
		rec.SavedAt = s.clearedAt.Add(time.Nanosecond)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode tracked order: %w", err)
	}

	var errs []error
	for _, key := range []string{scopedOrderKey(rec.ClientID), lastOrderKey} {
		if err := s.tiers.Set(key, b, 0); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", key, err))
		}
		s.pending = slices.DeleteFunc(s.pending, func(k string) bool { return k == key })
	}
	return errors.Join(errs...)
}

// Load returns the cached record, preferring the entry scoped to the current
// identity over the generic one. Unreadable or cleared entries are skipped.
func (s *OrderStore) Load() *models.TrackedOrderRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.retryPending()

	clientID := s.clientID()
	var rec models.TrackedOrderRecord
	accept := func(owner string) func([]byte) bool {
		return func(b []byte) bool {
			var r models.TrackedOrderRecord
			if err := json.Unmarshal(b, &r); err != nil {
				return false
			}
			if r.OrderNumber == "" || r.CustomerEmail == "" {
				return false
			}
			if !r.SavedAt.After(s.clearedAt) {
				return false
			}
			if owner != "" && r.ClientID != owner {
				return false
			}
			rec = r
			return true
		}
	}

	_, _, err := s.tiers.Lookup(scopedOrderKey(clientID), accept(clientID))
	if err == nil {
		return &rec
	}
	s.logLookupErr(err)
	_, _, err = s.tiers.Lookup(lastOrderKey, accept(""))
	if err == nil {
		return &rec
	}
	s.logLookupErr(err)
	return nil
}

// Clear removes the record from every tier. Once it returns, Load reports no
// order even if a tier failed to delete; failed deletes are retried later.
func (s *OrderStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearedAt = s.now()
	var errs []error
	for _, key := range []string{scopedOrderKey(s.clientID()), lastOrderKey} {
		if err := s.tiers.Delete(key); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", key, err))
			if !slices.Contains(s.pending, key) {
				s.pending = append(s.pending, key)
			}
			continue
		}
		s.pending = slices.DeleteFunc(s.pending, func(k string) bool { return k == key })
	}
	return errors.Join(errs...)
}

func (s *OrderStore) retryPending() {
	if len(s.pending) == 0 {
		return
	}
	left := s.pending[:0]
	for _, key := range s.pending {
		if err := s.tiers.Delete(key); err != nil {
			left = append(left, key)
		}
	}
	s.pending = left
}

func (s *OrderStore) logLookupErr(err error) {
	// Plain misses are expected; only tier failures are worth a line.
	if joined, ok := err.(interface{ Unwrap() []error }); ok && len(joined.Unwrap()) > 1 {
		s.log.Warn("tracked order lookup", logger.Error(err))
	}
}
