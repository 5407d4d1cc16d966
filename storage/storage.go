// Package storage holds the client-side key/value tiers used to remember the
// client identity and the tracked order across restarts.
package storage

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("storage: key not found")

// Provider is one storage tier. A zero ttl means the entry does not expire.
type Provider interface {
	Name() string
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

// Ranked queries its tiers in priority order. It is itself a Provider: Get
// returns the first hit, Set and Delete touch every tier.
type Ranked struct {
	tiers []Provider
}

func NewRanked(tiers ...Provider) *Ranked {
	return &Ranked{tiers: tiers}
}

func (r *Ranked) Name() string {
	return "ranked"
}

func (r *Ranked) Tiers() []Provider {
	return r.tiers
}

func (r *Ranked) Get(key string) ([]byte, error) {
	v, _, err := r.Lookup(key, nil)
	return v, err
}

// Lookup returns the value from the highest ranked tier that has key and that
// accept approves (nil accepts everything), together with that tier's index.
// Tier read errors are skipped; if no tier produced a value they are joined
// with ErrNotFound.
func (r *Ranked) Lookup(key string, accept func([]byte) bool) ([]byte, int, error) {
	var errs []error
	for i, t := range r.tiers {
		v, err := t.Get(key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			}
			continue
		}
		if accept != nil && !accept(v) {
			continue
		}
		return v, i, nil
	}
	return nil, -1, errors.Join(append([]error{ErrNotFound}, errs...)...)
}

// Set writes to every tier. It fails only when no tier accepted the write.
func (r *Ranked) Set(key string, value []byte, ttl time.Duration) error {
	var errs []error
	for _, t := range r.tiers {
		if err := t.Set(key, value, ttl); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	if len(errs) == len(r.tiers) && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SetTier writes to the tier at index i only.
func (r *Ranked) SetTier(i int, key string, value []byte, ttl time.Duration) error {
	if i < 0 || i >= len(r.tiers) {
		return fmt.Errorf("storage: no tier %d", i)
	}
	return r.tiers[i].Set(key, value, ttl)
}

// Delete removes key from every tier, attempting all of them, and returns the
// joined errors of the tiers that failed. Missing keys are not errors.
func (r *Ranked) Delete(key string) error {
	var errs []error
	for _, t := range r.tiers {
		if err := t.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}
