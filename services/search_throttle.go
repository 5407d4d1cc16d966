package services

import (
	"math"
	"sync"
	"time"
)

const SearchCooldownCapSeconds = 30

// SearchThrottle slows down callers that keep guessing order numbers and
// emails. Every miss doubles the cooldown up to the cap; a hit resets it.
type SearchThrottle struct {
	mu      sync.Mutex
	entries map[string]throttleEntry
	now     func() time.Time
}

type throttleEntry struct {
	failCount     int
	cooldownUntil time.Time
}

func NewSearchThrottle() *SearchThrottle {
	return &SearchThrottle{entries: make(map[string]throttleEntry), now: time.Now}
}

// WaitSeconds returns how long key must wait before searching again, 0 if
// it may search now.
func (t *SearchThrottle) WaitSeconds(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return 0
	}
	now := t.now()
	if !now.Before(e.cooldownUntil) {
		return 0
	}
	return int(math.Ceil(e.cooldownUntil.Sub(now).Seconds()))
}

// RecordFailed counts a miss and sets cooldown_until = now + min(30, 2^fails) seconds.
func (t *SearchThrottle) RecordFailed(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[key]
	e.failCount++
	e.cooldownUntil = t.now().Add(time.Duration(CooldownSecondsForFailCount(e.failCount)) * time.Second)
	t.entries[key] = e
}

func (t *SearchThrottle) RecordSuccess(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// CooldownSecondsForFailCount returns min(30, 2^failCount).
func CooldownSecondsForFailCount(failCount int) int {
	s := int(math.Pow(2, float64(failCount)))
	if s > SearchCooldownCapSeconds {
		return SearchCooldownCapSeconds
	}
	return s
}
