package services

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"order-tracker/logger"
	"order-tracker/models"
	"order-tracker/storage"

	"github.com/google/uuid"
)

const (
	identityKey        = "client_identity"
	clientIDPrefix     = "client_"
	clientSuffixLen    = 9
	DefaultIdentityTTL = 30 * 24 * time.Hour
)

// IdentityProvider derives the durable client id. It reads the cookie tier
// first, then the local store, and only generates a new id when neither has
// a valid copy.
type IdentityProvider struct {
	tiers *storage.Ranked
	ttl   time.Duration
	log   logger.Logger

	now       func() time.Time
	newSuffix func() string

	mu      sync.Mutex
	current *models.ClientIdentity
}

func NewIdentityProvider(primary, fallback storage.Provider, ttl time.Duration, log logger.Logger) *IdentityProvider {
	if ttl <= 0 {
		ttl = DefaultIdentityTTL
	}
	return &IdentityProvider{
		tiers:     storage.NewRanked(primary, fallback),
		ttl:       ttl,
		log:       log,
		now:       time.Now,
		newSuffix: randomSuffix,
	}
}

// GetOrCreateClientID never fails: storage errors are logged and the id is
// kept in memory for the rest of the session.
func (p *IdentityProvider) GetOrCreateClientID() string {
	return p.Identity().ClientID
}

// Identity returns the resolved identity, resolving it on first use.
func (p *IdentityProvider) Identity() models.ClientIdentity {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		id := p.resolve()
		p.current = &id
	}
	return *p.current
}

func (p *IdentityProvider) resolve() models.ClientIdentity {
	now := p.now()
	var found models.ClientIdentity
	_, hit, err := p.tiers.Lookup(identityKey, func(b []byte) bool {
		id, ok := decodeIdentity(b, now)
		if ok {
			found = id
		}
		return ok
	})
	if err == nil {
		p.backfill(found, hit, now)
		return found
	}

	id := models.ClientIdentity{
		ClientID:  clientIDPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + p.newSuffix(),
		CreatedAt: now,
		ExpiresAt: now.Add(p.ttl),
	}
	p.write(id, now, -1)
	p.log.Info("client identity created", logger.String("client_id", id.ClientID))
	return id
}

// backfill copies an identity found in one tier into the tiers that lack a
// valid copy, keeping its original expiry.
func (p *IdentityProvider) backfill(id models.ClientIdentity, hit int, now time.Time) {
	for i, t := range p.tiers.Tiers() {
		if i == hit {
			continue
		}
		if b, err := t.Get(identityKey); err == nil {
			if other, ok := decodeIdentity(b, now); ok && other.ClientID == id.ClientID {
				continue
			}
		}
		p.write(id, now, i)
	}
}

// write stores id in tier i, or in every tier when i is negative.
func (p *IdentityProvider) write(id models.ClientIdentity, now time.Time, tier int) {
	b, err := json.Marshal(id)
	if err != nil {
		p.log.Warn("encode client identity", logger.Error(err))
		return
	}
	ttl := id.ExpiresAt.Sub(now)
	if ttl <= 0 {
		ttl = p.ttl
	}
	if tier < 0 {
		for i := range p.tiers.Tiers() {
			p.write(id, now, i)
		}
		return
	}
	if err := p.tiers.SetTier(tier, identityKey, b, ttl); err != nil {
		p.log.Warn("persist client identity",
			logger.String("tier", p.tiers.Tiers()[tier].Name()),
			logger.String("client_id", id.ClientID),
			logger.Error(err))
	}
}

func decodeIdentity(b []byte, now time.Time) (models.ClientIdentity, bool) {
	var id models.ClientIdentity
	if err := json.Unmarshal(b, &id); err != nil {
		return id, false
	}
	if !strings.HasPrefix(id.ClientID, clientIDPrefix) || len(id.ClientID) <= len(clientIDPrefix) {
		return id, false
	}
	if !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt) {
		return id, false
	}
	return id, true
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:clientSuffixLen]
}
