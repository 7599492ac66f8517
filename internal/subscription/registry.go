// Package subscription tracks which display windows hold which upstream
// market-data feeds and enforces the start/stop-exactly-once protocol
// against the gateway.
package subscription

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jchen042/tradedesk/pkg/metrics"
	"github.com/jchen042/tradedesk/pkg/models"
)

// Record is one (window, key) subscription with its contract metadata.
type Record struct {
	Key      models.SubscriptionKey
	WindowID uuid.UUID
	Contract models.Contract
}

// Registry is the bidirectional index between subscription keys and
// windows.
//
// Invariants:
//   - an upstream feed for key K is open iff at least one record with key K
//     exists, across any window;
//   - at most one record exists per (window, key) pair.
//
// The registry itself only guards its two indexes; the check-then-act
// subscribe/unsubscribe protocol spans multiple calls and is serialized by
// the Coordinator.
type Registry struct {
	mu       sync.RWMutex
	byKey    map[models.SubscriptionKey]map[uuid.UUID]*Record
	byWindow map[uuid.UUID]map[models.SubscriptionKey]*Record
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byKey:    make(map[models.SubscriptionKey]map[uuid.UUID]*Record),
		byWindow: make(map[uuid.UUID]map[models.SubscriptionKey]*Record),
		logger:   logger,
	}
}

// AddSubscription inserts a record into both indexes. It returns false and
// mutates nothing when the (window, key) pair already holds a record.
func (r *Registry) AddSubscription(windowID uuid.UUID, key models.SubscriptionKey, contract models.Contract) bool {
	key = key.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()

	if wins, ok := r.byWindow[windowID]; ok {
		if _, dup := wins[key]; dup {
			return false
		}
	}

	rec := &Record{Key: key, WindowID: windowID, Contract: contract}
	if r.byKey[key] == nil {
		r.byKey[key] = make(map[uuid.UUID]*Record)
		metrics.ActiveFeeds.Inc()
	}
	r.byKey[key][windowID] = rec
	if r.byWindow[windowID] == nil {
		r.byWindow[windowID] = make(map[models.SubscriptionKey]*Record)
	}
	r.byWindow[windowID][key] = rec

	r.logger.Debug("subscription added",
		zap.String("key", key.String()),
		zap.String("window", windowID.String()),
	)
	return true
}

// RemoveSubscription removes the record for (window, key) from both indexes
// under one lock, so the indexes are never observed inconsistent. Returns
// false when no such record exists.
func (r *Registry) RemoveSubscription(windowID uuid.UUID, key models.SubscriptionKey) bool {
	key = key.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(windowID, key)
}

func (r *Registry) removeLocked(windowID uuid.UUID, key models.SubscriptionKey) bool {
	wins, ok := r.byWindow[windowID]
	if !ok {
		return false
	}
	if _, ok := wins[key]; !ok {
		return false
	}

	delete(wins, key)
	if len(wins) == 0 {
		delete(r.byWindow, windowID)
	}
	delete(r.byKey[key], windowID)
	if len(r.byKey[key]) == 0 {
		delete(r.byKey, key)
		metrics.ActiveFeeds.Dec()
	}

	r.logger.Debug("subscription removed",
		zap.String("key", key.String()),
		zap.String("window", windowID.String()),
	)
	return true
}

// IsKeySubscribedByAnyWindow reports whether any window holds a record for
// the key.
func (r *Registry) IsKeySubscribedByAnyWindow(key models.SubscriptionKey) bool {
	key = key.Normalize()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey[key]) > 0
}

// IsWindowSubscribed reports whether the given window holds a record for
// the key.
func (r *Registry) IsWindowSubscribed(windowID uuid.UUID, key models.SubscriptionKey) bool {
	key = key.Normalize()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if wins, ok := r.byWindow[windowID]; ok {
		_, ok := wins[key]
		return ok
	}
	return false
}

// HasOtherWindowSubscriptions reports whether any window other than the
// excluded one holds a record for the key.
func (r *Registry) HasOtherWindowSubscriptions(key models.SubscriptionKey, excluding uuid.UUID) bool {
	key = key.Normalize()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for windowID := range r.byKey[key] {
		if windowID != excluding {
			return true
		}
	}
	return false
}

// FindWindowsByCode returns every window holding any record whose contract
// code matches, regardless of quote type or lot flag. Order and fill events
// are not quote-type scoped, so fan-out resolves by code alone.
func (r *Registry) FindWindowsByCode(code string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for key, wins := range r.byKey {
		if !strings.EqualFold(key.ActualCode, code) {
			continue
		}
		for windowID := range wins {
			if _, dup := seen[windowID]; dup {
				continue
			}
			seen[windowID] = struct{}{}
			out = append(out, windowID)
		}
	}
	return out
}

// GetWindowSubscriptions returns copies of every record the window holds.
func (r *Registry) GetWindowSubscriptions(windowID uuid.UUID) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wins := r.byWindow[windowID]
	out := make([]Record, 0, len(wins))
	for _, rec := range wins {
		out = append(out, *rec)
	}
	return out
}

// GetAllUniqueSubscriptions returns one representative record per distinct
// key, for full-teardown unsubscribe.
func (r *Registry) GetAllUniqueSubscriptions() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.byKey))
	for _, wins := range r.byKey {
		for _, rec := range wins {
			out = append(out, *rec)
			break
		}
	}
	return out
}

// Reset drops every record and zeroes the feed gauge. Used on shutdown
// after the upstream feeds have been closed.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	metrics.ActiveFeeds.Sub(float64(len(r.byKey)))
	r.byKey = make(map[models.SubscriptionKey]map[uuid.UUID]*Record)
	r.byWindow = make(map[uuid.UUID]map[models.SubscriptionKey]*Record)
}

// CleanupWindow removes every record the window holds and returns the keys
// that no longer have any subscriber, so the caller can close their
// upstream feeds.
func (r *Registry) CleanupWindow(windowID uuid.UUID) []models.SubscriptionKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	wins := r.byWindow[windowID]
	var orphaned []models.SubscriptionKey
	for key := range wins {
		r.removeLocked(windowID, key)
		if len(r.byKey[key]) == 0 {
			orphaned = append(orphaned, key)
		}
	}
	if len(orphaned) > 0 {
		r.logger.Info("window teardown orphaned feeds",
			zap.String("window", windowID.String()),
			zap.Int("feeds", len(orphaned)),
		)
	}
	return orphaned
}
