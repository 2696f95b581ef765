package guardrails

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultSignalTTL is the reuse window for cached signals.
const DefaultSignalTTL = 1 * time.Hour

// SignalStore is an in-memory DedupService backend with TTL-based expiration.
// It is shared across concurrent sessions and internally synchronized.
type SignalStore struct {
	signals map[string]*storedSignal
	mu      sync.RWMutex
	ttl     time.Duration
	done    chan struct{} // Signal to stop cleanup goroutine
}

// storedSignal pairs a cached signal with its expiration metadata.
type storedSignal struct {
	Signal    *Signal
	CachedAt  time.Time
	ExpiresAt time.Time
}

// NewSignalStore creates a signal store with the specified TTL.
// Starts a background cleanup goroutine that removes expired signals.
func NewSignalStore(ttl time.Duration) *SignalStore {
	if ttl <= 0 {
		ttl = DefaultSignalTTL
	}
	store := &SignalStore{
		signals: make(map[string]*storedSignal),
		ttl:     ttl,
		done:    make(chan struct{}),
	}

	// Start cleanup goroutine
	go store.cleanupLoop()

	return store
}

// CreateFingerprint implements DedupService
func (s *SignalStore) CreateFingerprint(providerID, metricID, stage, model, rulesHash string) Fingerprint {
	return Fingerprint{
		ProviderID: providerID,
		MetricID:   metricID,
		Stage:      stage,
		Model:      model,
		RulesHash:  rulesHash,
	}
}

// CheckSignalReusable implements DedupService. Returns (nil, nil) when no
// unexpired signal exists for the fingerprint.
func (s *SignalStore) CheckSignalReusable(ctx context.Context, providerID, metricID, stage, model, rulesHash string) (*Signal, error) {
	fp := s.CreateFingerprint(providerID, metricID, stage, model, rulesHash)

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.signals[fp.Key()]
	if !exists {
		return nil, nil
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, nil
	}

	return stored.Signal, nil
}

// StoreSignal caches a freshly computed signal under its fingerprint. A zero
// ttl uses the store default.
func (s *SignalStore) StoreSignal(ctx context.Context, fp Fingerprint, signal *Signal, ttl time.Duration) error {
	if signal == nil {
		return fmt.Errorf("signal cannot be nil")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.signals[fp.Key()] = &storedSignal{
		Signal:    signal,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	return nil
}

// Size returns the current number of cached signals
func (s *SignalStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signals)
}

// Clear removes all cached signals
func (s *SignalStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = make(map[string]*storedSignal)
}

// Close stops the background cleanup goroutine. Safe to call once.
func (s *SignalStore) Close() {
	close(s.done)
}

// cleanupLoop periodically removes expired signals
func (s *SignalStore) cleanupLoop() {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeExpired()
		case <-s.done:
			return
		}
	}
}

// removeExpired deletes all signals past their expiration time
func (s *SignalStore) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, stored := range s.signals {
		if now.After(stored.ExpiresAt) {
			delete(s.signals, key)
		}
	}
}
