package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore keeps the log in process. Suitable for a single replica.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[string][]time.Time
	// longest window seen, used by Prune
	horizon time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]time.Time)}
}

func (s *MemoryStore) CheckAndRecord(_ context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if window > s.horizon {
		s.horizon = window
	}
	kept := trim(s.logs[key], now, window)
	if len(kept) >= max {
		s.logs[key] = kept
		d := Decision{Allowed: false, Count: len(kept), RetryAfter: window}
		if len(kept) > 0 {
			d.RetryAfter = kept[0].Add(window).Sub(now)
		}
		return d, nil
	}
	kept = append(kept, now)
	s.logs[key] = kept
	return Decision{Allowed: true, Count: len(kept), Token: strconv.FormatInt(now.UnixNano(), 10)}, nil
}

// Forget drops the newest entry recorded at the instant token names.
func (s *MemoryStore) Forget(_ context.Context, key, token string) error {
	ns, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[key]
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].UnixNano() != ns {
			continue
		}
		kept := make([]time.Time, 0, len(log)-1)
		kept = append(kept, log[:i]...)
		kept = append(kept, log[i+1:]...)
		if len(kept) == 0 {
			delete(s.logs, key)
		} else {
			s.logs[key] = kept
		}
		return nil
	}
	return nil
}

// Prune drops entries older than the longest window seen and forgets idle keys.
func (s *MemoryStore) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, log := range s.logs {
		kept := trim(log, now, s.horizon)
		if len(kept) == 0 {
			delete(s.logs, k)
			removed++
			continue
		}
		s.logs[k] = kept
	}
	return removed
}

// trim keeps timestamps strictly inside (now-window, now]. The log is in ascending order.
func trim(log []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	return append([]time.Time(nil), log[i:]...)
}
