package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"argus/core"
	"argus/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxAlerts is the store capacity when none is configured.
const DefaultMaxAlerts = 1000

// InsertResult says what Insert did with an alert.
type InsertResult int

const (
	Inserted InsertResult = iota + 1
	Suppressed
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Archiver receives a copy of every inserted alert. Archive must not block.
type Archiver interface {
	Archive(alert core.Alert)
}

// AlertStoreOption configures an AlertStore.
type AlertStoreOption func(*AlertStore)

// WithMaxAlerts bounds the number of alerts held. The oldest inserted alert
// is evicted when the bound is exceeded.
func WithMaxAlerts(n int) AlertStoreOption {
	return func(s *AlertStore) {
		if n > 0 {
			s.maxAlerts = n
		}
	}
}

// WithArchiver hands each inserted alert to a.
func WithArchiver(a Archiver) AlertStoreOption {
	return func(s *AlertStore) { s.archiver = a }
}

// WithClock replaces time.Now for created_at stamps.
func WithClock(now func() time.Time) AlertStoreOption {
	return func(s *AlertStore) { s.now = now }
}

// AlertStore holds generated alerts and suppresses duplicates. All writes go
// through one mutex, so a dedup check and the insert it guards are atomic.
type AlertStore struct {
	mu        sync.RWMutex
	alerts    []*core.Alert // insertion order, oldest first
	byID      map[string]*core.Alert
	dedup     DedupIndex
	archiver  Archiver
	maxAlerts int
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// NewAlertStore creates a store backed by dedup.
func NewAlertStore(dedup DedupIndex, logger *zap.SugaredLogger, opts ...AlertStoreOption) *AlertStore {
	s := &AlertStore{
		byID:      make(map[string]*core.Alert),
		dedup:     dedup,
		maxAlerts: DefaultMaxAlerts,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert records alert unless its dedup key is already held. Dedup index
// failures are returned as *core.StoreError and the alert is dropped.
// Alerts without an id are assigned one.
func (s *AlertStore) Insert(ctx context.Context, alert core.Alert) (InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert.DedupKey != "" {
		reserved, err := s.dedup.Reserve(ctx, alert.DedupKey)
		if err != nil {
			metrics.AlertStoreFailures.Inc()
			return 0, &core.StoreError{Op: "reserve", Err: err}
		}
		if !reserved {
			metrics.AlertsSuppressed.Inc()
			return Suppressed, nil
		}
	}

	stored := alert.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, dup := s.byID[stored.ID]; dup {
		if stored.DedupKey != "" {
			_ = s.dedup.Release(ctx, stored.DedupKey)
		}
		metrics.AlertStoreFailures.Inc()
		return 0, &core.StoreError{Op: "insert", Err: fmt.Errorf("alert id %q already exists", stored.ID)}
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}

	s.alerts = append(s.alerts, &stored)
	s.byID[stored.ID] = &stored
	for len(s.alerts) > s.maxAlerts {
		evicted := s.alerts[0]
		s.alerts[0] = nil
		s.alerts = s.alerts[1:]
		delete(s.byID, evicted.ID)
	}

	metrics.AlertsGenerated.WithLabelValues(string(stored.Severity)).Inc()
	metrics.AlertsStored.Set(float64(len(s.alerts)))

	if s.archiver != nil {
		s.archiver.Archive(stored.Clone())
	}
	return Inserted, nil
}

// List returns copies of the alerts passing filter, newest first: timestamp
// descending, then created_at descending, then id ascending.
func (s *AlertStore) List(filter core.AlertFilter) []core.Alert {
	s.mu.RLock()
	matched := make([]core.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if filter.Matches(a) {
			matched = append(matched, a.Clone())
		}
	}
	s.mu.RUnlock()

	SortNewestFirst(matched)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []core.Alert{}
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched
}

// CountMatching returns how many alerts pass filter, ignoring offset and limit.
func (s *AlertStore) CountMatching(filter core.AlertFilter) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.alerts {
		if filter.Matches(a) {
			n++
		}
	}
	return n
}

// SortNewestFirst orders alerts the way List returns them.
func SortNewestFirst(alerts []core.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Get returns a copy of the alert with id.
func (s *AlertStore) Get(id string) (core.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return core.Alert{}, ErrAlertNotFound
	}
	return a.Clone(), nil
}

// Count returns the number of alerts held.
func (s *AlertStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

// Clear removes every alert and purges the dedup index, so previously seen
// matches alert again. It returns the number of alerts removed. Alerts are
// removed even when the purge fails.
func (s *AlertStore) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.alerts)
	s.alerts = nil
	s.byID = make(map[string]*core.Alert)
	metrics.AlertsStored.Set(0)

	if err := s.dedup.Purge(ctx); err != nil {
		s.logger.Errorw("Failed to purge dedup index", "error", err)
		return n, &core.StoreError{Op: "purge", Err: err}
	}
	s.logger.Infow("Cleared alert store", "removed", n)
	return n, nil
}
