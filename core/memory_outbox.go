package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultTerminalRetention = 256

// MemoryOutboxStore keeps dispatch records in process memory. Records do not
// survive a restart. Delivered and failed records lose their submission and
// only the most recent ones are kept.
type MemoryOutboxStore struct {
	mu       sync.Mutex
	records  map[string]DispatchRecord
	terminal []string
	retain   int
	lease    time.Duration
	now      func() time.Time
}

func NewMemoryOutboxStore(claimLease time.Duration) *MemoryOutboxStore {
	if claimLease <= 0 {
		claimLease = DefaultConfig().Dispatch.ClaimLease
	}
	return &MemoryOutboxStore{
		records: map[string]DispatchRecord{},
		retain:  defaultTerminalRetention,
		lease:   claimLease,
		now:     time.Now,
	}
}

// WithTerminalRetention sets how many delivered or failed records stay
// readable through Get. Zero drops them as soon as they finish.
func (s *MemoryOutboxStore) WithTerminalRetention(limit int) *MemoryOutboxStore {
	if limit < 0 {
		limit = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retain = limit
	s.evictTerminal()
	return s
}

func (s *MemoryOutboxStore) Enqueue(_ context.Context, record DispatchRecord) error {
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return fmt.Errorf("core: dispatch record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		return fmt.Errorf("core: dispatch record %q already exists", id)
	}
	now := s.now().UTC()
	record.ID = id
	record.Status = DispatchStatusPending
	record.PendingChannels = append([]Channel(nil), record.PendingChannels...)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	s.records[id] = record
	return nil
}

func (s *MemoryOutboxStore) Claim(_ context.Context, id string) (DispatchRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return DispatchRecord{}, false, nil
	}
	now := s.now().UTC()
	if !s.claimable(record, now, false) {
		return DispatchRecord{}, false, nil
	}
	return s.markProcessing(record, now), true, nil
}

func (s *MemoryOutboxStore) ClaimDue(_ context.Context, limit int) ([]DispatchRecord, error) {
	if limit <= 0 {
		limit = DefaultOutboxDispatcherConfig().BatchSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	due := make([]DispatchRecord, 0, limit)
	for _, record := range s.records {
		if s.claimable(record, now, true) {
			due = append(due, record)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]DispatchRecord, 0, len(due))
	for _, record := range due {
		out = append(out, s.markProcessing(record, now))
	}
	return out, nil
}

func (s *MemoryOutboxStore) Complete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return fmt.Errorf("core: dispatch record %q not found", id)
	}
	record.Status = DispatchStatusDelivered
	record.PendingChannels = nil
	record.NextAttemptAt = nil
	record.LastError = ""
	record.UpdatedAt = s.now().UTC()
	s.finish(record)
	return nil
}

func (s *MemoryOutboxStore) Retry(_ context.Context, id string, pending []Channel, cause string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return fmt.Errorf("core: dispatch record %q not found", id)
	}
	record.PendingChannels = append([]Channel(nil), pending...)
	record.LastError = cause
	record.UpdatedAt = s.now().UTC()
	if nextAttemptAt.IsZero() {
		record.Status = DispatchStatusFailed
		record.NextAttemptAt = nil
		s.finish(record)
		return nil
	}
	next := nextAttemptAt.UTC()
	record.Status = DispatchStatusPending
	record.NextAttemptAt = &next
	s.records[record.ID] = record
	return nil
}

// Get returns a copy of the stored record.
func (s *MemoryOutboxStore) Get(_ context.Context, id string) (DispatchRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return DispatchRecord{}, false, nil
	}
	record.PendingChannels = append([]Channel(nil), record.PendingChannels...)
	return record, true, nil
}

// finish stores a terminal record without its submission and trims the
// oldest terminal records past the retention limit. Callers hold s.mu.
func (s *MemoryOutboxStore) finish(record DispatchRecord) {
	record.Submission = Submission{}
	s.records[record.ID] = record
	s.terminal = append(s.terminal, record.ID)
	s.evictTerminal()
}

func (s *MemoryOutboxStore) evictTerminal() {
	for len(s.terminal) > s.retain {
		id := s.terminal[0]
		s.terminal = s.terminal[1:]
		if record, ok := s.records[id]; ok && isTerminalDispatch(record.Status) {
			delete(s.records, id)
		}
	}
}

func isTerminalDispatch(status DispatchStatus) bool {
	return status == DispatchStatusDelivered || status == DispatchStatusFailed
}

func (s *MemoryOutboxStore) claimable(record DispatchRecord, now time.Time, dueOnly bool) bool {
	switch record.Status {
	case DispatchStatusPending:
		if !dueOnly || record.NextAttemptAt == nil {
			return true
		}
		return !record.NextAttemptAt.After(now)
	case DispatchStatusProcessing:
		return record.UpdatedAt.Add(s.lease).Before(now)
	default:
		return false
	}
}

func (s *MemoryOutboxStore) markProcessing(record DispatchRecord, now time.Time) DispatchRecord {
	record.Status = DispatchStatusProcessing
	record.Attempts++
	record.UpdatedAt = now
	s.records[record.ID] = record
	record.PendingChannels = append([]Channel(nil), record.PendingChannels...)
	return record
}
