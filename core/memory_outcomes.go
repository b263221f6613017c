package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMemoryOutcomeLimit = 1000

// MemoryOutcomeLedger keeps the outcomes of the most recent dispatches.
// Older dispatches are evicted once the limit is reached.
type MemoryOutcomeLedger struct {
	mu      sync.RWMutex
	limit   int
	order   []string
	records map[string][]OutcomeRecord
}

func NewMemoryOutcomeLedger(limit int) *MemoryOutcomeLedger {
	if limit <= 0 {
		limit = defaultMemoryOutcomeLimit
	}
	return &MemoryOutcomeLedger{
		limit:   limit,
		records: map[string][]OutcomeRecord{},
	}
}

func (l *MemoryOutcomeLedger) Record(_ context.Context, report DispatchReport) error {
	records := OutcomeRecordsFromReport(report, uuid.NewString)
	if len(records) == 0 {
		return nil
	}
	dispatchID := strings.TrimSpace(report.DispatchID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.records[dispatchID]; !exists {
		l.order = append(l.order, dispatchID)
	}
	l.records[dispatchID] = append(l.records[dispatchID], records...)
	for len(l.order) > l.limit {
		evicted := l.order[0]
		l.order = l.order[1:]
		delete(l.records, evicted)
	}
	return nil
}

func (l *MemoryOutcomeLedger) ListOutcomes(_ context.Context, dispatchID string) ([]OutcomeRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	records := l.records[strings.TrimSpace(dispatchID)]
	return append([]OutcomeRecord(nil), records...), nil
}

// OutcomeRecordsFromReport flattens a dispatch report into one record per
// channel outcome.
func OutcomeRecordsFromReport(report DispatchReport, newID func() string) []OutcomeRecord {
	if newID == nil {
		newID = uuid.NewString
	}
	createdAt := report.FinishedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	out := make([]OutcomeRecord, 0, len(report.Outcomes))
	for _, outcome := range report.Outcomes {
		out = append(out, OutcomeRecord{
			ID:              newID(),
			DispatchID:      report.DispatchID,
			ReferenceNumber: report.ReferenceNumber,
			Attempt:         report.Attempt,
			Channel:         outcome.Channel,
			Status:          outcome.Status,
			Detail:          outcome.Detail,
			Retryable:       outcome.Retryable,
			DurationMS:      outcome.Duration.Milliseconds(),
			Metadata:        cloneFields(outcome.Metadata),
			CreatedAt:       createdAt,
		})
	}
	return out
}
