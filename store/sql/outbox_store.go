package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-formrelay/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

const defaultClaimLease = 2 * time.Minute

const dispatchColumns = `
	id,
	reference_number,
	submission,
	pending_channels,
	status,
	attempts,
	next_attempt_at,
	claimed_at,
	last_error,
	created_at,
	updated_at
`

type OutboxOption func(*OutboxStore)

// WithClaimLease sets how long a processing row stays owned by its claimer
// before another worker may take it over.
func WithClaimLease(lease time.Duration) OutboxOption {
	return func(s *OutboxStore) {
		if lease > 0 {
			s.lease = lease
		}
	}
}

func WithOutboxClock(now func() time.Time) OutboxOption {
	return func(s *OutboxStore) {
		if now != nil {
			s.now = now
		}
	}
}

type OutboxStore struct {
	db    *bun.DB
	repo  repository.Repository[*dispatchRecord]
	lease time.Duration
	now   func() time.Time
}

func NewOutboxStore(db *bun.DB, opts ...OutboxOption) (*OutboxStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*dispatchRecord](db, dispatchHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid outbox repository wiring: %w", err)
		}
	}
	store := &OutboxStore{db: db, repo: repo, lease: defaultClaimLease, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *OutboxStore) clock() time.Time {
	return s.now().UTC()
}

func (s *OutboxStore) Enqueue(ctx context.Context, record core.DispatchRecord) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("sqlstore: dispatch id is required")
	}
	if len(record.PendingChannels) == 0 {
		return fmt.Errorf("sqlstore: dispatch %q has no pending channels", record.ID)
	}
	_, err := s.repo.Create(ctx, newDispatchRecord(record, s.clock()))
	return err
}

// Get returns the stored record without claiming it.
func (s *OutboxStore) Get(ctx context.Context, id string) (core.DispatchRecord, error) {
	if s == nil || s.repo == nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.DispatchRecord{}, err
	}
	return record.toDomain(), nil
}

// Claim takes a single record regardless of its next attempt time. A record
// that is delivered, failed or freshly claimed elsewhere is reported as not
// claimed.
func (s *OutboxStore) Claim(ctx context.Context, id string) (core.DispatchRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.DispatchRecord{}, false, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.DispatchRecord{}, false, fmt.Errorf("sqlstore: dispatch id is required")
	}
	now := s.clock()
	staleBefore := now.Add(-s.lease)
	var records []dispatchRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
UPDATE formrelay_dispatches
SET status = ?, attempts = attempts + 1, claimed_at = ?, updated_at = ?
WHERE id = ?
  AND (status = ? OR (status = ? AND claimed_at <= ?))
RETURNING` + dispatchColumns
		return tx.NewRaw(
			query,
			string(core.DispatchStatusProcessing),
			now,
			now,
			id,
			string(core.DispatchStatusPending),
			string(core.DispatchStatusProcessing),
			staleBefore,
		).Scan(ctx, &records)
	})
	if err != nil {
		return core.DispatchRecord{}, false, err
	}
	if len(records) == 0 {
		return core.DispatchRecord{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

// ClaimDue takes due pending records and processing records whose lease has
// expired, oldest first.
func (s *OutboxStore) ClaimDue(ctx context.Context, limit int) ([]core.DispatchRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: outbox store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now := s.clock()
	staleBefore := now.Add(-s.lease)
	var records []dispatchRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM formrelay_dispatches
	WHERE (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
	   OR (status = ? AND claimed_at <= ?)
	ORDER BY created_at ASC
	LIMIT ?
)
UPDATE formrelay_dispatches
SET status = ?, attempts = attempts + 1, claimed_at = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status IN (?, ?)
RETURNING` + dispatchColumns
		return tx.NewRaw(
			query,
			string(core.DispatchStatusPending),
			now,
			string(core.DispatchStatusProcessing),
			staleBefore,
			limit,
			string(core.DispatchStatusProcessing),
			now,
			now,
			string(core.DispatchStatusPending),
			string(core.DispatchStatusProcessing),
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	out := make([]core.DispatchRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *OutboxStore) Complete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: dispatch id is required")
	}
	_, err := s.db.NewUpdate().
		Model((*dispatchRecord)(nil)).
		Set("status = ?", string(core.DispatchStatusDelivered)).
		Set("pending_channels = ?", "[]").
		Set("last_error = ?", "").
		Set("next_attempt_at = NULL").
		Set("claimed_at = NULL").
		Set("updated_at = ?", s.clock()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// Retry reschedules the listed channels. A zero nextAttemptAt marks the
// record failed for good.
func (s *OutboxStore) Retry(ctx context.Context, id string, pending []core.Channel, cause string, nextAttemptAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: dispatch id is required")
	}
	status := string(core.DispatchStatusPending)
	var next *time.Time
	if !nextAttemptAt.IsZero() {
		value := nextAttemptAt.UTC()
		next = &value
	} else {
		status = string(core.DispatchStatusFailed)
	}
	channels, err := json.Marshal(core.ChannelStrings(pending))
	if err != nil {
		return err
	}
	_, err = s.db.NewUpdate().
		Model((*dispatchRecord)(nil)).
		Set("status = ?", status).
		Set("pending_channels = ?", string(channels)).
		Set("next_attempt_at = ?", next).
		Set("last_error = ?", strings.TrimSpace(cause)).
		Set("claimed_at = NULL").
		Set("updated_at = ?", s.clock()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// RETURNING gives no ordering guarantee.
func sortByCreatedAt(records []core.DispatchRecord) {
	slices.SortStableFunc(records, func(a, b core.DispatchRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
