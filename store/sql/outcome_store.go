package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-formrelay/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OutcomeStore is the durable outcome ledger. Every dispatch attempt appends
// one row per channel.
type OutcomeStore struct {
	db   *bun.DB
	repo repository.Repository[*outcomeRecord]
}

func NewOutcomeStore(db *bun.DB) (*OutcomeStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*outcomeRecord](db, outcomeHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid outcome repository wiring: %w", err)
		}
	}
	return &OutcomeStore{db: db, repo: repo}, nil
}

func (s *OutcomeStore) Record(ctx context.Context, report core.DispatchReport) error {
	if s == nil || s.repo == nil || s.db == nil {
		return fmt.Errorf("sqlstore: outcome store is not configured")
	}
	if strings.TrimSpace(report.DispatchID) == "" {
		return fmt.Errorf("sqlstore: dispatch id is required")
	}
	records := core.OutcomeRecordsFromReport(report, uuid.NewString)
	if len(records) == 0 {
		return nil
	}
	// Redelivered reports for an attempt that is already stored are skipped.
	existing, _, err := s.repo.List(ctx,
		repository.SelectBy("dispatch_id", "=", strings.TrimSpace(report.DispatchID)),
		repository.SelectBy("attempt", "=", strconv.Itoa(report.Attempt)),
	)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, record := range existing {
		seen[record.Channel] = struct{}{}
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, record := range records {
			if _, ok := seen[string(record.Channel)]; ok {
				continue
			}
			if _, err := s.repo.CreateTx(ctx, tx, newOutcomeRecord(record)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *OutcomeStore) ListOutcomes(ctx context.Context, dispatchID string) ([]core.OutcomeRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: outcome store is not configured")
	}
	dispatchID = strings.TrimSpace(dispatchID)
	if dispatchID == "" {
		return nil, fmt.Errorf("sqlstore: dispatch id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("dispatch_id", "=", dispatchID),
		repository.OrderBy("attempt ASC"),
		repository.OrderBy("channel ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.OutcomeRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
