package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-formrelay/core"
)

type OutcomeReader interface {
	Outcomes(ctx context.Context, dispatchID string) ([]core.OutcomeRecord, error)
}

// GetDispatchOutcomesQuery lists the recorded channel outcomes of one
// dispatch. A dispatch without outcomes is reported as not found.
type GetDispatchOutcomesQuery struct {
	reader OutcomeReader
}

func NewGetDispatchOutcomesQuery(reader OutcomeReader) *GetDispatchOutcomesQuery {
	return &GetDispatchOutcomesQuery{reader: reader}
}

func (q *GetDispatchOutcomesQuery) Query(ctx context.Context, msg GetDispatchOutcomesMessage) ([]core.OutcomeRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: outcome reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(msg.DispatchID)
	records, err := q.reader.Outcomes(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, queryNotFoundError(fmt.Sprintf("query: no outcomes recorded for dispatch %q", id))
	}
	return records, nil
}
