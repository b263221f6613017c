package query

import "strings"

const TypeGetDispatchOutcomes = "formrelay.query.dispatch.outcomes"

type GetDispatchOutcomesMessage struct {
	DispatchID string
}

func (GetDispatchOutcomesMessage) Type() string { return TypeGetDispatchOutcomes }

func (m GetDispatchOutcomesMessage) Validate() error {
	if strings.TrimSpace(m.DispatchID) == "" {
		return queryValidationError("dispatch_id", "dispatch id is required")
	}
	return nil
}
