package sqlstore

import "github.com/goliatone/go-formrelay/core"

var (
	_ core.OutboxStore   = (*OutboxStore)(nil)
	_ core.OutcomeLedger = (*OutcomeStore)(nil)
	_ core.OutcomeReader = (*OutcomeStore)(nil)
	_ core.OutcomeLedger = (*CachedOutcomeReader)(nil)
	_ core.OutcomeReader = (*CachedOutcomeReader)(nil)
)
