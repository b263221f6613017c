package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-formrelay/core"
)

var _ gocmd.Querier[GetDispatchOutcomesMessage, []core.OutcomeRecord] = (*GetDispatchOutcomesQuery)(nil)
