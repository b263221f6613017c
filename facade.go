package formrelay

import (
	"fmt"

	relaycommand "github.com/goliatone/go-formrelay/command"
	relayquery "github.com/goliatone/go-formrelay/query"
)

type CommandQueryService interface {
	relaycommand.SubmissionService
	relaycommand.OutboxService
	relayquery.OutcomeReader
}

type Commands struct {
	Submit      *relaycommand.SubmitCommand
	DrainOutbox *relaycommand.DrainOutboxCommand
}

type Queries struct {
	DispatchOutcomes *relayquery.GetDispatchOutcomesQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	outcomeReader relayquery.OutcomeReader
}

// WithFacadeOutcomeReader serves outcome lookups from reader instead of the
// service, for example a cached SQL reader.
func WithFacadeOutcomeReader(reader relayquery.OutcomeReader) FacadeOption {
	return func(options *facadeOptions) {
		options.outcomeReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("formrelay: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.outcomeReader
	if reader == nil {
		reader = service
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Submit:      relaycommand.NewSubmitCommand(service),
		DrainOutbox: relaycommand.NewDrainOutboxCommand(service),
	}
	facade.queries = Queries{
		DispatchOutcomes: relayquery.NewGetDispatchOutcomesQuery(reader),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
