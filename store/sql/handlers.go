package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// stringIDModel is a bun model keyed by a UUID stored as text.
type stringIDModel interface {
	*dispatchRecord | *outcomeRecord
	idField() *string
}

func (r *dispatchRecord) idField() *string { return &r.ID }
func (r *outcomeRecord) idField() *string  { return &r.ID }

func modelHandlers[T stringIDModel](newRecord func() T) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			parsed, err := uuid.Parse(strings.TrimSpace(*record.idField()))
			if err != nil {
				return uuid.Nil
			}
			return parsed
		},
		SetID: func(record T, id uuid.UUID) {
			if record != nil {
				*record.idField() = id.String()
			}
		},
		GetIdentifier: func() string { return "id" },
		GetIdentifierValue: func(record T) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(*record.idField())
		},
	}
}

func dispatchHandlers() repository.ModelHandlers[*dispatchRecord] {
	return modelHandlers(func() *dispatchRecord { return &dispatchRecord{} })
}

func outcomeHandlers() repository.ModelHandlers[*outcomeRecord] {
	return modelHandlers(func() *outcomeRecord { return &outcomeRecord{} })
}
