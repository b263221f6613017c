package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-formrelay/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

// Stores groups the outbox and outcome repositories sharing one bun
// connection.
type Stores struct {
	db       *bun.DB
	Outbox   *OutboxStore
	Outcomes *OutcomeStore
}

// NewStores builds the repositories on a connected persistence client.
func NewStores(client *persistence.Client, opts ...OutboxOption) (*Stores, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	db := client.DB()
	if db == nil {
		return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
	}
	return NewStoresFromDB(db, opts...)
}

func NewStoresFromDB(db *bun.DB, opts ...OutboxOption) (*Stores, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	outbox, err := NewOutboxStore(db, opts...)
	if err != nil {
		return nil, err
	}
	outcomes, err := NewOutcomeStore(db)
	if err != nil {
		return nil, err
	}
	return &Stores{db: db, Outbox: outbox, Outcomes: outcomes}, nil
}

func (s *Stores) DB() *bun.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// ServiceOptions wires the outbox and a cached outcome ledger into a
// dispatch service. The cached reader is returned so HTTP reads share the
// same cache the ledger invalidates.
func (s *Stores) ServiceOptions(cache repositorycache.CacheService) ([]core.Option, *CachedOutcomeReader, error) {
	if s == nil || s.Outbox == nil || s.Outcomes == nil {
		return nil, nil, fmt.Errorf("sqlstore: stores are not initialized")
	}
	reader, err := NewCachedOutcomeReader(s.Outcomes, cache)
	if err != nil {
		return nil, nil, err
	}
	return []core.Option{
		core.WithOutboxStore(s.Outbox),
		core.WithOutcomeLedger(reader),
		core.WithOutcomeReader(reader),
	}, reader, nil
}
