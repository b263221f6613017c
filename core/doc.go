// Package core contains the form relay domain: submission validation,
// reference numbers, the dispatch supervisor, the outbox and its workers.
// Channel adapters, stores and sinks depend on this package; core must not
// depend on them.
package core
