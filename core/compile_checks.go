package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ OutboxStore   = (*MemoryOutboxStore)(nil)
	_ OutcomeLedger = (*MemoryOutcomeLedger)(nil)
	_ OutcomeReader = (*MemoryOutcomeLedger)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
