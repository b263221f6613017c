package gologger

import (
	"io"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Bootstrap builds the process-wide JSON provider at level and resolves the
// logger named name from it.
func Bootstrap(w io.Writer, level string, name string) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, NewSlogProvider(NewJSONLogger(w, level)), nil)
}

// JobLogger resolves name with provider > logger > nop precedence and
// returns it bridged to the go-job logger contract used by queue workers.
func JobLogger(name string, provider glog.LoggerProvider, logger glog.Logger) job.Logger {
	if provider != nil {
		return job.GoLoggerProvider(provider).GetLogger(name)
	}
	_, resolved := glog.Resolve(name, nil, logger)
	return job.GoLogger(resolved)
}
