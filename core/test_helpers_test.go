package core

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type logEntry struct {
	level  string
	msg    string
	fields map[string]any
}

// logBook is shared by a captureLogger and every logger derived from it.
type logBook struct {
	mu      sync.Mutex
	entries []logEntry
}

type captureLogger struct {
	book   *logBook
	fields map[string]any
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{book: &logBook{}}
}

func (l *captureLogger) derive(extra map[string]any) *captureLogger {
	fields := make(map[string]any, len(l.fields)+len(extra))
	maps.Copy(fields, l.fields)
	maps.Copy(fields, extra)
	return &captureLogger{book: l.book, fields: fields}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger { return l.derive(fields) }
func (l *captureLogger) WithContext(context.Context) Logger      { return l.derive(nil) }

func (l *captureLogger) Trace(msg string, args ...any) { l.add("trace", msg, args) }
func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.add("fatal", msg, args) }

func (l *captureLogger) add(level string, msg string, args []any) {
	entry := logEntry{level: level, msg: msg, fields: l.derive(nil).fields}
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			entry.fields[key] = args[i+1]
		}
	}
	l.book.mu.Lock()
	l.book.entries = append(l.book.entries, entry)
	l.book.mu.Unlock()
}

// messages returns the entries logged with msg, in order.
func (l *captureLogger) messages(msg string) []logEntry {
	l.book.mu.Lock()
	defer l.book.mu.Unlock()
	var out []logEntry
	for _, entry := range l.book.entries {
		if entry.msg == msg {
			out = append(out, entry)
		}
	}
	return out
}

// countingMetrics tallies counters by name and status tag.
type countingMetrics struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counters: map[string]int64{}, histograms: map[string]int{}}
}

func (m *countingMetrics) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name+"|"+tags["status"]] += value
}

func (m *countingMetrics) ObserveHistogram(_ context.Context, name string, _ float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name]++
}

func (m *countingMetrics) count(name string, status string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name+"|"+status]
}

func (m *countingMetrics) observed(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.histograms[name]
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

type sequence struct {
	mu     sync.Mutex
	events []string
}

func (s *sequence) add(event string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *sequence) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// stubChannel is a scripted channel adapter.
type stubChannel struct {
	channel Channel
	delay   time.Duration
	outcome func(Submission, int) Outcome
	panics  bool
	seq     *sequence

	mu    sync.Mutex
	calls []Submission
}

func newStubChannel(channel Channel, outcome Outcome) *stubChannel {
	return &stubChannel{
		channel: channel,
		outcome: func(Submission, int) Outcome { return outcome },
	}
}

func (c *stubChannel) Channel() Channel { return c.channel }

func (c *stubChannel) Deliver(ctx context.Context, submission Submission) Outcome {
	c.seq.add(string(c.channel) + ":deliver")
	c.mu.Lock()
	c.calls = append(c.calls, submission)
	call := len(c.calls)
	c.mu.Unlock()
	if c.panics {
		panic(fmt.Sprintf("%s exploded", c.channel))
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return FailedOutcome(c.channel, "timed out", true)
		}
	}
	if c.outcome == nil {
		return SentOutcome(c.channel, "ok")
	}
	return c.outcome(submission, call)
}

func (c *stubChannel) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type recordingSink struct {
	mu     sync.Mutex
	events []OutcomeEvent
	err    error
}

func (s *recordingSink) Publish(_ context.Context, event OutcomeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) snapshot() []OutcomeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OutcomeEvent(nil), s.events...)
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("%s_%d", prefix, next)
	}
}

func validPayload() map[string]any {
	return map[string]any{
		"name":    "Ada Lovelace",
		"email":   "ada@example.com",
		"subject": "Engines",
		"message": "Hello there",
	}
}
