package webhook_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goliatone/go-formrelay/channels/email"
	"github.com/goliatone/go-formrelay/channels/webhook"
	"github.com/goliatone/go-formrelay/core"
)

type countingTransport struct {
	mu    sync.Mutex
	kinds []email.EnvelopeKind
}

func (c *countingTransport) Send(_ context.Context, envelope email.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, envelope.Kind)
	return nil
}

func (*countingTransport) Verify(context.Context) error { return nil }

func (c *countingTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.kinds)
}

func dispatch(t *testing.T, adapters ...core.ChannelAdapter) core.DispatchReport {
	t.Helper()
	supervisor, err := core.NewSupervisor(core.SupervisorConfig{Adapters: adapters})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	return supervisor.Dispatch(context.Background(), core.Submission{
		ID:              "msg_1",
		Name:            "Ada Lovelace",
		Email:           "ada@example.com",
		Subject:         "Engines",
		Message:         "Hello there",
		ReferenceNumber: "12345678",
	}, nil)
}

func TestSupervisor_UnconfiguredEmailStillRunsWebhook(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	report := dispatch(t,
		email.New(core.EmailConfig{}),
		webhook.New(webhook.Config{URL: server.URL}),
	)

	if outcome, _ := report.Outcome(core.ChannelEmail); outcome.Status != core.OutcomeSkipped {
		t.Fatalf("expected email skipped, got %+v", outcome)
	}
	if outcome, _ := report.Outcome(core.ChannelWebhook); outcome.Status != core.OutcomeSent {
		t.Fatalf("expected webhook sent, got %+v", outcome)
	}
	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("expected one webhook request, got %d", hits)
	}
}

func TestSupervisor_UnconfiguredWebhookStillRunsEmail(t *testing.T) {
	transport := &countingTransport{}
	config := core.EmailConfig{
		Host:      "smtp.example.com",
		Port:      587,
		Username:  "mailer@example.com",
		Password:  "secret",
		From:      "site@example.com",
		Recipient: "owner@example.com",
	}

	report := dispatch(t,
		email.New(config, email.WithTransport(transport)),
		webhook.New(webhook.Config{}),
	)

	if outcome, _ := report.Outcome(core.ChannelWebhook); outcome.Status != core.OutcomeSkipped {
		t.Fatalf("expected webhook skipped, got %+v", outcome)
	}
	if outcome, _ := report.Outcome(core.ChannelEmail); outcome.Status != core.OutcomeSent {
		t.Fatalf("expected email sent, got %+v", outcome)
	}
	if transport.count() != 2 {
		t.Fatalf("expected forward and confirmation, got %d sends", transport.count())
	}
}
