package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-formrelay/core"
)

func testSubmission() core.Submission {
	return core.Submission{
		ID:              "msg_1",
		Name:            "Ada Lovelace",
		Email:           "ada@example.com",
		Subject:         "Engines",
		Message:         "Hello there",
		ReferenceNumber: "12345678",
		ReceivedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestAdapter_SkipsWithoutURL(t *testing.T) {
	outcome := New(Config{}).Deliver(context.Background(), testSubmission())
	if outcome.Status != core.OutcomeSkipped {
		t.Fatalf("expected skipped outcome, got %+v", outcome)
	}
	if outcome.Channel != core.ChannelWebhook {
		t.Fatalf("expected webhook channel, got %q", outcome.Channel)
	}
}

func TestAdapter_PostsFlatPayload(t *testing.T) {
	var mu sync.Mutex
	var received map[string]string
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		contentType = r.Header.Get("Content-Type")
		_ = json.Unmarshal(raw, &received)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	outcome := New(Config{URL: server.URL}).Deliver(context.Background(), testSubmission())
	if outcome.Status != core.OutcomeSent {
		t.Fatalf("expected sent outcome, got %+v", outcome)
	}

	mu.Lock()
	defer mu.Unlock()
	if contentType != "application/json" {
		t.Fatalf("expected json content type, got %q", contentType)
	}
	if received["phone"] != core.PhonePlaceholder {
		t.Fatalf("expected phone placeholder, got %q", received["phone"])
	}
	if received["referenceNumber"] != "12345678" {
		t.Fatalf("expected reference number, got %q", received["referenceNumber"])
	}
	if received["timestamp"] != "2026-03-01T10:00:00Z" {
		t.Fatalf("expected timestamp, got %q", received["timestamp"])
	}
	for _, key := range []string{"name", "email", "subject", "message"} {
		if strings.TrimSpace(received[key]) == "" {
			t.Fatalf("expected %s in payload, got %#v", key, received)
		}
	}
}

func TestAdapter_HTMLLoginPageIsAuthenticationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>Sign in</body></html>"))
	}))
	defer server.Close()

	outcome := New(Config{URL: server.URL}).Deliver(context.Background(), testSubmission())
	if outcome.Status != core.OutcomeFailed {
		t.Fatalf("expected failure, got %+v", outcome)
	}
	if outcome.Detail != DetailAuthRequired {
		t.Fatalf("expected authentication detail, got %q", outcome.Detail)
	}
	if outcome.Retryable {
		t.Fatalf("authentication failure should not be retryable")
	}
	if outcome.Metadata["rule"] != "html_unauthorized" {
		t.Fatalf("expected rule metadata, got %#v", outcome.Metadata)
	}
}

func TestAdapter_TransportErrorIsRetryableFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	outcome := New(Config{URL: url}).Deliver(context.Background(), testSubmission())
	if outcome.Status != core.OutcomeFailed || !outcome.Retryable {
		t.Fatalf("expected retryable failure, got %+v", outcome)
	}
	if !strings.HasPrefix(outcome.Detail, "transport error") {
		t.Fatalf("expected transport error detail, got %q", outcome.Detail)
	}
}

// hangingServer simulates an endpoint that stalls for 12 seconds. The
// handler is released when the test ends so Close does not wait it out.
func hangingServer(t *testing.T) *httptest.Server {
	t.Helper()
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(12 * time.Second):
			_, _ = w.Write([]byte("OK"))
		case <-r.Context().Done():
		case <-done:
		}
	}))
	t.Cleanup(func() {
		close(done)
		server.Close()
	})
	return server
}

func TestAdapter_HangIsAbortedAtTimeout(t *testing.T) {
	server := hangingServer(t)

	startedAt := time.Now()
	outcome := New(Config{URL: server.URL, Timeout: 150 * time.Millisecond}).Deliver(context.Background(), testSubmission())
	elapsed := time.Since(startedAt)

	if elapsed > 3*time.Second {
		t.Fatalf("hang was not aborted at the timeout, took %s", elapsed)
	}
	if outcome.Status != core.OutcomeFailed {
		t.Fatalf("expected failure, got %+v", outcome)
	}
	if !strings.HasPrefix(outcome.Detail, "timed out") {
		t.Fatalf("expected timeout detail, got %q", outcome.Detail)
	}
	if !outcome.Retryable {
		t.Fatalf("timeouts should be retryable")
	}
}

type instantEmail struct {
	mu       sync.Mutex
	finished time.Time
}

func (*instantEmail) Channel() core.Channel { return core.ChannelEmail }

func (e *instantEmail) Deliver(context.Context, core.Submission) core.Outcome {
	e.mu.Lock()
	e.finished = time.Now()
	e.mu.Unlock()
	return core.SentOutcome(core.ChannelEmail, "forward and confirmation sent")
}

func TestAdapter_HangDoesNotAffectEmailChannel(t *testing.T) {
	server := hangingServer(t)

	email := &instantEmail{}
	supervisor, err := core.NewSupervisor(core.SupervisorConfig{
		Adapters: []core.ChannelAdapter{
			email,
			New(Config{URL: server.URL, Timeout: 200 * time.Millisecond}),
		},
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	startedAt := time.Now()
	report := supervisor.Dispatch(context.Background(), testSubmission(), nil)

	emailOutcome, ok := report.Outcome(core.ChannelEmail)
	if !ok || emailOutcome.Status != core.OutcomeSent {
		t.Fatalf("expected email to be sent, got %+v", emailOutcome)
	}
	webhookOutcome, ok := report.Outcome(core.ChannelWebhook)
	if !ok || webhookOutcome.Status != core.OutcomeFailed {
		t.Fatalf("expected webhook failure, got %+v", webhookOutcome)
	}

	email.mu.Lock()
	emailLatency := email.finished.Sub(startedAt)
	email.mu.Unlock()
	if emailLatency > 100*time.Millisecond {
		t.Fatalf("email channel waited on the webhook, finished after %s", emailLatency)
	}
}

func TestAdapter_SignsRequestsWithSigner(t *testing.T) {
	var mu sync.Mutex
	var verifyErr error
	var seen bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = true
		verifyErr = core.VerifySignature("s3cret",
			r.Header.Get(core.DefaultTimestampHeader),
			raw,
			r.Header.Get(core.DefaultSignatureHeader),
		)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	adapter := New(Config{URL: server.URL}, WithSigner(core.NewHMACSigner("s3cret")))
	outcome := adapter.Deliver(context.Background(), testSubmission())
	if outcome.Status != core.OutcomeSent {
		t.Fatalf("expected sent outcome, got %+v", outcome)
	}
	mu.Lock()
	defer mu.Unlock()
	if !seen {
		t.Fatalf("expected request to reach the server")
	}
	if verifyErr != nil {
		t.Fatalf("expected valid signature, got %v", verifyErr)
	}
}

func TestAdapter_SigningFailureIsTerminal(t *testing.T) {
	adapter := New(Config{URL: "http://127.0.0.1:1"}, WithSigner(core.NewHMACSigner("")))
	outcome := adapter.Deliver(context.Background(), testSubmission())
	if outcome.Status != core.OutcomeFailed || outcome.Retryable {
		t.Fatalf("expected non-retryable failure, got %+v", outcome)
	}
}
