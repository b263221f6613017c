package core

import (
	"strings"
	"testing"
)

func TestSubmission_PhoneOrPlaceholder(t *testing.T) {
	blank := "   "
	phone := " +1 555 0100 "
	if got := (Submission{}).PhoneOrPlaceholder(); got != PhonePlaceholder {
		t.Fatalf("expected placeholder for nil phone, got %q", got)
	}
	if got := (Submission{Phone: &blank}).PhoneOrPlaceholder(); got != PhonePlaceholder {
		t.Fatalf("expected placeholder for blank phone, got %q", got)
	}
	if got := (Submission{Phone: &phone}).PhoneOrPlaceholder(); got != "+1 555 0100" {
		t.Fatalf("expected trimmed phone, got %q", got)
	}
}

func TestSubmission_FieldsOmitsMissingPhone(t *testing.T) {
	fields := Submission{Name: "Ada", ReferenceNumber: "00000001"}.Fields()
	if _, ok := fields["phone"]; ok {
		t.Fatalf("expected no phone key, got %#v", fields)
	}
	if fields["referenceNumber"] != "00000001" {
		t.Fatalf("expected reference number, got %#v", fields["referenceNumber"])
	}
}

func TestDispatchReport_RetryableChannels(t *testing.T) {
	report := DispatchReport{Outcomes: []Outcome{
		SentOutcome(ChannelEmail, "ok"),
		FailedOutcome(ChannelWebhook, "timed out", true),
		FailedOutcome("sms", "bad number", false),
		SkippedOutcome("slack", "not configured"),
	}}
	retryable := report.RetryableChannels()
	if len(retryable) != 1 || retryable[0] != ChannelWebhook {
		t.Fatalf("expected only webhook to be retryable, got %v", retryable)
	}
	outcome, ok := report.Outcome(ChannelEmail)
	if !ok || outcome.Status != OutcomeSent {
		t.Fatalf("expected email outcome, got %+v %v", outcome, ok)
	}
	if _, ok := report.Outcome("fax"); ok {
		t.Fatalf("expected missing channel lookup to fail")
	}
}

func TestParseChannels_NormalizesAndDedupes(t *testing.T) {
	channels := ParseChannels([]string{" Email", "webhook", "", "EMAIL"})
	if strings.Join(ChannelStrings(channels), ",") != "email,webhook" {
		t.Fatalf("unexpected channels %v", channels)
	}
}
