package core

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestHMACSigner_SignAndVerify(t *testing.T) {
	signer := NewHMACSigner("s3cret")
	signer.Now = fixedClock(time.Unix(1_700_000_000, 0))
	req := &TransportRequest{Body: []byte(`{"name":"Ada"}`)}

	if err := signer.Sign(context.Background(), req); err != nil {
		t.Fatalf("sign: %v", err)
	}
	timestamp := req.Headers[DefaultTimestampHeader]
	signature := req.Headers[DefaultSignatureHeader]
	if timestamp != "1700000000" {
		t.Fatalf("unexpected timestamp %q", timestamp)
	}
	if !strings.HasPrefix(signature, "sha256=") {
		t.Fatalf("expected sha256 prefix, got %q", signature)
	}
	if err := VerifySignature("s3cret", timestamp, req.Body, signature); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifySignature("other", timestamp, req.Body, signature); err == nil {
		t.Fatalf("expected wrong secret to fail")
	}
	if err := VerifySignature("s3cret", "1700000001", req.Body, signature); err == nil {
		t.Fatalf("expected changed timestamp to fail")
	}
	if err := VerifySignature("s3cret", timestamp, []byte(`{}`), signature); err == nil {
		t.Fatalf("expected changed body to fail")
	}
}

func TestHMACSigner_RequiresSecret(t *testing.T) {
	if err := NewHMACSigner(" ").Sign(context.Background(), &TransportRequest{}); err == nil {
		t.Fatalf("expected missing secret error")
	}
	if err := NewHMACSigner("x").Sign(context.Background(), nil); err == nil {
		t.Fatalf("expected nil request error")
	}
	if err := VerifySignature("x", "1", nil, "sha256=zz"); err == nil {
		t.Fatalf("expected hex decode error")
	}
}
