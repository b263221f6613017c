package core

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSignatureHeader = "X-Formrelay-Signature"
	DefaultTimestampHeader = "X-Formrelay-Timestamp"
	signaturePrefix        = "sha256="
)

// RequestSigner adds authentication headers to an outbound transport request.
type RequestSigner interface {
	Sign(ctx context.Context, req *TransportRequest) error
}

// HMACSigner signs "<unix timestamp>.<body>" with a shared secret.
type HMACSigner struct {
	Secret          string
	SignatureHeader string
	TimestampHeader string
	Now             func() time.Time
}

func NewHMACSigner(secret string) *HMACSigner {
	return &HMACSigner{
		Secret:          strings.TrimSpace(secret),
		SignatureHeader: DefaultSignatureHeader,
		TimestampHeader: DefaultTimestampHeader,
		Now:             time.Now,
	}
}

func (s *HMACSigner) Sign(_ context.Context, req *TransportRequest) error {
	if req == nil {
		return fmt.Errorf("core: transport request is required")
	}
	if s == nil || strings.TrimSpace(s.Secret) == "" {
		return fmt.Errorf("core: signing secret is required")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	timestamp := strconv.FormatInt(now().UTC().Unix(), 10)
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	req.Headers[s.timestampHeader()] = timestamp
	req.Headers[s.signatureHeader()] = signaturePrefix + hex.EncodeToString(signPayload(s.Secret, timestamp, req.Body))
	return nil
}

func (s *HMACSigner) signatureHeader() string {
	if header := strings.TrimSpace(s.SignatureHeader); header != "" {
		return header
	}
	return DefaultSignatureHeader
}

func (s *HMACSigner) timestampHeader() string {
	if header := strings.TrimSpace(s.TimestampHeader); header != "" {
		return header
	}
	return DefaultTimestampHeader
}

// VerifySignature checks a signature header value produced by HMACSigner.
func VerifySignature(secret string, timestamp string, body []byte, signature string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("core: signature secret is required")
	}
	signature = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), signaturePrefix))
	if signature == "" {
		return fmt.Errorf("core: signature value is required")
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("core: decode hex signature: %w", err)
	}
	if subtle.ConstantTimeCompare(decoded, signPayload(secret, strings.TrimSpace(timestamp), body)) != 1 {
		return fmt.Errorf("core: signature verification failed")
	}
	return nil
}

func signPayload(secret string, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
