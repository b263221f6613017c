package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-formrelay/core"
)

// Kind tags the shape of a webhook response body.
type Kind string

const (
	KindEmpty  Kind = "empty"
	KindHTML   Kind = "html"
	KindJSON   Kind = "json"
	KindOpaque Kind = "opaque"
)

// DetailAuthRequired is reported when the endpoint answers with an HTML login
// page, which means the deployment does not allow anonymous requests.
const DetailAuthRequired = "webhook requires authentication — access must be set to allow anonymous requests"

const DetailInvalidResponse = "invalid response"

const htmlSniffWindow = 100

// Classification is the tagged result of reading one webhook response.
type Classification struct {
	Kind       Kind
	StatusCode int
	Body       string
	Payload    map[string]any
}

// Decision is the channel verdict derived from a classification.
type Decision struct {
	Status    core.OutcomeStatus
	Detail    string
	Retryable bool
	Rule      string
}

// Classify inspects a raw response body without deciding anything about it.
func Classify(statusCode int, body []byte) Classification {
	text := strings.TrimSpace(string(body))
	c := Classification{StatusCode: statusCode, Body: text}
	switch {
	case text == "":
		c.Kind = KindEmpty
	case looksLikeHTML(text):
		c.Kind = KindHTML
	default:
		var payload map[string]any
		if err := json.Unmarshal([]byte(text), &payload); err == nil && payload != nil {
			c.Kind = KindJSON
			c.Payload = payload
		} else {
			c.Kind = KindOpaque
		}
	}
	return c
}

func looksLikeHTML(text string) bool {
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return false
	}
	lower := strings.ToLower(text)
	if strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") {
		return true
	}
	if len(lower) > htmlSniffWindow {
		lower = lower[:htmlSniffWindow]
	}
	return strings.Contains(lower, "html")
}

type rule struct {
	name   string
	match  func(Classification) bool
	decide func(Classification) Decision
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		name:   "empty_ok",
		match:  func(c Classification) bool { return c.Kind == KindEmpty && isOK(c.StatusCode) },
		decide: func(Classification) Decision { return sent("empty response") },
	},
	{
		name:  "html_unauthorized",
		match: func(c Classification) bool { return c.Kind == KindHTML && c.StatusCode == http.StatusUnauthorized },
		decide: func(Classification) Decision {
			return Decision{Status: core.OutcomeFailed, Detail: DetailAuthRequired}
		},
	},
	{
		name:   "html_ok",
		match:  func(c Classification) bool { return c.Kind == KindHTML && isOK(c.StatusCode) },
		decide: func(Classification) Decision { return sent("html response") },
	},
	{
		name:  "html_error",
		match: func(c Classification) bool { return c.Kind == KindHTML },
		decide: func(c Classification) Decision {
			return Decision{
				Status:    core.OutcomeFailed,
				Detail:    fmt.Sprintf("webhook returned HTTP %d", c.StatusCode),
				Retryable: retryableStatus(c.StatusCode),
			}
		},
	},
	{
		name:   "json_success",
		match:  func(c Classification) bool { return c.Kind == KindJSON && payloadVerdict(c.Payload) == verdictSuccess },
		decide: func(Classification) Decision { return sent("json success") },
	},
	{
		name:  "json_failure",
		match: func(c Classification) bool { return c.Kind == KindJSON && payloadVerdict(c.Payload) == verdictFailure },
		decide: func(c Classification) Decision {
			return Decision{Status: core.OutcomeFailed, Detail: payloadMessage(c.Payload)}
		},
	},
	{
		name:   "loose_ok",
		match:  func(c Classification) bool { return isOK(c.StatusCode) },
		decide: func(Classification) Decision { return sent("non-json response") },
	},
	{
		name:  "loose_error",
		match: func(Classification) bool { return true },
		decide: func(c Classification) Decision {
			return Decision{
				Status:    core.OutcomeFailed,
				Detail:    fmt.Sprintf("%s (HTTP %d)", DetailInvalidResponse, c.StatusCode),
				Retryable: retryableStatus(c.StatusCode),
			}
		},
	},
}

// Decide maps a classification to a channel verdict using the rule table.
func Decide(c Classification) Decision {
	for _, r := range rules {
		if r.match(c) {
			decision := r.decide(c)
			decision.Rule = r.name
			return decision
		}
	}
	return Decision{Status: core.OutcomeFailed, Detail: DetailInvalidResponse, Rule: "none"}
}

func sent(detail string) Decision {
	return Decision{Status: core.OutcomeSent, Detail: detail}
}

func isOK(status int) bool {
	return status == http.StatusOK || status == http.StatusFound
}

func retryableStatus(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

type verdict int

const (
	verdictUnknown verdict = iota
	verdictSuccess
	verdictFailure
)

func payloadVerdict(payload map[string]any) verdict {
	if value, ok := payload["success"]; ok {
		if flag, isBool := value.(bool); isBool {
			if flag {
				return verdictSuccess
			}
			return verdictFailure
		}
	}
	for _, key := range []string{"status", "result"} {
		raw, ok := payload[key].(string)
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "success", "ok":
			return verdictSuccess
		case "error", "fail", "failed", "failure":
			return verdictFailure
		}
	}
	if present(payload["error"]) {
		return verdictFailure
	}
	return verdictUnknown
}

// present treats null, false, blank strings and empty containers as absent.
func present(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) != ""
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return true
	}
}

func payloadMessage(payload map[string]any) string {
	for _, key := range []string{"message", "error"} {
		switch value := payload[key].(type) {
		case string:
			if strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		case map[string]any:
			if msg, ok := value["message"].(string); ok && strings.TrimSpace(msg) != "" {
				return strings.TrimSpace(msg)
			}
		}
	}
	return "webhook rejected the submission"
}
