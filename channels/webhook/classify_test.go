package webhook

import (
	"strings"
	"testing"

	"github.com/goliatone/go-formrelay/core"
)

func TestClassify_TagsBodyShapes(t *testing.T) {
	cases := map[string]Kind{
		"":                                 KindEmpty,
		"   \n\t ":                         KindEmpty,
		"<!DOCTYPE html><html></html>":     KindHTML,
		"<HTML><body>Moved</body></HTML>":  KindHTML,
		"<p>see the html version</p>":      KindHTML,
		`{"success":true}`:                 KindJSON,
		`{"note":"html inside json"}`:      KindJSON,
		"OK":                               KindOpaque,
		`["not","an","object"]`:            KindOpaque,
		"accepted, row 12":                 KindOpaque,
		strings.Repeat("x", 120) + " html": KindOpaque,
	}
	for body, want := range cases {
		if got := Classify(200, []byte(body)).Kind; got != want {
			t.Fatalf("body %q: expected kind %q, got %q", body, want, got)
		}
	}
}

func TestDecide_HTMLResponses(t *testing.T) {
	for _, body := range []string{"<!DOCTYPE html><html><body>ok</body></html>", "<html><head></head></html>"} {
		if d := Decide(Classify(200, []byte(body))); d.Status != core.OutcomeSent {
			t.Fatalf("html 200 should be sent, got %+v", d)
		}
		if d := Decide(Classify(302, []byte(body))); d.Status != core.OutcomeSent {
			t.Fatalf("html 302 should be sent, got %+v", d)
		}

		unauthorized := Decide(Classify(401, []byte(body)))
		if unauthorized.Status != core.OutcomeFailed {
			t.Fatalf("html 401 should fail, got %+v", unauthorized)
		}
		if unauthorized.Detail != DetailAuthRequired {
			t.Fatalf("expected authentication detail, got %q", unauthorized.Detail)
		}
		if unauthorized.Retryable {
			t.Fatalf("authentication failures are not retryable")
		}

		serverErr := Decide(Classify(500, []byte(body)))
		if serverErr.Status != core.OutcomeFailed {
			t.Fatalf("html 500 should fail, got %+v", serverErr)
		}
		if !strings.Contains(serverErr.Detail, "500") {
			t.Fatalf("expected status code in detail, got %q", serverErr.Detail)
		}
		if !serverErr.Retryable {
			t.Fatalf("5xx failures should be retryable")
		}
	}
}

func TestDecide_JSONResponses(t *testing.T) {
	ok := Decide(Classify(200, []byte(`{"success": true}`)))
	if ok.Status != core.OutcomeSent || ok.Rule != "json_success" {
		t.Fatalf("expected json success, got %+v", ok)
	}

	rejected := Decide(Classify(200, []byte(`{"success": false, "message": "quota exceeded"}`)))
	if rejected.Status != core.OutcomeFailed {
		t.Fatalf("expected failure, got %+v", rejected)
	}
	if rejected.Detail != "quota exceeded" {
		t.Fatalf("expected payload message as detail, got %q", rejected.Detail)
	}
	if rejected.Retryable {
		t.Fatalf("json rejections are not retryable")
	}

	status := Decide(Classify(200, []byte(`{"status":"OK"}`)))
	if status.Status != core.OutcomeSent {
		t.Fatalf("status ok should be sent, got %+v", status)
	}

	withError := Decide(Classify(200, []byte(`{"error":"sheet locked"}`)))
	if withError.Status != core.OutcomeFailed || withError.Detail != "sheet locked" {
		t.Fatalf("expected error field as detail, got %+v", withError)
	}

	silent := Decide(Classify(200, []byte(`{"row": 4}`)))
	if silent.Status != core.OutcomeSent {
		t.Fatalf("json without a verdict at 200 should fall back to status, got %+v", silent)
	}
	silentErr := Decide(Classify(400, []byte(`{"row": 4}`)))
	if silentErr.Status != core.OutcomeFailed {
		t.Fatalf("json without a verdict at 400 should fail, got %+v", silentErr)
	}
}

func TestDecide_OpaqueAndEmptyResponses(t *testing.T) {
	if d := Decide(Classify(200, []byte("OK"))); d.Status != core.OutcomeSent {
		t.Fatalf("opaque 200 should be sent, got %+v", d)
	}
	unavailable := Decide(Classify(503, []byte("OK")))
	if unavailable.Status != core.OutcomeFailed {
		t.Fatalf("opaque 503 should fail, got %+v", unavailable)
	}
	if !strings.HasPrefix(unavailable.Detail, DetailInvalidResponse) {
		t.Fatalf("expected invalid response detail, got %q", unavailable.Detail)
	}
	if !unavailable.Retryable {
		t.Fatalf("503 should be retryable")
	}

	if d := Decide(Classify(302, nil)); d.Status != core.OutcomeSent || d.Rule != "empty_ok" {
		t.Fatalf("empty 302 should be sent, got %+v", d)
	}
	empty404 := Decide(Classify(404, nil))
	if empty404.Status != core.OutcomeFailed || empty404.Retryable {
		t.Fatalf("empty 404 should fail without retry, got %+v", empty404)
	}
	if d := Decide(Classify(429, []byte("slow down"))); !d.Retryable {
		t.Fatalf("429 should be retryable, got %+v", d)
	}
}

func TestDecide_EmptyErrorFieldIsNotAFailure(t *testing.T) {
	for _, body := range []string{
		`{"error": null, "data": {"row": 4}}`,
		`{"error": "", "data": {"row": 4}}`,
		`{"error": false}`,
		`{"error": {}}`,
	} {
		decision := Decide(Classify(200, []byte(body)))
		if decision.Status != core.OutcomeSent {
			t.Fatalf("%s: expected sent, got %+v", body, decision)
		}
	}
	nested := Decide(Classify(200, []byte(`{"error": {"message": "quota exceeded"}}`)))
	if nested.Status != core.OutcomeFailed || nested.Detail != "quota exceeded" {
		t.Fatalf("expected populated error object to fail, got %+v", nested)
	}
}
