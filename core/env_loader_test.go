package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestEnvConfigLoader_MapsVariables(t *testing.T) {
	loader := &EnvConfigLoader{Lookup: lookupFrom(map[string]string{
		"SMTP_HOST":             "smtp.example.com",
		"SMTP_PORT":             "465",
		"SMTP_SECURE":           "true",
		"WEBHOOK_URL":           "https://hooks.example.com/x",
		"WEBHOOK_TIMEOUT":       "2500",
		"KAFKA_BROKERS":         "a:9092, b:9092,",
		"APP_ENV":               "production",
		"DISPATCH_WORKERS":      "8",
		"DISPATCH_SINK_TIMEOUT": "750",
		"HTTP_OPERATOR_ROUTES":  "true",
	})}

	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	email := raw["email"].(map[string]any)
	if email["host"] != "smtp.example.com" || email["port"] != 465 || email["secure"] != true {
		t.Fatalf("unexpected email section: %#v", email)
	}
	webhook := raw["webhook"].(map[string]any)
	if webhook["timeout"] != 2500*time.Millisecond {
		t.Fatalf("expected millisecond timeout, got %#v", webhook["timeout"])
	}
	brokers := raw["kafka"].(map[string]any)["brokers"].([]string)
	if len(brokers) != 2 || brokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers: %#v", brokers)
	}
	if raw["environment"] != "production" {
		t.Fatalf("expected environment, got %#v", raw["environment"])
	}
	if timeout := raw["dispatch"].(map[string]any)["sink_timeout"]; timeout != 750*time.Millisecond {
		t.Fatalf("expected sink timeout, got %#v", timeout)
	}
	if raw["http"].(map[string]any)["operator_routes"] != true {
		t.Fatalf("expected operator routes flag, got %#v", raw["http"])
	}
}

func TestEnvConfigLoader_RejectsMalformedValues(t *testing.T) {
	loader := &EnvConfigLoader{Lookup: lookupFrom(map[string]string{"SMTP_PORT": "abc"})}
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvConfigLoader_ReadsDotenvFilesBelowProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "SMTP_HOST=file.example.com\nCONTACT_RECIPIENT=inbox@example.com\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	loader := &EnvConfigLoader{
		Files:  []string{path, filepath.Join(dir, "missing.env")},
		Lookup: lookupFrom(map[string]string{"SMTP_HOST": "process.example.com"}),
	}

	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	email := raw["email"].(map[string]any)
	if email["host"] != "process.example.com" {
		t.Fatalf("expected process env to win, got %#v", email["host"])
	}
	if email["recipient"] != "inbox@example.com" {
		t.Fatalf("expected dotenv value, got %#v", email["recipient"])
	}
}

func TestEnvConfigLoader_FeedsServiceConfig(t *testing.T) {
	loader := &EnvConfigLoader{Lookup: lookupFrom(map[string]string{
		"SMTP_HOST": "smtp.example.com",
		"SMTP_USER": "user",
		"SMTP_PASS": "pass",
		"APP_ENV":   "production",
	})}
	svc, err := NewService(Config{}, WithConfigProvider(NewCfgxConfigProvider(loader)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := svc.Config()
	if !cfg.Email.Configured() {
		t.Fatalf("expected email to be configured from env: %#v", cfg.Email)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production environment")
	}
}
