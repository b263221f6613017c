package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvConfigLoader reads configuration from process environment variables and
// optional dotenv files. Process variables win over file values.
type EnvConfigLoader struct {
	Files  []string
	Lookup func(key string) (string, bool)
}

func NewEnvConfigLoader(files ...string) *EnvConfigLoader {
	return &EnvConfigLoader{Files: files, Lookup: os.LookupEnv}
}

type envBinding struct {
	env     string
	path    []string
	convert func(string) (any, error)
}

var envBindings = []envBinding{
	{env: "SERVICE_NAME", path: []string{"service_name"}, convert: asString},
	{env: "APP_ENV", path: []string{"environment"}, convert: asString},
	{env: "HTTP_ADDR", path: []string{"http", "addr"}, convert: asString},
	{env: "HTTP_SHUTDOWN_TIMEOUT", path: []string{"http", "shutdown_timeout"}, convert: asDuration},
	{env: "HTTP_OPERATOR_ROUTES", path: []string{"http", "operator_routes"}, convert: asBool},
	{env: "SMTP_HOST", path: []string{"email", "host"}, convert: asString},
	{env: "SMTP_PORT", path: []string{"email", "port"}, convert: asInt},
	{env: "SMTP_SECURE", path: []string{"email", "secure"}, convert: asBool},
	{env: "SMTP_USER", path: []string{"email", "username"}, convert: asString},
	{env: "SMTP_PASS", path: []string{"email", "password"}, convert: asString},
	{env: "SMTP_FROM", path: []string{"email", "from"}, convert: asString},
	{env: "CONTACT_RECIPIENT", path: []string{"email", "recipient"}, convert: asString},
	{env: "SMTP_TIMEOUT", path: []string{"email", "timeout"}, convert: asDuration},
	{env: "WEBHOOK_URL", path: []string{"webhook", "url"}, convert: asString},
	{env: "WEBHOOK_TIMEOUT", path: []string{"webhook", "timeout"}, convert: asDuration},
	{env: "WEBHOOK_SECRET", path: []string{"webhook", "secret"}, convert: asString},
	{env: "DISPATCH_WORKERS", path: []string{"dispatch", "workers"}, convert: asInt},
	{env: "DISPATCH_QUEUE_CAPACITY", path: []string{"dispatch", "queue_capacity"}, convert: asInt},
	{env: "DISPATCH_CHANNEL_CONCURRENCY", path: []string{"dispatch", "channel_concurrency"}, convert: asInt},
	{env: "DISPATCH_POLL_INTERVAL", path: []string{"dispatch", "poll_interval"}, convert: asDuration},
	{env: "DISPATCH_HANDOFF_GRACE", path: []string{"dispatch", "handoff_grace"}, convert: asDuration},
	{env: "DISPATCH_BATCH_SIZE", path: []string{"dispatch", "batch_size"}, convert: asInt},
	{env: "DISPATCH_MAX_ATTEMPTS", path: []string{"dispatch", "max_attempts"}, convert: asInt},
	{env: "DISPATCH_INITIAL_BACKOFF", path: []string{"dispatch", "initial_backoff"}, convert: asDuration},
	{env: "DISPATCH_MAX_BACKOFF", path: []string{"dispatch", "max_backoff"}, convert: asDuration},
	{env: "DISPATCH_CLAIM_LEASE", path: []string{"dispatch", "claim_lease"}, convert: asDuration},
	{env: "DISPATCH_SINK_TIMEOUT", path: []string{"dispatch", "sink_timeout"}, convert: asDuration},
	{env: "DATABASE_DRIVER", path: []string{"database", "driver"}, convert: asString},
	{env: "DATABASE_URL", path: []string{"database", "dsn"}, convert: asString},
	{env: "DATABASE_DEBUG", path: []string{"database", "debug"}, convert: asBool},
	{env: "KAFKA_BROKERS", path: []string{"kafka", "brokers"}, convert: asList},
	{env: "KAFKA_TOPIC", path: []string{"kafka", "topic"}, convert: asString},
	{env: "AMQP_URL", path: []string{"rabbitmq", "url"}, convert: asString},
	{env: "AMQP_EXCHANGE", path: []string{"rabbitmq", "exchange"}, convert: asString},
	{env: "AMQP_ROUTING_KEY", path: []string{"rabbitmq", "routing_key"}, convert: asString},
	{env: "METRICS_DISABLED", path: []string{"metrics", "disabled"}, convert: asBool},
}

func (l *EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	fileValues := map[string]string{}
	if l != nil && len(l.Files) > 0 {
		for _, file := range l.Files {
			values, err := godotenv.Read(file)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, fmt.Errorf("core: read env file %q: %w", file, err)
			}
			for key, value := range values {
				fileValues[key] = value
			}
		}
	}
	lookup := os.LookupEnv
	if l != nil && l.Lookup != nil {
		lookup = l.Lookup
	}

	raw := map[string]any{}
	for _, binding := range envBindings {
		value, ok := lookup(binding.env)
		if !ok {
			value, ok = fileValues[binding.env]
		}
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			continue
		}
		converted, err := binding.convert(value)
		if err != nil {
			return nil, fmt.Errorf("core: env %s: %w", binding.env, err)
		}
		setPath(raw, binding.path, converted)
	}
	return raw, nil
}

func setPath(target map[string]any, path []string, value any) {
	current := target
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}

func asString(value string) (any, error) {
	return value, nil
}

func asInt(value string) (any, error) {
	return strconv.Atoi(value)
}

func asBool(value string) (any, error) {
	return strconv.ParseBool(value)
}

// asDuration accepts Go duration strings and bare integers as milliseconds.
func asDuration(value string) (any, error) {
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(value)
}

func asList(value string) (any, error) {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}
