package formrelay

import (
	"strings"

	"github.com/goliatone/go-formrelay/channels/email"
	"github.com/goliatone/go-formrelay/channels/webhook"
	"github.com/goliatone/go-formrelay/core"
)

func EmailChannel(cfg core.EmailConfig, opts ...email.Option) core.ChannelAdapter {
	return email.New(cfg, opts...)
}

// WebhookChannel builds the webhook adapter and signs requests when a secret
// is configured.
func WebhookChannel(cfg core.WebhookConfig, opts ...webhook.Option) core.ChannelAdapter {
	if strings.TrimSpace(cfg.Secret) != "" {
		opts = append([]webhook.Option{webhook.WithSigner(core.NewHMACSigner(cfg.Secret))}, opts...)
	}
	return webhook.New(webhook.Config{URL: cfg.URL, Timeout: cfg.Timeout}, opts...)
}

// DefaultChannels builds the email and webhook adapters from cfg. Both are
// always present so every dispatch records one outcome per channel, even when
// a channel is unconfigured and ends as skipped.
func DefaultChannels(cfg Config, logger core.Logger) []core.ChannelAdapter {
	return []core.ChannelAdapter{
		EmailChannel(cfg.Email, email.WithLogger(logger)),
		WebhookChannel(cfg.Webhook, webhook.WithLogger(logger)),
	}
}
