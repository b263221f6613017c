package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/goliatone/go-formrelay/core"
	"github.com/wneessen/go-mail"
)

const DefaultTimeout = 10 * time.Second

// Transport delivers one envelope. Implementations must be safe for
// concurrent use.
type Transport interface {
	Send(ctx context.Context, envelope Envelope) error
	Verify(ctx context.Context) error
}

// SMTPTransport opens a fresh go-mail client per call so concurrent sends
// never share a connection.
type SMTPTransport struct {
	config core.EmailConfig
}

func NewSMTPTransport(config core.EmailConfig) *SMTPTransport {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &SMTPTransport{config: config}
}

func (t *SMTPTransport) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(t.config.Username),
		mail.WithPassword(t.config.Password),
		mail.WithTimeout(t.config.Timeout),
	}
	if t.config.Secure {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}
	if t.config.Port > 0 {
		opts = append(opts, mail.WithPort(t.config.Port))
	}
	return opts
}

func (t *SMTPTransport) client() (*mail.Client, error) {
	return mail.NewClient(strings.TrimSpace(t.config.Host), t.clientOptions()...)
}

// Send bounds the whole exchange by three timeouts: connect, greeting and
// the longest socket operation.
func (t *SMTPTransport) Send(ctx context.Context, envelope Envelope) error {
	msg, err := NewMessage(envelope)
	if err != nil {
		return err
	}
	client, err := t.client()
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, 3*t.config.Timeout)
	defer cancel()
	return client.DialAndSendWithContext(sendCtx, msg)
}

func (t *SMTPTransport) Verify(ctx context.Context) error {
	client, err := t.client()
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 2*t.config.Timeout)
	defer cancel()
	if err := client.DialWithContext(dialCtx); err != nil {
		return err
	}
	return client.Close()
}

// NewMessage converts an envelope into a go-mail message with a plain text
// body and an HTML alternative.
func NewMessage(envelope Envelope) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(envelope.From); err != nil {
		return nil, fmt.Errorf("email: invalid from address: %w", err)
	}
	if err := msg.To(envelope.To); err != nil {
		return nil, fmt.Errorf("email: invalid to address: %w", err)
	}
	// Reply-To is advisory; a bad one must not cost the message.
	if strings.TrimSpace(envelope.ReplyTo) != "" {
		_ = msg.ReplyTo(envelope.ReplyTo)
	}
	msg.Subject(envelope.Subject)
	msg.SetBodyString(mail.TypeTextPlain, envelope.Text)
	if envelope.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, envelope.HTML)
	}
	return msg, nil
}

// Diagnostics are the provider fields logged for a failed send.
type Diagnostics struct {
	ErrorCode int
	Command   string
	Response  string
	Temporary bool
}

func (d Diagnostics) Fields() map[string]any {
	return map[string]any{
		"error_code": d.ErrorCode,
		"command":    d.Command,
		"response":   d.Response,
		"temporary":  d.Temporary,
	}
}

func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Response: err.Error()}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		d.ErrorCode = protoErr.Code
		d.Response = protoErr.Msg
		d.Temporary = protoErr.Code >= 400 && protoErr.Code < 500
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		d.Command = commandForReason(sendErr.Reason)
		if coded, ok := any(sendErr).(interface{ ErrorCode() int }); ok && d.ErrorCode == 0 {
			d.ErrorCode = coded.ErrorCode()
		}
		d.Temporary = d.Temporary || sendErr.IsTemp()
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		d.Temporary = true
		if d.Command == "" {
			d.Command = "CONN"
		}
	case errors.As(err, &netErr):
		d.Temporary = true
		if d.Command == "" {
			d.Command = "CONN"
		}
	}
	if d.Command == "" && strings.Contains(strings.ToLower(err.Error()), "auth") {
		d.Command = "AUTH"
	}
	return d
}

func commandForReason(reason mail.SendErrReason) string {
	switch reason {
	case mail.ErrSMTPMailFrom, mail.ErrGetSender:
		return "MAIL FROM"
	case mail.ErrSMTPRcptTo, mail.ErrGetRcpts:
		return "RCPT TO"
	case mail.ErrSMTPData, mail.ErrSMTPDataClose, mail.ErrWriteContent:
		return "DATA"
	case mail.ErrSMTPReset:
		return "RSET"
	case mail.ErrConnCheck:
		return "NOOP"
	default:
		return ""
	}
}

var _ Transport = (*SMTPTransport)(nil)
