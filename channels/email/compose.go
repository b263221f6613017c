package email

import (
	"bytes"
	htmltemplate "html/template"
	"net/mail"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/goliatone/go-formrelay/core"
)

type EnvelopeKind string

const (
	EnvelopeForward      EnvelopeKind = "forward"
	EnvelopeConfirmation EnvelopeKind = "confirmation"
)

// Envelope is a composed message, independent of the mail library.
type Envelope struct {
	Kind    EnvelopeKind
	From    string
	To      string
	ReplyTo string
	Subject string
	Text    string
	HTML    string
}

type templateData struct {
	Name            string
	Email           string
	Phone           string
	Subject         string
	Message         string
	ReferenceNumber string
	ReceivedAt      string
}

func newTemplateData(submission core.Submission) templateData {
	receivedAt := submission.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return templateData{
		Name:            submission.Name,
		Email:           submission.Email,
		Phone:           submission.PhoneOrPlaceholder(),
		Subject:         submission.Subject,
		Message:         submission.Message,
		ReferenceNumber: submission.ReferenceNumber,
		ReceivedAt:      receivedAt.UTC().Format(time.RFC1123),
	}
}

var forwardText = texttemplate.Must(texttemplate.New("forward.txt").Parse(`New contact form submission

Reference: {{.ReferenceNumber}}
Received:  {{.ReceivedAt}}

Name:    {{.Name}}
Email:   {{.Email}}
Phone:   {{.Phone}}
Subject: {{.Subject}}

{{.Message}}
`))

var forwardHTML = htmltemplate.Must(htmltemplate.New("forward.html").Parse(`<h2>New contact form submission</h2>
<p><strong>Reference:</strong> {{.ReferenceNumber}}<br><strong>Received:</strong> {{.ReceivedAt}}</p>
<table>
<tr><td><strong>Name</strong></td><td>{{.Name}}</td></tr>
<tr><td><strong>Email</strong></td><td>{{.Email}}</td></tr>
<tr><td><strong>Phone</strong></td><td>{{.Phone}}</td></tr>
<tr><td><strong>Subject</strong></td><td>{{.Subject}}</td></tr>
</table>
<p style="white-space: pre-wrap">{{.Message}}</p>
`))

var confirmationText = texttemplate.Must(texttemplate.New("confirmation.txt").Parse(`Hi {{.Name}},

Thank you for getting in touch. We received your message "{{.Subject}}" and will get back to you soon.

Your reference number is {{.ReferenceNumber}}. Please quote it if you contact us about this request.
`))

var confirmationHTML = htmltemplate.Must(htmltemplate.New("confirmation.html").Parse(`<p>Hi {{.Name}},</p>
<p>Thank you for getting in touch. We received your message <em>{{.Subject}}</em> and will get back to you soon.</p>
<p>Your reference number is <strong>{{.ReferenceNumber}}</strong>. Please quote it if you contact us about this request.</p>
`))

// ComposeForward builds the message sent to the site owner. Replies go to
// the submitter when the address parses; otherwise the forward goes out
// without a Reply-To header.
func ComposeForward(from, recipient string, submission core.Submission) (Envelope, error) {
	data := newTemplateData(submission)
	text, html, err := render(forwardText, forwardHTML, data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Kind:    EnvelopeForward,
		From:    from,
		To:      recipient,
		ReplyTo: replyAddress(submission.Email),
		Subject: "Contact form: " + oneLine(submission.Subject) + " [" + submission.ReferenceNumber + "]",
		Text:    text,
		HTML:    html,
	}, nil
}

// ComposeConfirmation builds the acknowledgement sent back to the submitter.
func ComposeConfirmation(from string, submission core.Submission) (Envelope, error) {
	data := newTemplateData(submission)
	text, html, err := render(confirmationText, confirmationHTML, data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Kind:    EnvelopeConfirmation,
		From:    from,
		To:      submission.Email,
		Subject: "We received your message [" + submission.ReferenceNumber + "]",
		Text:    text,
		HTML:    html,
	}, nil
}

func replyAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return ""
	}
	return address
}

func render(text *texttemplate.Template, html *htmltemplate.Template, data templateData) (string, string, error) {
	var textBuf, htmlBuf bytes.Buffer
	if err := text.Execute(&textBuf, data); err != nil {
		return "", "", err
	}
	if err := html.Execute(&htmlBuf, data); err != nil {
		return "", "", err
	}
	return textBuf.String(), htmlBuf.String(), nil
}

// oneLine keeps header values on a single line.
func oneLine(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
