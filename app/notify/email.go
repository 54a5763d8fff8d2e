package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/wneessen/go-mail"

	"mentiond/app/webmention"
)

// EmailNotifier sends an email alert when an inbound webmention has
// been processed. Delivery failures are logged and never propagated to
// the processing path.
type EmailNotifier struct {
	smtp      SMTPConfig
	recipient string
	baseURL   string

	// send is replaced in tests.
	send func(*mail.Msg) error
}

type SMTPConfig struct {
	Server   string
	Port     int
	Username string
	Password string
	StartTLS bool
	Sender   string
}

func NewEmailNotifier(smtp SMTPConfig, recipient, baseURL string) *EmailNotifier {
	if smtp.Port == 0 {
		smtp.Port = 587
	}
	n := &EmailNotifier{
		smtp:      smtp,
		recipient: recipient,
		baseURL:   baseURL,
	}
	n.send = n.deliver
	return n
}

// Run builds and sends the notification for one processed mention.
// Outgoing mentions are ignored.
func (n *EmailNotifier) Run(mention *webmention.Webmention) {
	if mention == nil || mention.Direction != webmention.DirectionIncoming {
		return
	}

	msg := mail.NewMsg()
	sender := n.smtp.Sender
	if sender == "" {
		sender = n.smtp.Username
	}
	if sender == "" {
		sender = n.recipient
	}
	if err := msg.From(sender); err != nil {
		slog.Error("Invalid webmention notification sender", "sender", sender, "error", err)
		return
	}
	if err := msg.To(n.recipient); err != nil {
		slog.Error("Invalid webmention notification recipient", "recipient", n.recipient, "error", err)
		return
	}

	msg.Subject(fmt.Sprintf("New Webmention received for %s", n.baseURL))
	msg.SetBodyString(mail.TypeTextPlain, n.body(mention))

	if err := n.send(msg); err != nil {
		slog.Error("Failed to send webmention notification email",
			"source", mention.Source, "target", mention.Target, "error", err)
	}
}

func (n *EmailNotifier) body(mention *webmention.Webmention) string {
	lines := []string{
		"A new Webmention has been processed.",
		"",
		"Source: " + mention.Source,
		"Target: " + mention.Target,
	}

	if mention.AuthorName != "" || mention.AuthorURL != "" {
		lines = append(lines, strings.TrimSpace("Author: "+mention.AuthorName+" "+mention.AuthorURL))
	}
	if mention.Title != "" {
		lines = append(lines, "Title: "+mention.Title)
	}
	if mention.Excerpt != "" {
		lines = append(lines, "", "Excerpt:", mention.Excerpt)
	}

	return strings.Join(lines, "\n") + "\n"
}

func (n *EmailNotifier) deliver(msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(n.smtp.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if !n.smtp.StartTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if n.smtp.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.smtp.Username),
			mail.WithPassword(n.smtp.Password))
	}

	client, err := mail.NewClient(n.smtp.Server, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	return client.DialAndSend(msg)
}
