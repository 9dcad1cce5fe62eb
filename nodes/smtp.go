package nodes

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.jetify.com/typeid"
)

// SMTPOptions configures an SMTPMailer.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer delivers email through an SMTP relay, upgrading to TLS when
// the server offers STARTTLS.
type SMTPMailer struct {
	opts SMTPOptions
	now  func() time.Time
}

func NewSMTPMailer(opts SMTPOptions) (*SMTPMailer, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	return &SMTPMailer{opts: opts, now: time.Now}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, email Email) (string, error) {
	if len(email.To) == 0 {
		return "", fmt.Errorf("smtp: message has no recipients")
	}
	id, err := typeid.WithPrefix("msg")
	if err != nil {
		return "", err
	}
	messageID := fmt.Sprintf("<%s@%s>", id.String(), m.opts.Host)

	addr := net.JoinHostPort(m.opts.Host, strconv.Itoa(m.opts.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	client, err := smtp.NewClient(conn, m.opts.Host)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.opts.Host}); err != nil {
			return "", fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if m.opts.Username != "" {
		auth := smtp.PlainAuth("", m.opts.Username, m.opts.Password, m.opts.Host)
		if err := client.Auth(auth); err != nil {
			return "", fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(m.opts.From); err != nil {
		return "", fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range append(append([]string{}, email.To...), email.Cc...) {
		if err := client.Rcpt(rcpt); err != nil {
			return "", fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(m.buildMessage(messageID, email)); err != nil {
		return "", fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("smtp data: %w", err)
	}
	return messageID, client.Quit()
}

func (m *SMTPMailer) buildMessage(messageID string, email Email) []byte {
	var b strings.Builder
	header := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	header("From", m.opts.From)
	header("To", strings.Join(email.To, ", "))
	header("Cc", strings.Join(email.Cc, ", "))
	header("Subject", email.Subject)
	header("Message-ID", messageID)
	header("Date", m.now().Format(time.RFC1123Z))
	header("X-Template-ID", email.TemplateID)
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(email.Body, "\n", "\r\n"))
	return []byte(b.String())
}
