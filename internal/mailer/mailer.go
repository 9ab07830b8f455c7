// Package mailer is the outbound SMTP transport. An SMTPMailer is built
// per sender identity from the credentials stored on the user row; there
// is no process-wide connection state.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

type Message struct {
	FromName string
	From     string
	To       string
	ReplyTo  string
	Subject  string
	HTML     string
	Text     string
}

type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
}

func New(host string, port int, username, password string) *SMTPMailer {
	return &SMTPMailer{Host: host, Port: port, Username: username, Password: password}
}

func (m *SMTPMailer) addr() string { return fmt.Sprintf("%s:%d", m.Host, m.Port) }

// dial opens the connection and completes STARTTLS + AUTH. Connection
// deadlines are taken from ctx so a hung server cannot stall the caller
// past its timeout.
func (m *SMTPMailer) dial(ctx context.Context) (*smtp.Client, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", m.addr())
	if err != nil {
		return nil, fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	client, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.Host}); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if m.Username != "" {
		auth := smtp.PlainAuth("", m.Username, m.Password, m.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp auth: %w", err)
		}
	}
	return client, nil
}

// Verify checks that the configured identity can connect and authenticate.
func (m *SMTPMailer) Verify(ctx context.Context) error {
	client, err := m.dial(ctx)
	if err != nil {
		return err
	}
	return client.Quit()
}

// Send transmits one message as multipart/alternative (text + html).
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	client, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Quit()

	if err := client.Mail(msg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMIME(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return nil
}

const boundary = "----=_outreach_alt"

func buildMIME(msg Message) []byte {
	var b strings.Builder
	from := msg.From
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.FromName), msg.From)
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	text := msg.Text
	if text == "" {
		text = htmlToTextFallback(msg.HTML)
	}
	writePart(&b, "text/plain; charset=utf-8", text)
	writePart(&b, "text/html; charset=utf-8", msg.HTML)
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}

func writePart(b *strings.Builder, contentType, body string) {
	fmt.Fprintf(b, "--%s\r\n", boundary)
	fmt.Fprintf(b, "Content-Type: %s\r\n", contentType)
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
}

// Fallback when no text body was authored: break tags become newlines,
// everything else stays as-is.
var brReplacer = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n")

func htmlToTextFallback(html string) string { return brReplacer.Replace(html) }
