package mailing

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-dispatch/internal/domain"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
)

// SMTPConfig describes one SMTP submission endpoint.
type SMTPConfig struct {
	Host     string
	Port     int
	Secure   bool // implicit TLS (port 465 style); otherwise STARTTLS when offered
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPTransport delivers mail over SMTP, opening one connection per call.
type SMTPTransport struct {
	cfg  SMTPConfig
	tls  *tls.Config
	now  func() time.Time
	host string
}

// NewSMTPTransport creates an SMTP transport.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPTransport{
		cfg:  cfg,
		tls:  &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		now:  time.Now,
		host: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
}

// Verify connects, negotiates TLS, authenticates and quits.
func (t *SMTPTransport) Verify(ctx context.Context) error {
	c, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", sending.ErrVerify, err)
	}
	defer c.Close()
	if err := c.Noop(); err != nil {
		return fmt.Errorf("%w: NOOP: %v", sending.ErrVerify, err)
	}
	return c.Quit()
}

// Send delivers one message.
func (t *SMTPTransport) Send(ctx context.Context, msg *domain.EmailMessage) error {
	raw, err := buildMessage(msg, fmt.Sprintf("<%s@%s>", uuid.NewString(), t.cfg.Host), t.now())
	if err != nil {
		return fmt.Errorf("%w: build message: %v", sending.ErrSend, err)
	}

	c, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", sending.ErrSend, err)
	}
	defer c.Close()

	if err := c.Mail(msg.FromEmail); err != nil {
		return fmt.Errorf("%w: MAIL FROM: %v", sending.ErrSend, err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("%w: RCPT TO: %v", sending.ErrSend, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("%w: DATA: %v", sending.ErrSend, err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("%w: write: %v", sending.ErrSend, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: DATA close: %v", sending.ErrSend, err)
	}
	return c.Quit()
}

func (t *SMTPTransport) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.host)
	if err != nil {
		return nil, fmt.Errorf("SMTP connect to %s: %w", t.host, err)
	}
	_ = conn.SetDeadline(time.Now().Add(2 * t.cfg.Timeout))
	if t.cfg.Secure {
		conn = tls.Client(conn, t.tls)
	}

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SMTP client: %w", err)
	}
	if !t.cfg.Secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(t.tls); err != nil {
				c.Close()
				return nil, fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}
	if t.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			// PlainAuth refuses to send credentials over an unencrypted
			// connection to anything but localhost.
			if err := c.Auth(smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)); err != nil {
				c.Close()
				return nil, fmt.Errorf("AUTH: %w", err)
			}
		}
	}
	return c, nil
}

// buildMessage renders msg as an RFC 5322 message. Bodies are
// quoted-printable; HTML plus text becomes multipart/alternative.
func buildMessage(msg *domain.EmailMessage, messageID string, now time.Time) ([]byte, error) {
	var head bytes.Buffer
	writeHeader := func(k, v string) { fmt.Fprintf(&head, "%s: %s\r\n", k, v) }

	writeHeader("From", (&mail.Address{Name: msg.FromName, Address: msg.FromEmail}).String())
	writeHeader("To", (&mail.Address{Address: msg.To}).String())
	if msg.ReplyTo != "" {
		writeHeader("Reply-To", msg.ReplyTo)
	}
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("Date", now.Format(time.RFC1123Z))
	writeHeader("Message-ID", messageID)
	writeHeader("MIME-Version", "1.0")

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(textproto.CanonicalMIMEHeaderKey(k), mime.QEncoding.Encode("utf-8", msg.Headers[k]))
	}

	var body bytes.Buffer
	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		mw := multipart.NewWriter(&body)
		writeHeader("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
		for _, part := range []struct{ ctype, content string }{
			{"text/plain; charset=UTF-8", msg.TextBody},
			{"text/html; charset=UTF-8", msg.HTMLBody},
		} {
			pw, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":              {part.ctype},
				"Content-Transfer-Encoding": {"quoted-printable"},
			})
			if err != nil {
				return nil, err
			}
			if err := writeQP(pw, part.content); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
	default:
		ctype, content := "text/plain; charset=UTF-8", msg.TextBody
		if msg.HTMLBody != "" {
			ctype, content = "text/html; charset=UTF-8", msg.HTMLBody
		}
		writeHeader("Content-Type", ctype)
		writeHeader("Content-Transfer-Encoding", "quoted-printable")
		if err := writeQP(&body, content); err != nil {
			return nil, err
		}
	}

	head.WriteString("\r\n")
	head.Write(body.Bytes())
	return head.Bytes(), nil
}

func writeQP(w io.Writer, s string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(s)); err != nil {
		return err
	}
	return qp.Close()
}
