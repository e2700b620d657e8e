package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"herbitect/config"
)

var (
	ErrNoRecipient = errors.New("no recipient provided")
	ErrNoSender    = errors.New("no sender configured")
)

// EmailMessage is what the OTP flow hands to a Mailer.
type EmailMessage struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// SMTPMailer delivers mail through the configured relay with one attempt per
// message. With UseTLS the session must be upgraded with STARTTLS.
type SMTPMailer struct {
	cfg     config.MailConfig
	addr    string
	timeout time.Duration
}

func NewSMTPMailer(cfg config.MailConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("smtp host and port are required")
	}
	if cfg.Sender == "" {
		return nil, ErrNoSender
	}
	return &SMTPMailer{
		cfg:     cfg,
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		timeout: 30 * time.Second,
	}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg EmailMessage) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(msg.Subject, "\r\n") {
		return errors.New("header values must not contain line breaks")
	}

	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.addr, err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline := time.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if m.cfg.UseTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return errors.New("smtp server does not support STARTTLS")
		}
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if m.cfg.Username != "" && m.cfg.Password != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(m.cfg.Sender); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(buildMessage(m.cfg.Sender, msg)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	return c.Quit()
}

func buildMessage(from string, msg EmailMessage) []byte {
	body, contentType := buildBody(msg)

	headers := []string{
		"From: " + from,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
		"Content-Type: " + contentType,
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body)
}

func buildBody(msg EmailMessage) (body string, contentType string) {
	if msg.HTMLBody != "" && msg.TextBody != "" {
		boundary := multipartBoundary()
		var sb strings.Builder
		fmt.Fprintf(&sb, "--%s\r\n", boundary)
		sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		sb.WriteString(msg.TextBody)
		sb.WriteString("\r\n")
		fmt.Fprintf(&sb, "--%s\r\n", boundary)
		sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		sb.WriteString(msg.HTMLBody)
		sb.WriteString("\r\n")
		fmt.Fprintf(&sb, "--%s--", boundary)
		return sb.String(), "multipart/alternative; boundary=" + boundary
	}
	if msg.HTMLBody != "" {
		return msg.HTMLBody, "text/html; charset=UTF-8"
	}
	return msg.TextBody, "text/plain; charset=UTF-8"
}

func multipartBoundary() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "herbitect-boundary"
	}
	return "herbitect-" + hex.EncodeToString(b[:])
}

var otpEmailTemplate = template.Must(template.New("otp").Parse(`<table width="680px" cellpadding="0" cellspacing="0" border="0">
  <tbody>
    <tr>
      <td width="100%" bgcolor="#eeeeee" align="center"><h1>HerbiTect</h1></td>
    </tr>
    <tr>
      <td width="100%" bgcolor="#ffffff" align="center" valign="top" style="line-height:24px">
        <font color="#333333" face="Arial"><span style="font-size:20px">Hello!</span></font><br>
        <font color="#333333" face="Arial"><span style="font-size:16px">Enter the OTP below on the verification screen.</span></font>
      </td>
    </tr>
    <tr>
      <td width="100%" bgcolor="#ffffff" align="center" valign="middle" style="font-size:18px;color:#c00;font-family:Arial">
        OTP : <strong style="color:#000">{{.Code}}</strong>
      </td>
    </tr>
    <tr>
      <td width="100%" bgcolor="#ffffff" align="center" style="font-size:14px;color:#666;font-family:Arial">
        It is valid for {{.Validity}}.
      </td>
    </tr>
  </tbody>
</table>`))

// GenerateEmailContent renders the plain-text and HTML bodies for a code.
func GenerateEmailContent(code string, ttl time.Duration) (text string, html string, err error) {
	validity := validityText(ttl)
	text = fmt.Sprintf("Your OTP is: %s. It is valid for %s.", code, validity)

	var buf bytes.Buffer
	err = otpEmailTemplate.Execute(&buf, struct {
		Code     string
		Validity string
	}{Code: code, Validity: validity})
	if err != nil {
		return "", "", fmt.Errorf("render otp email: %w", err)
	}
	return text, buf.String(), nil
}

func validityText(ttl time.Duration) string {
	if ttl >= time.Minute && ttl%time.Minute == 0 {
		n := int(ttl / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	}
	return ttl.String()
}
