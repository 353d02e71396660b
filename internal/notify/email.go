package notify

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig holds mail server settings. Username and Password usually come
// from the environment rather than the config file.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Configured reports whether enough settings are present to send mail.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Username != "" && c.Password != "" && len(c.To) > 0
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSink sends each alert as a plain-text email.
type EmailSink struct {
	cfg      SMTPConfig
	send     sendMailFunc
	now      func() time.Time
	hostname string
}

// NewEmailSink creates a sink for cfg. hostname is added to the subject so
// alerts from several devices can be told apart.
func NewEmailSink(cfg SMTPConfig, hostname string) *EmailSink {
	return &EmailSink{cfg: cfg, send: smtp.SendMail, now: time.Now, hostname: hostname}
}

// Notify sends the alert, or logs and skips when SMTP is not configured.
func (e *EmailSink) Notify(subject, body string) {
	if !e.cfg.Configured() {
		log.Printf("notify: smtp not configured, skipping email %q", subject)
		return
	}
	if err := e.sendEmail(subject, body); err != nil {
		log.Printf("notify: %v", err)
		return
	}
	log.Printf("notify: email sent: %s", subject)
}

func (e *EmailSink) sendEmail(subject, body string) error {
	if e.hostname != "" {
		subject = fmt.Sprintf("[%s] %s", e.hostname, subject)
	}
	from := e.cfg.From
	if from == "" {
		from = e.cfg.Username
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	if err := e.send(addr, auth, from, e.cfg.To, []byte(msg.String())); err != nil {
		return fmt.Errorf("send email %q: %w", subject, err)
	}
	return nil
}
