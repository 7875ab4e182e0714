// Package notify sends terse ops alerts over SMTP, using a
// STARTTLS-vs-direct-TLS dual dialing path. No HTML templating, since an
// ops alert is a one-line plain-text message, not a digest.
package notify

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"time"

	"github.com/rs/zerolog"
)

// Config holds SMTP server configuration for alert delivery.
type Config struct {
	SMTPHost  string
	SMTPPort  string
	Username  string
	Password  string
	FromEmail string
	ToEmail   string
}

// Mailer sends ops alerts. A Mailer with an empty ToEmail is a no-op,
// so deployments without SMTP configured still run, just silently.
type Mailer struct {
	cfg Config
	log zerolog.Logger
}

// New builds a Mailer from cfg.
func New(cfg Config, log zerolog.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log.With().Str("component", "notify").Logger()}
}

// AlertInvariantViolation notifies operators that the Governor detected and
// auto-corrected a duplicate-ACTIVE-block state.
func (m *Mailer) AlertInvariantViolation(blockID, detail string) {
	m.send("HMLR invariant violation auto-corrected",
		fmt.Sprintf("block_id=%s\n%s\ntime=%s", blockID, detail, time.Now().UTC().Format(time.RFC3339)))
}

// AlertGardeningFailure notifies operators that a scheduled gardening pass
// failed and the block was left intact for retry.
func (m *Mailer) AlertGardeningFailure(blockID string, cause error) {
	m.send("HMLR gardening failure",
		fmt.Sprintf("block_id=%s\nerror=%s\ntime=%s", blockID, cause.Error(), time.Now().UTC().Format(time.RFC3339)))
}

func (m *Mailer) send(subject, body string) {
	if m.cfg.ToEmail == "" || m.cfg.SMTPHost == "" {
		m.log.Debug().Str("subject", subject).Msg("notify: no ops alert recipient configured, dropping")
		return
	}

	msg := m.buildMessage(subject, body)
	if err := m.sendSMTPWithTLS(msg); err != nil {
		m.log.Error().Err(err).Str("subject", subject).Msg("notify: failed to send ops alert")
	}
}

func (m *Mailer) buildMessage(subject, body string) []byte {
	return []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s\r\n",
		m.cfg.FromEmail, m.cfg.ToEmail, subject, body,
	))
}

func (m *Mailer) sendSMTPWithTLS(msg []byte) error {
	addr := m.cfg.SMTPHost + ":" + m.cfg.SMTPPort
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.SMTPHost)
	to := []string{m.cfg.ToEmail}

	if m.cfg.SMTPPort == "587" {
		return m.sendWithSTARTTLS(msg, auth, addr, to)
	}
	return m.sendWithDirectTLS(msg, auth, addr, to)
}

func (m *Mailer) sendWithSTARTTLS(msg []byte, auth smtp.Auth, addr string, to []string) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}
	defer client.Quit()

	tlsConfig := &tls.Config{InsecureSkipVerify: false, ServerName: m.cfg.SMTPHost}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("starting tls: %w", err)
	}
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	return m.transmit(client, to, msg)
}

func (m *Mailer) sendWithDirectTLS(msg []byte, auth smtp.Auth, addr string, to []string) error {
	tlsConfig := &tls.Config{InsecureSkipVerify: false, ServerName: m.cfg.SMTPHost}
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("connecting to smtp server with tls: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	defer client.Quit()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	return m.transmit(client, to, msg)
}

func (m *Mailer) transmit(client *smtp.Client, to []string, msg []byte) error {
	if err := client.Mail(m.cfg.FromEmail); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("rcpt to %s: %w", recipient, err)
		}
	}
	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("data writer: %w", err)
	}
	defer writer.Close()
	if _, err := writer.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}
