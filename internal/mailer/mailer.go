package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"eventreg/internal/model"
)

type Config struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer renders notification emails. Without an SMTP host it only logs them.
type Mailer struct {
	cfg  Config
	log  *zerolog.Logger
	send sendFunc
}

func New(cfg Config, log *zerolog.Logger) *Mailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Mailer{cfg: cfg, log: log, send: smtp.SendMail}
}

// Render returns the subject and body for a notification.
func Render(n model.Notification) (string, string) {
	event := n.EventTitle
	if event == "" {
		event = "the event"
	}
	name := n.FirstName
	if name == "" {
		name = "there"
	}

	switch n.Kind {
	case model.NotifyRegistrationPending:
		return "Complete your registration for " + event,
			fmt.Sprintf("Hi %s,\n\nYour registration for %s is saved (id %s).\nSubmit your payment proof to reserve your spot.\n",
				name, event, n.RegistrationID)
	case model.NotifyPaymentVerifying:
		return "Payment received for " + event,
			fmt.Sprintf("Hi %s,\n\nWe received your payment for %s (registration %s).\nOur team is verifying it and you'll receive a confirmation email shortly.\n",
				name, event, n.RegistrationID)
	default:
		return "Update on your registration for " + event,
			fmt.Sprintf("Hi %s,\n\nYour registration %s is now %s.\n", name, n.RegistrationID, n.Status)
	}
}

func (m *Mailer) Send(_ context.Context, n model.Notification) error {
	if n.Email == "" {
		return fmt.Errorf("notification %s for registration %s has no recipient", n.Kind, n.RegistrationID)
	}
	subject, body := Render(n)

	if m.cfg.Host == "" {
		m.log.Info().
			Str("to", n.Email).
			Str("kind", string(n.Kind)).
			Str("subject", subject).
			Str("registration_id", n.RegistrationID).
			Msg("email delivery disabled, message logged")
		return nil
	}

	msg := strings.Join([]string{
		"From: " + m.cfg.From,
		"To: " + n.Email,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{n.Email}, []byte(msg)); err != nil {
		m.log.Warn().Err(err).Str("to", n.Email).Msg("failed to send email")
		return fmt.Errorf("send email: %w", err)
	}

	m.log.Info().Str("to", n.Email).Str("kind", string(n.Kind)).Msg("email sent")
	return nil
}

// Notify delivers n right away. Used when no broker is configured.
func (m *Mailer) Notify(ctx context.Context, n model.Notification) error {
	return m.Send(ctx, n)
}
