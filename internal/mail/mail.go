// Package mail sends transactional HTML email over SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/config"
	gomail "github.com/wneessen/go-mail"
)

// ErrDisabled is returned by the sender used when SMTP is not configured.
var ErrDisabled = errors.New("mail: smtp is not configured")

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender returns an SMTP sender, or a NopSender when cfg has no host.
func NewSender(cfg config.SMTPConfig) Sender {
	if !cfg.Enabled() {
		log.Warn().Msg("SMTP_HOST is not set, outgoing email is disabled")
		return NopSender{}
	}
	return &SMTPSender{cfg: cfg}
}

type SMTPSender struct {
	cfg config.SMTPConfig
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("mail: invalid sender %q: %w", s.cfg.From, err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("mail: invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextHTML, msg.HTML)

	client, err := gomail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("mail: failed to create client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("mail: failed to send %q to %s: %w: %w", msg.Subject, msg.To, apperr.ErrTransport, err)
	}

	log.Debug().Str("to", msg.To).Str("subject", msg.Subject).Msg("mail: message sent")
	return nil
}

func (s *SMTPSender) clientOptions() []gomail.Option {
	opts := []gomail.Option{gomail.WithTLSPortPolicy(gomail.TLSMandatory)}
	if s.cfg.Port == 465 {
		opts = append(opts, gomail.WithSSLPort(false))
	}
	if s.cfg.Port > 0 {
		opts = append(opts, gomail.WithPort(s.cfg.Port))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.Username),
			gomail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

// NopSender drops every message.
type NopSender struct{}

func (NopSender) Send(context.Context, Message) error {
	return ErrDisabled
}
