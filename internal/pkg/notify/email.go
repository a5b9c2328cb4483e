package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/gomail.v2"

	"taskr/internal/config"
	"taskr/internal/model"
)

// Sender sends an assembled message. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier sends reminders over SMTP.
type EmailNotifier struct {
	cfg    config.SMTPConfig
	sender Sender
	logger *slog.Logger
}

func NewEmailNotifier(cfg config.SMTPConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass),
		logger: logger,
	}
}

func (n *EmailNotifier) Channel() string { return "email" }

func (n *EmailNotifier) Notify(ctx context.Context, user *model.User, subject, htmlBody string) error {
	if !n.cfg.Enabled() {
		return fmt.Errorf("email config missing")
	}
	to := strings.TrimSpace(user.Email)
	if to == "" {
		return ErrNoAddress
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "[taskr] "+subject)
	m.SetBody("text/html", wrapHTML(htmlBody))

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	if n.logger != nil {
		n.logger.Info("email notification sent", slog.String("to", to), slog.String("subject", subject))
	}
	return nil
}

func wrapHTML(body string) string {
	return `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 560px; margin: 0 auto; padding: 16px; line-height: 1.5;">
` + strings.ReplaceAll(body, "\n", "<br>\n") + `
  </div>
</body>
</html>`
}
