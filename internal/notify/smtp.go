package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/monitor"
)

// smtpSendMail is swapped out by tests.
var smtpSendMail = smtp.SendMail

// sendSMTP emails the message to each of the recipient's configured
// addresses, with the per-address subject line. smtp.SendMail negotiates
// STARTTLS when the server offers it.
func sendSMTP(ctx context.Context, cfg *config.Config, n monitor.Notification) error {
	if cfg.SMTPServer == "" {
		return errors.New("SMTP_SERVER not configured")
	}
	target := n.Recipient.SMTP
	if target == nil || len(target.Recipients) == 0 {
		return errors.New("no email recipients configured")
	}

	addr := fmt.Sprintf("%s:%d", cfg.SMTPServer, cfg.SMTPSubmissionPort)
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPServer)
	}

	var firstErr error
	for _, rcpt := range target.Recipients {
		if err := ctx.Err(); err != nil {
			return err
		}
		body := fmt.Sprintf(
			"From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
			cfg.SMTPUsername, rcpt.To, rcpt.Subject, n.Message,
		)
		err := smtpSendMail(addr, auth, cfg.SMTPUsername, []string{rcpt.To}, []byte(body))
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
