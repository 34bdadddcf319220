package notify

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/monitor"
)

// sendTwilio sends the message as an SMS to each of the recipient's
// configured phone number pairs.
func sendTwilio(p *poster) SendFunc {
	return func(ctx context.Context, cfg *config.Config, n monitor.Notification) error {
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
			return errors.New("twilio credentials not configured")
		}
		twilio := n.Recipient.Twilio
		if twilio == nil || len(twilio.PhoneNumbers) == 0 {
			return errors.New("no phone numbers configured for recipient")
		}

		endpoint := cfg.TwilioAPIURL + "/2010-04-01/Accounts/" + cfg.TwilioAccountSID + "/Messages.json"
		auth := &[2]string{cfg.TwilioAccountSID, cfg.TwilioAuthToken}

		var firstErr error
		for _, pair := range twilio.PhoneNumbers {
			form := url.Values{}
			form.Set("From", cleanNumber(pair.From))
			form.Set("To", cleanNumber(pair.To))
			form.Set("Body", n.Message)
			if err := p.postForm(ctx, config.TagTwilio, endpoint, form, auth); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}

// cleanNumber strips everything that is not a digit or a plus sign.
func cleanNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
