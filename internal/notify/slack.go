package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/monitor"
)

// sendSlack posts the message to the globally configured Slack webhook.
func sendSlack(p *poster) SendFunc {
	return func(ctx context.Context, cfg *config.Config, n monitor.Notification) error {
		if cfg.SlackWebhookURL == "" {
			return errors.New("SLACK_WEBHOOK_URL not configured")
		}
		body, err := json.Marshal(map[string]string{"text": n.Message})
		if err != nil {
			return err
		}
		return p.postJSON(ctx, config.TagSlack, cfg.SlackWebhookURL, body)
	}
}
