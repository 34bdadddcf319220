package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/monitor"
)

// sendMattermost posts the message to the globally configured Mattermost
// incoming webhook.
func sendMattermost(p *poster) SendFunc {
	return func(ctx context.Context, cfg *config.Config, n monitor.Notification) error {
		if cfg.MattermostWebhookURL == "" {
			return errors.New("MATTERMOST_WEBHOOK_URL not configured")
		}
		body, err := json.Marshal(map[string]string{"text": n.Message})
		if err != nil {
			return err
		}
		return p.postJSON(ctx, config.TagMattermost, cfg.MattermostWebhookURL, body)
	}
}
