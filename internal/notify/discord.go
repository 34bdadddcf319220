package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/monitor"
)

// sendDiscord posts the message to each of the recipient's configured
// Discord webhooks. The webhook URL is the configured base plus the
// per-recipient id/token pair.
func sendDiscord(p *poster) SendFunc {
	return func(ctx context.Context, cfg *config.Config, n monitor.Notification) error {
		discord := n.Recipient.Discord
		if discord == nil || len(discord.Servers) == 0 {
			return errors.New("no discord webhooks configured for recipient")
		}

		body, err := json.Marshal(map[string]string{"content": n.Message})
		if err != nil {
			return err
		}

		var firstErr error
		for _, hook := range discord.Servers {
			endpoint := cfg.DiscordWebhookURL + hook.ID + "/" + hook.Token
			if err := p.postJSON(ctx, config.TagDiscord, endpoint, body); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}
