package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Fleet describes everything we monitor and everyone we notify. It is loaded
// once at startup from the file named by FLEET_FILE and never mutated.
type Fleet struct {
	Servers            []ServerConfig    `json:"servers"`
	Validators         []ValidatorConfig `json:"validators"`
	AdminNotifications []AdminConfig     `json:"admin_notifications"`
	Amendments         []Amendment       `json:"amendments"`
	LogValidationsFrom []string          `json:"log_validations_from"`
}

// ServerConfig is one stock server to subscribe to. Validators typically do
// not allow inbound connections, so these should be stock servers.
type ServerConfig struct {
	URL           string               `json:"url"`
	ServerName    string               `json:"server_name"`
	SSLVerify     bool                 `json:"ssl_verify"`
	Notifications *NotificationTargets `json:"notifications"`
}

// ValidatorConfig is one validator to track. Master keys typically start
// with "nH", ephemeral validation keys with "n9"; either (or both) may be
// configured and the other is learned from the validation stream.
type ValidatorConfig struct {
	ServerName          string               `json:"server_name"`
	MasterKey           string               `json:"master_key,omitempty"`
	ValidationPublicKey string               `json:"validation_public_key,omitempty"`
	Notifications       *NotificationTargets `json:"notifications"`
}

// AdminConfig receives administrative messages such as routine heartbeats.
type AdminConfig struct {
	AdminName     string               `json:"admin_name"`
	Notifications *NotificationTargets `json:"notifications"`
}

// Amendment maps a known amendment ID to a human readable name for the
// amendment voting table.
type Amendment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NotificationTargets is a recipient's per-transport configuration. A nil
// entry means the transport is not configured for this recipient.
type NotificationTargets struct {
	Twilio     *TwilioTarget     `json:"twilio,omitempty"`
	Discord    *DiscordTarget    `json:"discord,omitempty"`
	Mattermost *MattermostTarget `json:"mattermost,omitempty"`
	Slack      *SlackTarget      `json:"slack,omitempty"`
	SMTP       *SMTPTarget       `json:"smtp,omitempty"`
}

type TwilioTarget struct {
	Notify       bool        `json:"notify_twilio"`
	PhoneNumbers []PhonePair `json:"phone_numbers,omitempty"`
}

// PhonePair holds numbers prefixed with "+" and the country code.
type PhonePair struct {
	From string `json:"phone_from"`
	To   string `json:"phone_to"`
}

type DiscordTarget struct {
	Notify  bool             `json:"notify_discord"`
	Servers []DiscordWebhook `json:"discord_servers,omitempty"`
}

type DiscordWebhook struct {
	ID    string `json:"discord_id"`
	Token string `json:"discord_token"`
}

type MattermostTarget struct {
	Notify bool `json:"notify_mattermost"`
}

type SlackTarget struct {
	Notify bool `json:"notify_slack"`
}

type SMTPTarget struct {
	Notify     bool            `json:"notify_smtp"`
	Recipients []SMTPRecipient `json:"smtp_recipients,omitempty"`
}

type SMTPRecipient struct {
	To      string `json:"smtp_to"`
	Subject string `json:"smtp_subject"`
}

// Enabled reports whether the recipient opted in to the given transport.
func (t *NotificationTargets) Enabled(tag string) bool {
	if t == nil {
		return false
	}
	switch tag {
	case TagTwilio:
		return t.Twilio != nil && t.Twilio.Notify
	case TagDiscord:
		return t.Discord != nil && t.Discord.Notify
	case TagMattermost:
		return t.Mattermost != nil && t.Mattermost.Notify
	case TagSlack:
		return t.Slack != nil && t.Slack.Notify
	case TagSMTP:
		return t.SMTP != nil && t.SMTP.Notify
	}
	return false
}

// LoadFleet reads and validates the fleet description file.
func LoadFleet(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}

	fleet := &Fleet{}
	if err := json.Unmarshal(data, fleet); err != nil {
		return nil, fmt.Errorf("failed to parse fleet file %s: %w", path, err)
	}

	if len(fleet.Servers) == 0 {
		return nil, fmt.Errorf("fleet file %s defines no servers", path)
	}
	seen := make(map[string]bool, len(fleet.Servers))
	for _, s := range fleet.Servers {
		if s.URL == "" {
			return nil, fmt.Errorf("fleet file %s: server %q has no url", path, s.ServerName)
		}
		if seen[s.URL] {
			return nil, fmt.Errorf("fleet file %s: duplicate server url %s", path, s.URL)
		}
		seen[s.URL] = true
	}
	for _, v := range fleet.Validators {
		if v.MasterKey == "" && v.ValidationPublicKey == "" {
			return nil, fmt.Errorf(
				"fleet file %s: validator %q has neither master_key nor validation_public_key",
				path, v.ServerName,
			)
		}
	}

	return fleet, nil
}
