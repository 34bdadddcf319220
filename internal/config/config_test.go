package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "fleet.json", cfg.FleetFile)
	assert.Equal(t, 20*time.Second, cfg.WSRetry)
	assert.Equal(t, 999999, cfg.MaxConnectAttempts)
	assert.Equal(t, 5, cfg.MaxValStreams)
	assert.Equal(t, 10000, cfg.ProcessedValMax)
	assert.True(t, cfg.RemoveDupValidators)
	assert.Equal(t, 10*time.Second, cfg.ForkCheckFreq)
	assert.Equal(t, int64(25), cfg.LLForkCutoff)
	assert.Equal(t, []string{"twilio", "discord", "mattermost", "slack", "smtp"}, cfg.KnownNotifications)
	assert.False(t, cfg.SendTwilio)
	assert.Equal(t, "https://discord.com/api/webhooks/", cfg.DiscordWebhookURL)
	assert.Equal(t, 10000, cfg.MessageQueueSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WS_RETRY", "5s")
	t.Setenv("LL_FORK_CUTOFF", "50")
	t.Setenv("SEND_DISCORD", "true")
	t.Setenv("KNOWN_NOTIFICATIONS", "discord,slack")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.WSRetry)
	assert.Equal(t, int64(50), cfg.LLForkCutoff)
	assert.True(t, cfg.SendDiscord)
	assert.Equal(t, []string{"discord", "slack"}, cfg.KnownNotifications)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero ws retry", map[string]string{"WS_RETRY": "0s"}},
		{"tiny dedupe window", map[string]string{"PROCESSED_VAL_MAX": "1"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
		{"unknown transport tag", map[string]string{"KNOWN_NOTIFICATIONS": "discord,pager"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(nil)
			assert.Error(t, err)
		})
	}
}

func TestGlobalEnabled(t *testing.T) {
	cfg := &Config{SendDiscord: true, SendSMTP: true}
	assert.True(t, cfg.GlobalEnabled(TagDiscord))
	assert.True(t, cfg.GlobalEnabled(TagSMTP))
	assert.False(t, cfg.GlobalEnabled(TagTwilio))
	assert.False(t, cfg.GlobalEnabled("pager"))
}

func TestRecipientEnabled(t *testing.T) {
	targets := &NotificationTargets{
		Discord: &DiscordTarget{Notify: true},
		Slack:   &SlackTarget{Notify: false},
	}
	assert.True(t, targets.Enabled(TagDiscord))
	assert.False(t, targets.Enabled(TagSlack))
	assert.False(t, targets.Enabled(TagSMTP))

	var nilTargets *NotificationTargets
	assert.False(t, nilTargets.Enabled(TagDiscord))
}

func writeFleetFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFleet(t *testing.T) {
	path := writeFleetFile(t, `{
		"servers": [
			{
				"url": "wss://s1.example.net:51233",
				"server_name": "s1",
				"ssl_verify": true,
				"notifications": {
					"discord": {
						"notify_discord": true,
						"discord_servers": [{"discord_id": "123", "discord_token": "abc"}]
					},
					"smtp": {
						"notify_smtp": true,
						"smtp_recipients": [{"smtp_to": "ops@example.net", "smtp_subject": "s1 alert"}]
					}
				}
			}
		],
		"validators": [
			{"server_name": "val1", "master_key": "nHUkey1validator"}
		],
		"admin_notifications": [
			{"admin_name": "ops", "notifications": {"slack": {"notify_slack": true}}}
		],
		"amendments": [
			{"id": "AMD1", "name": "ExampleAmendment"}
		],
		"log_validations_from": ["nHUkey1validator"]
	}`)

	fleet, err := LoadFleet(path)
	require.NoError(t, err)

	require.Len(t, fleet.Servers, 1)
	s := fleet.Servers[0]
	assert.Equal(t, "wss://s1.example.net:51233", s.URL)
	assert.True(t, s.SSLVerify)
	require.NotNil(t, s.Notifications)
	assert.True(t, s.Notifications.Enabled(TagDiscord))
	assert.False(t, s.Notifications.Enabled(TagSlack))
	assert.Equal(t, "123", s.Notifications.Discord.Servers[0].ID)
	assert.Equal(t, "s1 alert", s.Notifications.SMTP.Recipients[0].Subject)

	require.Len(t, fleet.Validators, 1)
	assert.Equal(t, "nHUkey1validator", fleet.Validators[0].MasterKey)
	require.Len(t, fleet.AdminNotifications, 1)
	assert.True(t, fleet.AdminNotifications[0].Notifications.Enabled(TagSlack))
	assert.Equal(t, []string{"nHUkey1validator"}, fleet.LogValidationsFrom)
	require.Len(t, fleet.Amendments, 1)
}

func TestLoadFleetRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no servers", `{"servers": []}`},
		{"missing url", `{"servers": [{"server_name": "s1"}]}`},
		{"duplicate url", `{"servers": [
			{"url": "ws://a.example.net", "server_name": "a"},
			{"url": "ws://a.example.net", "server_name": "b"}
		]}`},
		{"validator without keys", `{
			"servers": [{"url": "ws://a.example.net", "server_name": "a"}],
			"validators": [{"server_name": "keyless"}]
		}`},
		{"not json", `servers:`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFleet(writeFleetFile(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadFleet(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
