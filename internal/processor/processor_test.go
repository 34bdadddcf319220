package processor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/monitor"
)

func testConfig() *config.Config {
	return &config.Config{
		ProcessedValMax:     10000,
		RemoveDupValidators: true,
		ForkCheckFreq:       10 * time.Second,
		LLForkCutoff:        10,
	}
}

func newTestProcessor(t *testing.T, cfg *config.Config, fleet *config.Fleet) (*Processor, *monitor.NotificationQueue) {
	t.Helper()
	if fleet == nil {
		fleet = &config.Fleet{}
	}
	servers := monitor.NewServerTable(fleet.Servers)
	validators := monitor.NewValidatorTable(fleet.Validators)
	events := make(chan monitor.Event, 16)
	notifications := monitor.NewNotificationQueue(16)
	p := New(cfg, fleet, servers, validators, events, notifications, zerolog.Nop())
	p.bootstrapValKeys()
	return p, notifications
}

func drainNotifications(q *monitor.NotificationQueue) []monitor.Notification {
	var out []monitor.Notification
	for {
		select {
		case n := <-q.C():
			out = append(out, n)
		default:
			return out
		}
	}
}

func stockFleet() *config.Fleet {
	return &config.Fleet{
		Servers: []config.ServerConfig{
			{URL: "wss://a.example.net:51233", ServerName: "A"},
			{URL: "wss://b.example.net:51233", ServerName: "B"},
			{URL: "wss://c.example.net:51233", ServerName: "C"},
		},
	}
}

func validatorFleet() *config.Fleet {
	return &config.Fleet{
		Validators: []config.ValidatorConfig{
			{ServerName: "val1", MasterKey: "nHUkey1validator", ValidationPublicKey: "n9Akey1ephemeral"},
		},
	}
}

func TestStateChangeAlert(t *testing.T) {
	p, q := newTestProcessor(t, testConfig(), stockFleet())

	rec := p.servers.ByURL("wss://a.example.net:51233")
	require.NotNil(t, rec)
	status := "full"
	pubkey := "n9KfleetAAAA"
	rec.ServerStatus = &status
	rec.PubkeyNode = &pubkey

	p.handle(monitor.Event{
		SourceURL: "wss://a.example.net:51233",
		Payload:   []byte(`{"type":"serverStatus","server_status":"connected","load_factor":256}`),
	})

	notifications := drainNotifications(q)
	require.Len(t, notifications, 1)
	assert.Regexp(t,
		`^State changed for server: 'A' with key 'n9Kfl'\. From: 'full'\. To: 'connected'\. Time UTC: \d{2}-\d{2} \d{2}:\d{2}:\d{2}\.$`,
		notifications[0].Message)
	assert.Equal(t, "connected", *rec.ServerStatus)
	assert.Equal(t, int64(256), *rec.LoadFactor)
}

func TestNoAlertOnFirstObservedStatus(t *testing.T) {
	p, q := newTestProcessor(t, testConfig(), stockFleet())

	p.handle(monitor.Event{
		SourceURL: "wss://a.example.net:51233",
		Payload:   []byte(`{"result":{"server_status":"full","pubkey_node":"n9Kfleet"}}`),
	})

	assert.Empty(t, drainNotifications(q))
	rec := p.servers.ByURL("wss://a.example.net:51233")
	assert.Equal(t, "full", *rec.ServerStatus)
	assert.Equal(t, "n9Kfleet", *rec.PubkeyNode)
}

func TestAbsentFieldsDoNotClobber(t *testing.T) {
	p, _ := newTestProcessor(t, testConfig(), stockFleet())
	rec := p.servers.ByURL("wss://b.example.net:51233")

	p.handle(monitor.Event{
		SourceURL: "wss://b.example.net:51233",
		Payload:   []byte(`{"result":{"server_status":"full","load_base":256}}`),
	})
	p.handle(monitor.Event{
		SourceURL: "wss://b.example.net:51233",
		Payload:   []byte(`{"type":"serverStatus","server_status":"full"}`),
	})

	require.NotNil(t, rec.LoadBase)
	assert.Equal(t, int64(256), *rec.LoadBase)
}

func TestLedgerClose(t *testing.T) {
	p, _ := newTestProcessor(t, testConfig(), stockFleet())
	rec := p.servers.ByURL("wss://c.example.net:51233")

	p.handle(monitor.Event{
		SourceURL: "wss://c.example.net:51233",
		Payload: []byte(`{"type":"ledgerClosed","ledger_index":75443707,` +
			`"ledger_hash":"ABCDEF0123456789","txn_count":41,"validated_ledgers":"32570-75443707"}`),
	})

	require.NotNil(t, rec.LedgerIndex)
	assert.Equal(t, int64(75443707), *rec.LedgerIndex)
	assert.Equal(t, int64(41), *rec.TxnCount)
	assert.Equal(t, "32570-75443707", *rec.ValidatedLedgers)
}

func TestUnknownMessageDropped(t *testing.T) {
	p, q := newTestProcessor(t, testConfig(), stockFleet())

	p.handle(monitor.Event{
		SourceURL: "wss://a.example.net:51233",
		Payload:   []byte(`{"type":"transaction","hash":"feed"}`),
	})

	assert.Empty(t, drainNotifications(q))
	rec := p.servers.ByURL("wss://a.example.net:51233")
	assert.Nil(t, rec.LedgerIndex)
}

func validationPayload(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	base := map[string]any{
		"type":                  "validationReceived",
		"master_key":            "nHUkey1validator",
		"validation_public_key": "n9Akey1ephemeral",
		"signature":             "sig-default",
		"ledger_index":          "75443707",
		"full":                  true,
	}
	for k, v := range fields {
		base[k] = v
	}
	payload, err := json.Marshal(base)
	require.NoError(t, err)
	return payload
}

func TestDuplicateValidationUpdatesOnce(t *testing.T) {
	p, _ := newTestProcessor(t, testConfig(), validatorFleet())
	rec := p.validators.All()[0]

	// Same validation relayed by three different upstreams.
	first := validationPayload(t, map[string]any{"signature": "sig-1", "ledger_index": "100"})
	p.processValidation(first, time.Now().UTC())
	later := validationPayload(t, map[string]any{"signature": "sig-1", "ledger_index": "999"})
	p.processValidation(later, time.Now().UTC())
	p.processValidation(later, time.Now().UTC())

	require.NotNil(t, rec.LedgerIndex)
	assert.Equal(t, int64(100), *rec.LedgerIndex)
	assert.Equal(t, []string{"sig-1"}, p.processed)
}

func TestUntrackedValidatorIgnored(t *testing.T) {
	p, _ := newTestProcessor(t, testConfig(), validatorFleet())

	payload := validationPayload(t, map[string]any{
		"master_key":            "nHUotherValidator",
		"validation_public_key": "n9AotherEphemeral",
		"signature":             "sig-other",
	})
	p.processValidation(payload, time.Now().UTC())

	assert.Empty(t, p.processed)
	assert.Nil(t, p.validators.All()[0].LedgerIndex)
}

func TestKeyLearnedFromMasterMatch(t *testing.T) {
	fleet := &config.Fleet{
		Validators: []config.ValidatorConfig{
			{ServerName: "val1", MasterKey: "nHUkey1validator"},
		},
	}
	p, _ := newTestProcessor(t, testConfig(), fleet)
	rec := p.validators.All()[0]
	require.Nil(t, rec.ValidationPublicKey)

	p.processValidation(validationPayload(t, nil), time.Now().UTC())

	require.NotNil(t, rec.ValidationPublicKey)
	assert.Equal(t, "n9Akey1ephemeral", *rec.ValidationPublicKey)
}

func TestFlagLedgerResetsOmittedFields(t *testing.T) {
	p, _ := newTestProcessor(t, testConfig(), validatorFleet())
	rec := p.validators.All()[0]

	withAmendments := validationPayload(t, map[string]any{
		"signature":    "sig-a",
		"ledger_index": "100",
		"amendments":   []string{"AMD1"},
		"base_fee":     10,
	})
	p.processValidation(withAmendments, time.Now().UTC())
	require.Equal(t, []string{"AMD1"}, rec.Amendments)
	require.NotNil(t, rec.BaseFee)

	// (255 + 1) % 256 == 0: flag ledger omitting amendments and base_fee.
	flagLedger := validationPayload(t, map[string]any{
		"signature":    "sig-b",
		"ledger_index": "255",
	})
	p.processValidation(flagLedger, time.Now().UTC())

	assert.Nil(t, rec.Amendments)
	assert.Nil(t, rec.BaseFee)
	require.NotNil(t, rec.LedgerIndex)
	assert.Equal(t, int64(255), *rec.LedgerIndex)
}

func TestProcessedValidationsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.ProcessedValMax = 4
	cfg.RemoveDupValidators = false
	p, _ := newTestProcessor(t, cfg, validatorFleet())

	for _, sig := range []string{"s1", "s2", "s3", "s4", "s5", "s6"} {
		p.processValidation(validationPayload(t, map[string]any{"signature": sig}), time.Now().UTC())
		assert.LessOrEqual(t, len(p.processed), cfg.ProcessedValMax)
	}

	// s1 and s2 were pruned; their signatures are processable again.
	assert.NotContains(t, p.processed, "s1")
	assert.Contains(t, p.processed, "s6")
	for _, sig := range p.processed {
		assert.True(t, p.processedSet[sig])
	}
	assert.Len(t, p.processedSet, len(p.processed))
}

func TestDuplicateValidatorsCulledOnPrune(t *testing.T) {
	cfg := testConfig()
	cfg.ProcessedValMax = 2
	fleet := &config.Fleet{
		Validators: []config.ValidatorConfig{
			{ServerName: "val1", MasterKey: "nHUkey1validator", ValidationPublicKey: "n9Akey1ephemeral"},
			{ServerName: "val1-dup", MasterKey: "nHUkey1validator", ValidationPublicKey: "n9Akey1duplicate"},
		},
	}
	p, _ := newTestProcessor(t, cfg, fleet)
	require.Equal(t, 2, p.validators.Len())

	p.processValidation(validationPayload(t, map[string]any{"signature": "s1"}), time.Now().UTC())
	p.processValidation(validationPayload(t, map[string]any{"signature": "s2"}), time.Now().UTC())

	assert.Equal(t, 1, p.validators.Len())
	assert.Equal(t, "val1", p.validators.All()[0].ServerName)
	// ValKeys rebuilt: the culled record's ephemeral key is gone.
	assert.False(t, p.valKeys["n9Akey1duplicate"])
	assert.True(t, p.valKeys["nHUkey1validator"])
}

func TestValKeyBootstrap(t *testing.T) {
	p, _ := newTestProcessor(t, testConfig(), validatorFleet())
	assert.True(t, p.valKeys["nHUkey1validator"])
	assert.True(t, p.valKeys["n9Akey1ephemeral"])
	assert.False(t, p.valKeys[""])
}

func TestHeartbeat(t *testing.T) {
	fleet := &config.Fleet{
		AdminNotifications: []config.AdminConfig{
			{AdminName: "ops", Notifications: &config.NotificationTargets{}},
		},
	}
	p, q := newTestProcessor(t, testConfig(), fleet)

	p.heartbeat(time.Now().UTC())
	notifications := drainNotifications(q)
	require.Len(t, notifications, 1)
	assert.Contains(t, notifications[0].Message, "Consensus mode: 'ambiguous'")
	assert.Equal(t, "ops", notifications[0].RecipientName)

	p.llMode = 75443707
	p.llModeKnown = true
	p.heartbeat(time.Now().UTC())
	notifications = drainNotifications(q)
	require.Len(t, notifications, 1)
	assert.Contains(t, notifications[0].Message, "Consensus mode: '75443707'")
}

func TestStringLedgerIndexAccepted(t *testing.T) {
	p, _ := newTestProcessor(t, testConfig(), validatorFleet())
	rec := p.validators.All()[0]

	quoted := validationPayload(t, map[string]any{"signature": "sq", "ledger_index": "42"})
	p.processValidation(quoted, time.Now().UTC())
	require.NotNil(t, rec.LedgerIndex)
	assert.Equal(t, int64(42), *rec.LedgerIndex)

	numeric := validationPayload(t, map[string]any{"signature": "sn", "ledger_index": 43})
	p.processValidation(numeric, time.Now().UTC())
	assert.Equal(t, int64(43), *rec.LedgerIndex)
}

func TestRunReturnsOnCancel(t *testing.T) {
	p, _ := newTestProcessor(t, testConfig(), stockFleet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
