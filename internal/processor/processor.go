package processor

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/logging"
	"github.com/adred-codev/fleetwatch/internal/metrics"
	"github.com/adred-codev/fleetwatch/internal/monitor"
)

// RenderFunc draws a console snapshot. The processor owns only the cadence;
// rendering itself is wired in by the caller.
type RenderFunc func(servers []*monitor.ServerRecord, validators []*monitor.ValidatorRecord)

// Processor is the single consumer of the message queue and the only writer
// to the server and validator tables. All derived state (fork flags, the
// consensus mode, the validation dedupe window) lives here.
type Processor struct {
	cfg           *config.Config
	fleet         *config.Fleet
	servers       *monitor.ServerTable
	validators    *monitor.ValidatorTable
	events        <-chan monitor.Event
	notifications *monitor.NotificationQueue
	logger        zerolog.Logger

	valKeys        map[string]bool
	processed      []string
	processedSet   map[string]bool
	logValidations map[string]bool
	llMode         int64
	llModeKnown    bool
	modesAmbiguous bool

	// Render is called on the console cadence when set.
	Render RenderFunc
}

func New(
	cfg *config.Config,
	fleet *config.Fleet,
	servers *monitor.ServerTable,
	validators *monitor.ValidatorTable,
	events <-chan monitor.Event,
	notifications *monitor.NotificationQueue,
	logger zerolog.Logger,
) *Processor {
	logValidations := make(map[string]bool, len(fleet.LogValidationsFrom))
	for _, key := range fleet.LogValidationsFrom {
		logValidations[key] = true
	}
	return &Processor{
		cfg:            cfg,
		fleet:          fleet,
		servers:        servers,
		validators:     validators,
		events:         events,
		notifications:  notifications,
		logger:         logger.With().Str("component", "processor").Logger(),
		processedSet:   make(map[string]bool),
		logValidations: logValidations,
	}
}

// Run consumes the message queue until ctx is cancelled. Fork evaluation,
// console refresh and the admin heartbeat run on their own tickers inside
// the same goroutine, so table ownership stays with this loop.
func (p *Processor) Run(ctx context.Context) {
	p.bootstrapValKeys()

	forkTicker := time.NewTicker(p.cfg.ForkCheckFreq)
	defer forkTicker.Stop()

	var consoleC, heartbeatC <-chan time.Time
	if p.cfg.ConsoleOut && p.Render != nil {
		consoleTicker := time.NewTicker(p.cfg.ConsoleRefreshTime)
		defer consoleTicker.Stop()
		consoleC = consoleTicker.C
	}
	if p.cfg.AdminHeartbeat {
		heartbeatTicker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer heartbeatTicker.Stop()
		heartbeatC = heartbeatTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Response processor stopped")
			return
		case ev := <-p.events:
			p.handle(ev)
		case <-forkTicker.C:
			p.checkForks(time.Now().UTC())
		case <-consoleC:
			p.Render(p.servers.Snapshot(), p.validators.Snapshot())
		case <-heartbeatC:
			p.heartbeat(time.Now().UTC())
		}
	}
}

// handle classifies one event by payload shape and applies it. A malformed
// message is logged and dropped; it never stops the loop.
func (p *Processor) handle(ev monitor.Event) {
	defer logging.RecoverPanic(p.logger, "processor", map[string]any{"url": ev.SourceURL})

	var env struct {
		Type   string          `json:"type"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		p.logger.Warn().Str("url", ev.SourceURL).Err(err).Msg("Undecodable message")
		metrics.RecordInvalidMessage()
		return
	}

	now := time.Now().UTC()
	switch {
	case env.Type == "serverStatus" || resultPresent(env.Result):
		metrics.RecordMessage("server_status")
		source := ev.Payload
		if resultPresent(env.Result) {
			source = env.Result
		}
		p.updateServerStatus(ev.SourceURL, source, now)
	case env.Type == "ledgerClosed":
		metrics.RecordMessage("ledger_closed")
		p.updateLedger(ev.SourceURL, ev.Payload, now)
	case env.Type == "validationReceived":
		metrics.RecordMessage("validation")
		p.processValidation(ev.Payload, now)
	default:
		metrics.RecordMessage("unknown")
		p.logger.Warn().Str("url", ev.SourceURL).
			RawJSON("payload", ev.Payload).Msg("Message received that couldn't be sorted")
	}
}

func resultPresent(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// bootstrapValKeys seeds the monitored-key set from the configured validator
// table. It is rebuilt only when duplicate validators are culled.
func (p *Processor) bootstrapValKeys() {
	p.valKeys = p.validators.Keys()
	p.logger.Info().Int("keys", len(p.valKeys)).
		Msg("Created initial validation key tracking list")
}

// heartbeat enqueues one liveness notification per admin recipient. The
// consensus mode falls back to "ambiguous" when the last sweep was
// multimodal or no sweep has completed yet.
func (p *Processor) heartbeat(now time.Time) {
	mode := "ambiguous"
	if p.llModeKnown && !p.modesAmbiguous {
		mode = strconv.FormatInt(p.llMode, 10)
	}
	message := "Monitoring heartbeat. Consensus mode: '" + mode + "'. " +
		"Server time (UTC): '" + now.Format(monitor.AlertTimeLayout) + "'."
	p.logger.Info().Msg(message)

	for _, admin := range p.fleet.AdminNotifications {
		p.alert(message, admin.AdminName, admin.Notifications)
	}
}

// alert publishes a rendered notification, evicting the oldest pending one
// when the dispatcher is behind.
func (p *Processor) alert(message, recipientName string, recipient *config.NotificationTargets) {
	dropped := p.notifications.Push(monitor.Notification{
		Message:       message,
		RecipientName: recipientName,
		Recipient:     recipient,
	})
	if dropped {
		metrics.RecordNotificationDropped()
		p.logger.Warn().Msg("Notification queue full, dropped oldest pending alert")
	}
}
