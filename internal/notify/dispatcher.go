package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/metrics"
	"github.com/adred-codev/fleetwatch/internal/monitor"
)

// SendFunc delivers one notification through one transport. Implementations
// handle their own retriable errors and return only terminal failures.
type SendFunc func(ctx context.Context, cfg *config.Config, n monitor.Notification) error

// Dispatcher is the single consumer of the notification queue. For each
// notification it schedules every transport that is enabled both globally
// and by the recipient, runs them concurrently, and waits for all of them
// before taking the next notification.
type Dispatcher struct {
	cfg      *config.Config
	queue    *monitor.NotificationQueue
	pool     *Pool
	registry map[string]SendFunc
	logger   zerolog.Logger
}

func NewDispatcher(cfg *config.Config, queue *monitor.NotificationQueue, logger zerolog.Logger) *Dispatcher {
	logger = logger.With().Str("component", "dispatcher").Logger()
	p := newPoster(cfg.NotifyWebhookRate, cfg.NotifyRetryMax, cfg.NotifyRetrySleepTime, logger)

	// Explicit transport registry, keyed by the tags used in
	// KNOWN_NOTIFICATIONS and the recipients' notifications blocks.
	registry := map[string]SendFunc{
		config.TagTwilio:     sendTwilio(p),
		config.TagDiscord:    sendDiscord(p),
		config.TagMattermost: sendMattermost(p),
		config.TagSlack:      sendSlack(p),
		config.TagSMTP:       sendSMTP,
	}

	return &Dispatcher{
		cfg:      cfg,
		queue:    queue,
		pool:     NewPool(cfg.NotifyWorkers, cfg.NotifyWorkers*4, logger),
		registry: registry,
		logger:   logger,
	}
}

// Register replaces the transport bound to a tag. Used by tests.
func (d *Dispatcher) Register(tag string, send SendFunc) {
	d.registry[tag] = send
}

// Run consumes notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.pool.Start(ctx)
	defer d.pool.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("Notification dispatcher stopped")
			return
		case n := <-d.queue.C():
			d.Dispatch(ctx, n)
		}
	}
}

// Dispatch fans one notification out to every permitted transport and waits
// for all of them. A transport is permitted only when the global SEND_<TAG>
// switch and the recipient's own notify_<tag> flag are both set.
func (d *Dispatcher) Dispatch(ctx context.Context, n monitor.Notification) {
	var wg sync.WaitGroup
	for _, tag := range d.cfg.KnownNotifications {
		if !d.cfg.GlobalEnabled(tag) || !n.Recipient.Enabled(tag) {
			continue
		}
		send, ok := d.registry[tag]
		if !ok {
			d.logger.Error().Str("transport", tag).Msg("No transport registered for tag")
			continue
		}

		tag := tag
		wg.Add(1)
		d.pool.Submit(func() {
			defer wg.Done()
			if err := send(ctx, d.cfg, n); err != nil {
				metrics.RecordNotification(tag, "error")
				d.logger.Error().Str("transport", tag).
					Str("recipient", n.RecipientName).Err(err).
					Msg("Notification delivery failed")
				return
			}
			metrics.RecordNotification(tag, "ok")
			d.logger.Info().Str("transport", tag).
				Str("recipient", n.RecipientName).
				Msg("Notification delivered")
		})
	}
	wg.Wait()
}
