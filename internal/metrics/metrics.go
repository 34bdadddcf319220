package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the fleet monitor
// These metrics can be scraped by Prometheus and visualized in Grafana
var (
	// Ingest metrics
	messagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetwatch_messages_received_total",
		Help: "Total number of subscription stream messages received, by type",
	}, []string{"type"})

	messagesInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_messages_invalid_total",
		Help: "Total number of non-JSON or unclassifiable messages discarded",
	})

	validationsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_validations_duplicate_total",
		Help: "Total number of validation messages dropped as duplicates",
	})

	// Connection metrics
	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwatch_connections_active",
		Help: "Current number of live websocket subscriptions",
	})

	reconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_reconnects_total",
		Help: "Total number of subscription relaunches by the connection minder",
	})

	connectionsAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_connections_abandoned_total",
		Help: "Total number of servers abandoned after exhausting connect attempts",
	})

	// Fork metrics
	serversForked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwatch_servers_forked",
		Help: "Current number of records considered forked from consensus",
	})

	forkChecksSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_fork_checks_skipped_total",
		Help: "Total number of fork sweeps skipped due to an ambiguous consensus mode",
	})

	// Notification metrics
	notificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetwatch_notifications_sent_total",
		Help: "Total delivery attempts by transport and outcome",
	}, []string{"transport", "outcome"})

	notificationsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetwatch_notifications_dropped_total",
		Help: "Total number of notifications evicted from a full dispatch queue",
	})

	// Queue metrics
	messageQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwatch_message_queue_depth",
		Help: "Current number of stream messages waiting for the processor",
	})

	notificationQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwatch_notification_queue_depth",
		Help: "Current number of notifications waiting for the dispatcher",
	})

	// System metrics
	memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwatch_memory_bytes",
		Help: "Resident memory usage in bytes",
	})

	cpuUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwatch_cpu_usage_percent",
		Help: "Current CPU usage percentage",
	})

	goroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwatch_goroutines_active",
		Help: "Current number of active goroutines",
	})
)

func init() {
	prometheus.MustRegister(messagesReceived)
	prometheus.MustRegister(messagesInvalid)
	prometheus.MustRegister(validationsDuplicate)

	prometheus.MustRegister(connectionsActive)
	prometheus.MustRegister(reconnectsTotal)
	prometheus.MustRegister(connectionsAbandoned)

	prometheus.MustRegister(serversForked)
	prometheus.MustRegister(forkChecksSkipped)

	prometheus.MustRegister(notificationsSent)
	prometheus.MustRegister(notificationsDropped)

	prometheus.MustRegister(messageQueueDepth)
	prometheus.MustRegister(notificationQueueDepth)

	prometheus.MustRegister(memoryUsageBytes)
	prometheus.MustRegister(cpuUsagePercent)
	prometheus.MustRegister(goroutinesActive)
}

// RecordMessage counts an ingested stream message by classified type.
func RecordMessage(messageType string) {
	messagesReceived.WithLabelValues(messageType).Inc()
}

// RecordInvalidMessage counts a discarded, unparseable message.
func RecordInvalidMessage() {
	messagesInvalid.Inc()
}

// RecordDuplicateValidation counts a validation dropped by the dedupe window.
func RecordDuplicateValidation() {
	validationsDuplicate.Inc()
}

// ConnectionOpened / ConnectionClosed track the live subscription gauge.
func ConnectionOpened() { connectionsActive.Inc() }
func ConnectionClosed() { connectionsActive.Dec() }

// RecordReconnect counts a minder relaunch.
func RecordReconnect() { reconnectsTotal.Inc() }

// RecordAbandoned counts a server given up on after the retry cap.
func RecordAbandoned() { connectionsAbandoned.Inc() }

// SetForkedCount publishes the current forked-record count.
func SetForkedCount(n int) { serversForked.Set(float64(n)) }

// RecordForkCheckSkipped counts a multimodal sweep skip.
func RecordForkCheckSkipped() { forkChecksSkipped.Inc() }

// RecordNotification counts one delivery attempt.
func RecordNotification(transport, outcome string) {
	notificationsSent.WithLabelValues(transport, outcome).Inc()
}

// RecordNotificationDropped counts an overflow eviction.
func RecordNotificationDropped() { notificationsDropped.Inc() }

// SetQueueDepths publishes the depth of both pipeline queues.
func SetQueueDepths(messages, notifications int) {
	messageQueueDepth.Set(float64(messages))
	notificationQueueDepth.Set(float64(notifications))
}

func sampleRuntime() {
	goroutinesActive.Set(float64(runtime.NumGoroutine()))
}
