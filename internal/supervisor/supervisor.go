package supervisor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adred-codev/fleetwatch/internal/config"
	"github.com/adred-codev/fleetwatch/internal/logging"
	"github.com/adred-codev/fleetwatch/internal/metrics"
	"github.com/adred-codev/fleetwatch/internal/monitor"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	pingInterval     = 15 * time.Second
	writeTimeout     = 10 * time.Second
)

// Supervisor owns one websocket subscription per configured server and a
// minder loop that relaunches dropped subscriptions. It is the only producer
// on the message queue; the records themselves are never touched here.
type Supervisor struct {
	cfg    *config.Config
	events chan<- monitor.Event
	logger zerolog.Logger

	workers []*worker
}

// worker is the supervision state for one server. The subscribe command is
// fixed at construction; retryCount only ever grows.
type worker struct {
	url        string
	name       string
	sslVerify  bool
	command    []byte
	retryCount int
	abandoned  bool
	invalid    bool
	done       atomic.Bool
}

// New builds a supervisor for every server in the table. Validation-stream
// slots are assigned here, in table order, and keep their assignment for the
// process lifetime.
func New(cfg *config.Config, table *monitor.ServerTable, hasValidators bool, events chan<- monitor.Event, logger zerolog.Logger) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		events: events,
		logger: logger.With().Str("component", "supervisor").Logger(),
	}

	valStreams := 0
	for _, rec := range table.All() {
		w := &worker{
			url:       rec.URL,
			name:      rec.ServerName,
			sslVerify: rec.SSLVerify,
			command:   buildCommand(hasValidators, &valStreams, cfg.MaxValStreams),
		}
		if err := validateURL(rec.URL); err != nil {
			// A malformed URL is fatal to this server only; the rest of the
			// fleet is still monitored.
			s.logger.Error().Str("url", rec.URL).Str("server", rec.ServerName).
				Err(err).Msg("Invalid subscription URL, server will not be monitored")
			w.invalid = true
			w.abandoned = true
			w.done.Store(true)
		}
		s.workers = append(s.workers, w)
	}
	return s
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

// Run launches every subscription, then minds them until ctx is cancelled.
// Each sweep relaunches workers whose connection ended, after feeding a
// synthetic disconnect event through the normal message path so the record's
// status reflects the outage.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range s.workers {
		if w.invalid {
			continue
		}
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			s.listen(ctx, w)
		}(w)
	}

	ticker := time.NewTicker(s.cfg.WSRetry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			for _, w := range s.workers {
				if !w.done.Load() || w.abandoned {
					continue
				}
				if w.retryCount > s.cfg.MaxConnectAttempts {
					s.logger.Warn().Str("url", w.url).Str("server", w.name).
						Int("attempts", w.retryCount).
						Msg("Connect attempts exhausted, abandoning server")
					w.abandoned = true
					metrics.RecordAbandoned()
					continue
				}
				s.enqueueDisconnect(ctx, w)
				w.retryCount++
				w.done.Store(false)
				metrics.RecordReconnect()
				s.logger.Info().Str("url", w.url).Str("server", w.name).
					Int("retry", w.retryCount).Msg("Relaunching subscription")
				wg.Add(1)
				go func(w *worker) {
					defer wg.Done()
					s.listen(ctx, w)
				}(w)
			}
		}
	}
}

// enqueueDisconnect synthesizes a server-status message marking the server
// disconnected. It takes the same path as real messages so the processor
// applies it with normal state-change semantics.
func (s *Supervisor) enqueueDisconnect(ctx context.Context, w *worker) {
	payload, _ := json.Marshal(map[string]any{
		"result": map[string]any{
			"server_status": monitor.ServerStatusDisconnected,
		},
	})
	select {
	case s.events <- monitor.Event{SourceURL: w.url, Payload: payload}:
	case <-ctx.Done():
	}
}

// listen runs one subscription to completion: dial, subscribe, read until
// the connection fails or ctx ends. On any exit the worker is flagged done
// for the minder to pick up.
func (s *Supervisor) listen(ctx context.Context, w *worker) {
	defer logging.RecoverPanic(s.logger, "supervisor", map[string]any{"url": w.url})
	defer w.done.Store(true)

	logger := s.logger.With().Str("url", w.url).Str("server", w.name).Logger()

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		NetDialContext: (&net.Dialer{
			Timeout:   handshakeTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if strings.HasPrefix(w.url, "wss:") && !w.sslVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Dial failed")
		return
	}
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()
	defer conn.Close()

	// Unblock the read loop when the process is shutting down.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, w.command); err != nil {
		logger.Warn().Err(err).Msg("Subscribe write failed")
		return
	}
	logger.Info().RawJSON("command", w.command).Msg("Subscribed")

	// The subscribe command is the only read-loop write; after this only the
	// ping goroutine writes, so no write mutex is needed.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("Connection lost")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if !json.Valid(payload) {
			logger.Warn().Int("bytes", len(payload)).Msg("Discarding non-JSON message")
			metrics.RecordInvalidMessage()
			continue
		}

		// Backpressure on purpose: a full queue slows ingest rather than
		// dropping observations.
		select {
		case s.events <- monitor.Event{SourceURL: w.url, Payload: payload}:
		case <-ctx.Done():
			return
		}
	}
}
