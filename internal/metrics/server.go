package metrics

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// Server exposes /metrics and /healthz and periodically samples process
// resource usage. It is optional; with no listen address configured the
// monitor runs without an HTTP surface.
type Server struct {
	addr     string
	interval time.Duration
	logger   zerolog.Logger
	httpSrv  *http.Server
}

func NewServer(addr string, interval time.Duration, logger zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		interval: interval,
		logger:   logger.With().Str("component", "metrics").Logger(),
	}
}

// Run serves until ctx is cancelled. It returns the listener error, or nil
// after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.httpSrv = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go s.sampleLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Metrics server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// sampleLoop refreshes the process resource gauges at the configured
// interval. Failures are logged once at debug level and retried next tick.
func (s *Server) sampleLoop(ctx context.Context) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.logger.Warn().Err(err).Msg("Process metrics unavailable")
		proc = nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sampleRuntime()
			if proc == nil {
				continue
			}
			if mi, err := proc.MemoryInfo(); err == nil {
				memoryUsageBytes.Set(float64(mi.RSS))
			} else {
				s.logger.Debug().Err(err).Msg("Memory sample failed")
			}
			if pct, err := proc.CPUPercent(); err == nil {
				cpuUsagePercent.Set(pct)
			} else {
				s.logger.Debug().Err(err).Msg("CPU sample failed")
			}
		}
	}
}
