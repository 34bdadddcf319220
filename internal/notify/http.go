package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// poster is the shared HTTP submission path for webhook-style transports.
// It applies a global webhook rate limit plus the common retry policy:
// HTTP 429 honors Retry-After (plus jitter) and retries once; 5xx retries
// with exponential backoff; any other non-2xx is logged and dropped.
type poster struct {
	client     *http.Client
	limiter    *rate.Limiter
	retryMax   int
	retrySleep time.Duration
	logger     zerolog.Logger
}

func newPoster(webhookRate float64, retryMax int, retrySleep time.Duration, logger zerolog.Logger) *poster {
	return &poster{
		client:     &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(webhookRate), 1),
		retryMax:   retryMax,
		retrySleep: retrySleep,
		logger:     logger,
	}
}

// postJSON submits a JSON body to a webhook endpoint.
func (p *poster) postJSON(ctx context.Context, tag, endpoint string, body []byte) error {
	return p.post(ctx, tag, endpoint, "application/json", func() io.Reader {
		return bytes.NewReader(body)
	}, nil)
}

// postForm submits form-encoded fields, with optional basic auth.
func (p *poster) postForm(ctx context.Context, tag, endpoint string, form url.Values, auth *[2]string) error {
	encoded := form.Encode()
	return p.post(ctx, tag, endpoint, "application/x-www-form-urlencoded", func() io.Reader {
		return strings.NewReader(encoded)
	}, auth)
}

func (p *poster) post(ctx context.Context, tag, endpoint, contentType string, body func() io.Reader, auth *[2]string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	retriedAfter429 := false
	backoff := p.retrySleep
	attempts := 0

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body())
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)
		if auth != nil {
			req.SetBasicAuth(auth[0], auth[1])
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s POST failed: %w", tag, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil

		case resp.StatusCode == http.StatusTooManyRequests && !retriedAfter429:
			retriedAfter429 = true
			wait := retryAfter(resp) + time.Duration(rand.Intn(1000))*time.Millisecond
			p.logger.Warn().Str("transport", tag).Dur("wait", wait).
				Msg("Rate limited by endpoint, retrying once")
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}

		case resp.StatusCode >= 500 && attempts < p.retryMax:
			attempts++
			p.logger.Warn().Str("transport", tag).Int("status", resp.StatusCode).
				Int("attempt", attempts).Dur("backoff", backoff).
				Msg("Endpoint error, backing off")
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2

		default:
			return fmt.Errorf("%s POST returned status %d", tag, resp.StatusCode)
		}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
