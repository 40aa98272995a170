package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// TypeHTTPCheck probes a URL and fails on unexpected status or timeout.
const TypeHTTPCheck = "http_check"

type httpCheckConfig struct {
	URL            string `json:"url"`
	ExpectStatus   int    `json:"expect_status"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// HTTPCheck is a liveness probe for homelab services (router, NAS, inference
// server). The zero value is usable.
type HTTPCheck struct {
	// Client overrides the default HTTP client, used by tests.
	Client *http.Client
}

func (j *HTTPCheck) Run(ctx context.Context, cfg json.RawMessage, logger zerolog.Logger) (Result, error) {
	var c httpCheckConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return Result{ExitCode: 1}, err
	}
	if c.URL == "" {
		return Result{ExitCode: 1}, fmt.Errorf("http_check: url is required")
	}
	if c.ExpectStatus == 0 {
		c.ExpectStatus = http.StatusOK
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}

	client := j.Client
	if client == nil {
		client = &http.Client{}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.TimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("http_check: build request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("http_check: %s unreachable: %w", c.URL, err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	logger.Debug().Str("url", c.URL).Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("http check response")

	if resp.StatusCode != c.ExpectStatus {
		return Result{
			ExitCode: 1,
			Output:   fmt.Sprintf("%s responded %d in %s", c.URL, resp.StatusCode, elapsed.Round(time.Millisecond)),
		}, fmt.Errorf("http_check: %s returned status %d, expected %d", c.URL, resp.StatusCode, c.ExpectStatus)
	}

	return Result{
		Output: fmt.Sprintf("%s responded %d in %s", c.URL, resp.StatusCode, elapsed.Round(time.Millisecond)),
	}, nil
}
