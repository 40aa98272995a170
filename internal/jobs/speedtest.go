package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/showwin/speedtest-go/speedtest"
)

// TypeSpeedtest measures internet bandwidth against the nearest speedtest.net
// server and fails when throughput drops below configured thresholds.
const TypeSpeedtest = "speedtest"

type speedtestConfig struct {
	MinDownloadMbps float64 `json:"min_download_mbps"`
	MinUploadMbps   float64 `json:"min_upload_mbps"`
	TimeoutSeconds  int     `json:"timeout_seconds"`
}

type Speedtest struct{}

func (j *Speedtest) Run(ctx context.Context, cfg json.RawMessage, logger zerolog.Logger) (Result, error) {
	var c speedtestConfig
	if err := decodeConfig(cfg, &c); err != nil {
		return Result{ExitCode: 1}, err
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 120
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.TimeoutSeconds)*time.Second)
	defer cancel()

	serverList, err := speedtest.FetchServers()
	if err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("speedtest: fetch servers: %w", err)
	}
	targets, err := serverList.FindServer(nil)
	if err != nil || len(targets) == 0 {
		return Result{ExitCode: 1}, fmt.Errorf("speedtest: no servers found")
	}
	server := targets[0]

	if err := server.PingTestContext(ctx, nil); err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("speedtest: ping test: %w", err)
	}
	if err := server.DownloadTestContext(ctx); err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("speedtest: download test: %w", err)
	}
	if err := server.UploadTestContext(ctx); err != nil {
		return Result{ExitCode: 1}, fmt.Errorf("speedtest: upload test: %w", err)
	}

	download := server.DLSpeed.Mbps()
	upload := server.ULSpeed.Mbps()

	logger.Info().
		Str("server", server.Sponsor).
		Float64("download_mbps", download).
		Float64("upload_mbps", upload).
		Int64("ping_ms", server.Latency.Milliseconds()).
		Msg("speedtest completed")

	summary := fmt.Sprintf("server=%s ping=%dms download=%.1f Mbps upload=%.1f Mbps",
		server.Sponsor, server.Latency.Milliseconds(), download, upload)

	var under []string
	if c.MinDownloadMbps > 0 && download < c.MinDownloadMbps {
		under = append(under, fmt.Sprintf("download %.1f < %.1f Mbps", download, c.MinDownloadMbps))
	}
	if c.MinUploadMbps > 0 && upload < c.MinUploadMbps {
		under = append(under, fmt.Sprintf("upload %.1f < %.1f Mbps", upload, c.MinUploadMbps))
	}
	if len(under) > 0 {
		return Result{ExitCode: 1, Output: summary},
			fmt.Errorf("speedtest: below threshold: %s", strings.Join(under, ", "))
	}

	return Result{Output: summary}, nil
}
