package proxycore

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
)

// monitorTick is the transfer monitor's sampling period (spec.md §4.9).
const monitorTick = 100 * time.Millisecond

const defaultStallTimeout = 10 * time.Second

// runMonitor implements C9: every tick it samples the byte counters for
// stats reporting and stall detection (unless cfg.Keepalive suppresses the
// latter for a bench/dev setup with no real transfer traffic), and samples
// the shared-config action slot for an operator-requested reconnect,
// reboot, or stop.
func (s *Session) runMonitor(ctx context.Context) error {
	cfg := s.opts.Cfg

	var statsInterval time.Duration
	if cfg.StatsIntervalSecs > 0 {
		statsInterval = time.Duration(cfg.StatsIntervalSecs) * time.Second
	}
	stallTimeout := defaultStallTimeout
	if cfg.StallTimeoutSecs > 0 {
		stallTimeout = time.Duration(cfg.StallTimeoutSecs) * time.Second
	}

	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()

	now := time.Now()
	lastReport, lastStallCheck := now, now
	var reportedHU, reportedMD uint64
	var stallHU, stallMD uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			hu, md := s.counters.Snapshot()

			if statsInterval > 0 && time.Since(lastReport) >= statsInterval {
				s.reportStats(hu, md, reportedHU, reportedMD, time.Since(lastReport))
				reportedHU, reportedMD = hu, md
				lastReport = time.Now()
			}

			if !cfg.Keepalive && time.Since(lastStallCheck) >= stallTimeout {
				if hu == stallHU && md == stallMD {
					return fmt.Errorf("proxycore: unexpected transfer stall")
				}
				stallHU, stallMD = hu, md
				lastStallCheck = time.Now()
			}

			switch s.opts.Shared.TakeAction() {
			case config.ActionReconnect:
				return &SessionEnd{Reason: "reconnect requested"}
			case config.ActionReboot:
				return &SessionEnd{Reason: "reboot requested", Reboot: true}
			case config.ActionStop:
				return &SessionEnd{Reason: "stop requested", Stop: true}
			}
		}
	}
}

func (s *Session) reportStats(hu, md, prevHU, prevMD uint64, elapsed time.Duration) {
	huDelta := hu - prevHU
	mdDelta := md - prevMD
	huRate := uint64(float64(huDelta) / elapsed.Seconds())
	mdRate := uint64(float64(mdDelta) / elapsed.Seconds())

	s.opts.Logger.Infof(
		"proxycore: phone->car %s (%s/s), %s total | car->phone %s (%s/s), %s total",
		humanize.Bytes(huDelta), humanize.Bytes(huRate), humanize.Bytes(hu),
		humanize.Bytes(mdDelta), humanize.Bytes(mdRate), humanize.Bytes(md),
	)
}
