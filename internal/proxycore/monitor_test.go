package proxycore

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/rewriter"
)

func newTestSession(cfg config.AppConfig) *Session {
	logger, _ := test.NewNullLogger()
	return &Session{
		opts: Options{
			Logger: logger,
			Cfg:    cfg,
			Shared: config.NewSharedConfig(cfg),
		},
	}
}

func TestMonitorDetectsStall(t *testing.T) {
	cfg := config.AppConfig{StallTimeoutSecs: 1}
	s := newTestSession(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := s.runMonitor(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stall")
}

func TestMonitorNoStallWhenCountersAdvance(t *testing.T) {
	cfg := config.AppConfig{StallTimeoutSecs: 1}
	s := newTestSession(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.counters.Add(rewriter.SideHU, 1)
			case <-stop:
				return
			}
		}
	}()

	go func() {
		time.Sleep(1500 * time.Millisecond)
		close(stop)
		cancel()
	}()

	err := s.runMonitor(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMonitorKeepaliveSuppressesStall(t *testing.T) {
	cfg := config.AppConfig{StallTimeoutSecs: 1, Keepalive: true}
	s := newTestSession(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.runMonitor(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMonitorReconnectAction(t *testing.T) {
	cfg := config.AppConfig{StallTimeoutSecs: 10}
	s := newTestSession(cfg)
	s.opts.Shared.RequestAction(config.ActionReconnect)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.runMonitor(ctx)
	require.Error(t, err)
	var end *SessionEnd
	require.ErrorAs(t, err, &end)
	assert.False(t, end.Reboot)
}

func TestMonitorRebootAction(t *testing.T) {
	cfg := config.AppConfig{StallTimeoutSecs: 10}
	s := newTestSession(cfg)
	s.opts.Shared.RequestAction(config.ActionReboot)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.runMonitor(ctx)
	require.Error(t, err)
	var end *SessionEnd
	require.ErrorAs(t, err, &end)
	assert.True(t, end.Reboot)
}

func TestMonitorStopAction(t *testing.T) {
	cfg := config.AppConfig{StallTimeoutSecs: 10}
	s := newTestSession(cfg)
	s.opts.Shared.RequestAction(config.ActionStop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := s.runMonitor(ctx)
	require.Error(t, err)
	var end *SessionEnd
	require.ErrorAs(t, err, &end)
	assert.True(t, end.Stop)
}
