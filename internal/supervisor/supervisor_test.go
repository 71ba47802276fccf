package supervisor

import (
	"context"
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/endpoint"
	"github.com/aa-proxy/aa-proxy-go/internal/proxycore"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeTransport records how it was invoked and hands back one end of a
// net.Pipe whose peer is closed immediately, so any reader against it sees
// an instant EOF instead of blocking on real USB/Bluetooth/TCP state.
type fakeTransport struct {
	openMDCalls atomic.Int32
	openHUCalls atomic.Int32
	mdErr       error
	huErr       error
}

func closedPipeEndpoint() endpoint.Endpoint {
	a, b := net.Pipe()
	b.Close()
	return endpoint.Wrap(a)
}

func (f *fakeTransport) OpenMD(ctx context.Context, logger *logrus.Logger, cfg config.AppConfig) (endpoint.Endpoint, error) {
	f.openMDCalls.Add(1)
	if f.mdErr != nil {
		return nil, f.mdErr
	}
	return closedPipeEndpoint(), nil
}

func (f *fakeTransport) OpenHU(ctx context.Context, logger *logrus.Logger, cfg config.AppConfig) (endpoint.Endpoint, error) {
	f.openHUCalls.Add(1)
	if f.huErr != nil {
		return nil, f.huErr
	}
	return closedPipeEndpoint(), nil
}

func wiredConfig() config.AppConfig {
	cfg := *config.DefaultAppConfig()
	cfg.Wired = &config.UsbId{VID: 0x18d1, PID: 0x2d00}
	cfg.DHU = false
	return cfg
}

func TestRunOnceWiredSkipsGadgetAndBluetooth(t *testing.T) {
	shared := config.NewSharedConfig(wiredConfig())
	ft := &fakeTransport{}
	sup := &Supervisor{Logger: testLogger(), Shared: shared, Transport: ft}

	err := sup.runOnce(context.Background())

	// The fake endpoints EOF immediately, so the session itself ends in an
	// error; the point of this test is that we got there at all, without
	// touching real USB gadget or Bluetooth state.
	assert.Error(t, err)
	assert.Equal(t, int32(1), ft.openMDCalls.Load())
	assert.Equal(t, int32(1), ft.openHUCalls.Load())
}

func TestRunOnceClearsActiveSessionOnExit(t *testing.T) {
	shared := config.NewSharedConfig(wiredConfig())
	ft := &fakeTransport{}
	sup := &Supervisor{Logger: testLogger(), Shared: shared, Transport: ft}

	_ = sup.runOnce(context.Background())

	assert.Nil(t, sup.ActiveSession())
}

func TestRunOnceRebootAction(t *testing.T) {
	shared := config.NewSharedConfig(wiredConfig())
	shared.RequestAction(config.ActionReboot)
	ft := &fakeTransport{}
	sup := &Supervisor{Logger: testLogger(), Shared: shared, Transport: ft}

	err := sup.runOnce(context.Background())

	require.ErrorIs(t, err, errRebooting)
	assert.Equal(t, int32(0), ft.openMDCalls.Load())
	assert.Equal(t, int32(0), ft.openHUCalls.Load())
	assert.Equal(t, config.ActionNone, shared.PeekAction())
}

func TestRunSuspendsAfterStopUntilReconnect(t *testing.T) {
	shared := config.NewSharedConfig(wiredConfig())
	ft := &fakeTransport{mdErr: &proxycore.SessionEnd{Stop: true}}
	sup := &Supervisor{Logger: testLogger(), Shared: shared, Transport: ft}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sup.Run(ctx)
		close(done)
	}()

	// Give the first runOnce a chance to run and hit the Stop end, then
	// confirm the loop does not retry on its own.
	time.Sleep(1200 * time.Millisecond)
	callsAfterStop := ft.openMDCalls.Load()
	assert.Equal(t, int32(1), callsAfterStop)

	shared.RequestAction(config.ActionReconnect)
	time.Sleep(1200 * time.Millisecond)
	assert.Greater(t, ft.openMDCalls.Load(), callsAfterStop)

	cancel()
	<-done
}

func TestRunOncePropagatesMDTransportError(t *testing.T) {
	shared := config.NewSharedConfig(wiredConfig())
	ft := &fakeTransport{mdErr: assert.AnError}
	sup := &Supervisor{Logger: testLogger(), Shared: shared, Transport: ft}

	err := sup.runOnce(context.Background())

	require.Error(t, err)
	assert.Equal(t, int32(0), ft.openHUCalls.Load())
}
