package webadmin

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/proxycore"
	"github.com/aa-proxy/aa-proxy-go/internal/rewriter"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	return logger
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newServer(t *testing.T, session SessionSource) (*Server, *config.SharedConfig) {
	t.Helper()
	shared := config.NewSharedConfig(*config.DefaultAppConfig())
	cfg := shared.Snapshot()
	return New(testLogger(), shared, cfg, session), shared
}

func TestHandleBatteryRejectsInvalidJSON(t *testing.T) {
	srv, _ := newServer(t, func() *proxycore.Session { return nil })

	req := httptest.NewRequest(http.MethodPost, "/battery", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBatteryRejectsOutOfRange(t *testing.T) {
	srv, _ := newServer(t, func() *proxycore.Session { return nil })

	req := httptest.NewRequest(http.MethodPost, "/battery", bytes.NewBufferString(`{"battery_level_percentage": 150}`))
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBatteryNoActiveSession(t *testing.T) {
	srv, _ := newServer(t, func() *proxycore.Session { return nil })

	req := httptest.NewRequest(http.MethodPost, "/battery", bytes.NewBufferString(`{"battery_level_percentage": 42}`))
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleBatteryNoSensorChannelYet(t *testing.T) {
	rw := &rewriter.Rewriter{Ctx: rewriter.NewContext()}
	sess := proxycore.NewSession(proxycore.Options{Logger: testLogger(), Rewriter: rw})
	srv, _ := newServer(t, func() *proxycore.Session { return sess })

	req := httptest.NewRequest(http.MethodPost, "/battery", bytes.NewBufferString(`{"battery_level_percentage": 42}`))
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleBatteryInjectFailsWhenSessionNotRunning(t *testing.T) {
	rw := &rewriter.Rewriter{Ctx: rewriter.NewContext()}
	rw.Ctx.SetSensorChannel(7)
	sess := proxycore.NewSession(proxycore.Options{Logger: testLogger(), Rewriter: rw})
	srv, _ := newServer(t, func() *proxycore.Session { return sess })

	req := httptest.NewRequest(http.MethodPost, "/battery", bytes.NewBufferString(`{"battery_level_percentage": 42}`))
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	// sess was never Run, so its cross channels are nil and Inject fails.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleActionSetsSharedAction(t *testing.T) {
	srv, shared := newServer(t, func() *proxycore.Session { return nil })

	req := httptest.NewRequest(http.MethodPost, "/action/reboot", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.ActionReboot, shared.PeekAction())
}

func TestListenAndServeDisabledWhenBindEmpty(t *testing.T) {
	shared := config.NewSharedConfig(*config.DefaultAppConfig())
	cfg := shared.Snapshot()
	cfg.WebserverBind = ""
	srv := New(testLogger(), shared, cfg, func() *proxycore.Session { return nil })

	assert.NoError(t, srv.ListenAndServe())
}
