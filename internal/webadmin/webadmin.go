// Package webadmin implements the subset of the original's HTTP admin
// surface spec.md §6 names: the EV battery push and the three one-shot
// session actions. Grounded on original_source/src/web.rs's
// battery_handler and restart_handler's shape, narrowed to what spec.md
// §3.11 keeps in scope — the config-store, log-download and index-page
// routes are explicit Non-goals and are not reimplemented here.
package webadmin

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/ev"
	"github.com/aa-proxy/aa-proxy-go/internal/proxycore"
	"github.com/aa-proxy/aa-proxy-go/internal/rewriter"
)

// SessionSource returns the currently running session, or nil between
// sessions. *supervisor.Supervisor's ActiveSession method satisfies this.
type SessionSource func() *proxycore.Session

type batteryRequest struct {
	BatteryLevelPercentage float32 `json:"battery_level_percentage"`
}

// Server binds the handlers spec.md §3.11 names to an http.Server.
type Server struct {
	logger  *logrus.Logger
	shared  *config.SharedConfig
	session SessionSource
	cfg     config.AppConfig
	srv     *http.Server
}

// New builds a Server bound to cfg.WebserverBind; it does not start
// listening until ListenAndServe is called.
func New(logger *logrus.Logger, shared *config.SharedConfig, cfg config.AppConfig, session SessionSource) *Server {
	s := &Server{logger: logger, shared: shared, session: session, cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/battery", s.handleBattery).Methods(http.MethodPost)
	r.HandleFunc("/action/reconnect", s.handleAction(config.ActionReconnect)).Methods(http.MethodPost)
	r.HandleFunc("/action/reboot", s.handleAction(config.ActionReboot)).Methods(http.MethodPost)
	r.HandleFunc("/action/stop", s.handleAction(config.ActionStop)).Methods(http.MethodPost)

	s.srv = &http.Server{Addr: cfg.WebserverBind, Handler: r}
	return s
}

// ListenAndServe blocks serving the admin surface; disabled (returns nil
// immediately) when the bind address is empty, matching the original's
// Option<String> bind address.
func (s *Server) ListenAndServe() error {
	if s.cfg.WebserverBind == "" {
		return nil
	}
	s.logger.WithField("addr", s.cfg.WebserverBind).Info("webadmin: listening")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the admin surface; a no-op if it was never
// started (bind address empty).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.WebserverBind == "" {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	var req batteryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.BatteryLevelPercentage < 0 || req.BatteryLevelPercentage > 100 {
		http.Error(w, "battery_level_percentage out of range (expected 0-100)", http.StatusBadRequest)
		return
	}

	sess := s.session()
	if sess == nil {
		s.logger.Warn("webadmin: not sending packet because no session is running")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}
	channel, ok := sess.SensorChannel()
	if !ok {
		s.logger.Warn("webadmin: not sending packet because no sensor channel is known yet")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}

	cfg := s.shared.Snapshot()
	pkt, err := ev.BuildEnergyModelPacket(channel, req.BatteryLevelPercentage, cfg.EvBatteryCapacityWh, cfg.EvFactor)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := sess.Inject(r.Context(), rewriter.SideMD, *pkt); err != nil {
		s.logger.WithError(err).Warn("webadmin: injecting ev battery packet")
		http.Error(w, "session not accepting packets", http.StatusServiceUnavailable)
		return
	}

	s.logger.WithField("battery_level", req.BatteryLevelPercentage).Info("webadmin: received battery level")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleAction(action config.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.shared.RequestAction(action)
		s.logger.WithField("action", action.String()).Info("webadmin: action requested")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("requested"))
	}
}
