// Package config holds the proxy's configuration snapshot: the immutable
// value read once at session start (spec.md §3), plus the shared,
// mutable Action slot the HTTP admin surface and the session supervisor
// communicate through at session boundaries.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
)

// AppConfig is the configuration snapshot named in spec.md §3, expanded
// with the fields original_source/src/config.rs carries that the
// distillation folded into prose ("EV feature set", "stall-timeout and
// stats-interval durations", etc).
type AppConfig struct {
	// Network / Wi-Fi
	Interface string `toml:"interface"`
	SSID      string `toml:"ssid"`
	PSK       string `toml:"psk"`
	BSSID     string `toml:"bssid"`
	TCPPort   uint16 `toml:"tcp_port"`

	// hostapd.conf generation (--generate-system-config)
	Band        float32 `toml:"band"`
	WifiVersion uint8   `toml:"wifi_version"`
	CountryCode string  `toml:"country_code"`
	Channel     uint16  `toml:"channel"`

	// Bluetooth
	BluetoothAlias string               `toml:"bluetooth_alias"`
	Connect        BluetoothAddressList `toml:"connect"`
	Advertise      bool                 `toml:"advertise"`
	BtTimeoutSecs  uint16               `toml:"bt_timeout_secs"`

	// USB / transport mode
	Wired          *UsbId `toml:"wired"`
	DHU            bool   `toml:"dhu"`
	Dongle         bool   `toml:"dongle_mode"`
	ChangeUSBOrder bool   `toml:"change_usb_order"`
	UDC            string `toml:"udc"`
	Legacy         bool   `toml:"legacy"`

	// MITM / rewriter toggles
	MITM                bool             `toml:"mitm"`
	DPI                 uint32           `toml:"dpi"`
	DisableMediaSink    bool             `toml:"disable_media_sink"`
	DisableTTS          bool             `toml:"disable_tts"`
	DisableBluetooth    bool             `toml:"disable_bluetooth"`
	DisableWifi         bool             `toml:"disable_wifi"`
	RemoveTapRestriction bool            `toml:"remove_tap_restriction"`
	VideoInMotion       bool             `toml:"video_in_motion"`
	DeveloperMode       bool             `toml:"developer_mode"`
	StopOnDisconnect    bool             `toml:"stop_on_disconnect"`

	// EV
	EvConnectorTypes    EvConnectorTypes `toml:"ev_connector_types"`
	EvBatteryLoggerCmd  string           `toml:"ev_battery_logger_cmd"`
	EvBatteryCapacityWh uint64           `toml:"ev_battery_capacity_wh"`
	EvFactor            float32          `toml:"ev_factor"`

	// Timing
	StallTimeoutSecs  uint16 `toml:"stall_timeout_secs"`
	StatsIntervalSecs uint16 `toml:"stats_interval_secs"`

	// Diagnostics
	Debug               bool         `toml:"debug"`
	DisableConsoleDebug  bool         `toml:"disable_console_debug"`
	HexdumpLevel         HexdumpLevel `toml:"hexdump_level"`
	Keepalive            bool         `toml:"keepalive"`
	Logfile              string       `toml:"logfile"`

	// HTTP admin
	WebserverBind string `toml:"webserver_bind"`

	restartRequested bool
}

// DefaultAppConfig mirrors original_source/src/config.rs's
// impl Default for AppConfig.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Interface:         "wlan0",
		SSID:              "aa-proxy",
		PSK:               "aa-proxy",
		TCPPort:           5288,
		Band:              2.4,
		WifiVersion:       4,
		CountryCode:       "US",
		Channel:           1,
		BluetoothAlias:    "",
		Connect:           DefaultBluetoothAddressList(),
		BtTimeoutSecs:     120,
		Legacy:            true,
		EvConnectorTypes:  DefaultEvConnectorTypes(),
		StallTimeoutSecs:  10,
		StatsIntervalSecs: 0,
		Logfile:           "/var/log/aa-proxy-go.log",
		WebserverBind:     "0.0.0.0:8080",
	}
}

// SharedConfig is the mutex-guarded handle the HTTP admin surface, the
// session supervisor and the transfer monitor all read/write against,
// mirroring original_source's Arc<RwLock<AppConfig>>. spec.md §5 calls
// this out as an explicit-message-passing boundary rather than a shared
// singleton; Action is kept as a dedicated field rather than folded into
// AppConfig to make that boundary visible in the type.
type SharedConfig struct {
	mu     sync.RWMutex
	cfg    AppConfig
	action Action
}

func NewSharedConfig(cfg AppConfig) *SharedConfig {
	return &SharedConfig{cfg: cfg}
}

func (s *SharedConfig) Snapshot() AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *SharedConfig) Replace(cfg AppConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// RequestAction is called by the HTTP admin surface; it never blocks on
// session state, matching spec.md §5's single-writer-slot model.
func (s *SharedConfig) RequestAction(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.action = a
}

// TakeAction atomically reads and clears the action slot.
func (s *SharedConfig) TakeAction() Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.action
	s.action = ActionNone
	return a
}

// PeekAction reads the action slot without clearing it.
func (s *SharedConfig) PeekAction() Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.action
}

// Load reads and decodes a TOML configuration file, applying defaults for
// anything the file leaves unset.
func Load(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg back to path, bracketing the write with a root
// remount-rw/remount-ro pair, matching original_source/src/config.rs's
// save() which assumes the root filesystem of the embedded target is
// normally read-only. remountRW/remountRO always remount "/" (whichever
// filesystem path is on), and do so even when it is already writable;
// failures to remount are logged, not fatal, since many development and
// container setups have no overlay to remount at all.
func Save(path string, cfg *AppConfig, logger *logrus.Logger) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := remountRW(path); err != nil {
		logger.WithError(err).Warn("could not remount root read-write before saving config")
	}
	defer func() {
		if err := remountRO(path); err != nil {
			logger.WithError(err).Warn("could not remount root read-only after saving config")
		}
	}()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// NewLogger builds a logrus.Logger the way pkg/config.Config.NewLogger
// does in the teacher, gated by the Debug/DisableConsoleDebug fields
// instead of a single Level field.
func (c *AppConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level := logrus.InfoLevel
	if c.Debug && !c.DisableConsoleDebug {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if c.DisableConsoleDebug {
		logger.SetOutput(os.Stderr)
	}

	return logger
}
