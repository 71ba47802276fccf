package sysconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
)

var (
	hostapdConfIn  = "/etc/hostapd.conf.in"
	hostapdConfOut = "/var/run/hostapd.conf"
)

const (
	usbStringsIn  = "/etc/aa-proxy-rs/usb_strings.in"
	usbStringsOut = "/var/run/aa-proxy-rs/usb_strings"

	devicetreeModelPath  = "/sys/firmware/devicetree/base/model"
	devicetreeSerialPath = "/sys/firmware/devicetree/base/serial-number"

	fallbackSerial = "0123456"
)

// version is filled in by cmd/aa-proxy-go from build-time ldflags; used in
// the rendered USB firmware-version string, matching the original's
// env!("BUILD_DATE")/GIT_DATE/GIT_HASH baked-in constants.
var version = "dev"

// SetVersion records the build version string sysconfig embeds into the
// rendered USB strings file.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// GenerateAll renders both the hostapd.conf and USB gadget strings files,
// the two things --generate-system-config produces before exiting.
func GenerateAll(logger *logrus.Logger, cfg config.AppConfig) error {
	if err := GenerateHostapdConf(logger, cfg); err != nil {
		return err
	}
	return GenerateUSBStrings(logger, usbStringsIn, usbStringsOut)
}

// GenerateHostapdConf renders hostapdConfIn into hostapdConfOut using the
// Wi-Fi AP fields of cfg, matching main.rs's generate_hostapd_conf.
func GenerateHostapdConf(logger *logrus.Logger, cfg config.AppConfig) error {
	logger.WithField("path", hostapdConfIn).Info("sysconfig: generating config from input template")

	template, err := os.ReadFile(hostapdConfIn)
	if err != nil {
		return fmt.Errorf("sysconfig: reading %s: %w", hostapdConfIn, err)
	}

	// Technically 802.11g should use "g" but "b" works fine in practice.
	hwMode := "b"
	if cfg.Band == 5 || cfg.Band == 6 {
		hwMode = "a"
	}

	rendered := renderTemplate(string(template), map[string]string{
		"HW_MODE":        hwMode,
		"BE_MODE":        boolFlag(cfg.WifiVersion >= 7),
		"AX_MODE":        boolFlag(cfg.WifiVersion >= 6),
		"AC_MODE":        boolFlag(cfg.WifiVersion >= 5),
		"N_MODE":         boolFlag(cfg.WifiVersion >= 4),
		"COUNTRY_CODE":   cfg.CountryCode,
		"CHANNEL":        strconv.Itoa(int(cfg.Channel)),
		"SSID":           cfg.SSID,
		"WPA_PASSPHRASE": cfg.PSK,
	})

	logger.WithField("path", hostapdConfOut).Info("sysconfig: saving generated file")
	if err := os.WriteFile(hostapdConfOut, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("sysconfig: writing %s: %w", hostapdConfOut, err)
	}
	return nil
}

// GenerateUSBStrings renders input into output and chmods output 0755,
// matching main.rs's generate_usb_strings — the rendered file is sourced by
// the USB gadget init script, which configfs expects to be executable.
func GenerateUSBStrings(logger *logrus.Logger, input, output string) error {
	logger.WithField("path", input).Info("sysconfig: generating config from input template")

	template, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("sysconfig: reading %s: %w", input, err)
	}

	model := ""
	if m, err := sbcModel(); err == nil && m != "" {
		model = fmt.Sprintf(" (%s)", m)
	}
	serial, err := serialNumber()
	if err != nil {
		serial = fallbackSerial
	}

	rendered := renderTemplate(string(template), map[string]string{
		"MODEL":        model,
		"SERIAL":       serial,
		"FIRMWARE_VER": version,
	})

	logger.WithField("path", output).Info("sysconfig: saving generated file")
	if err := os.WriteFile(output, []byte(rendered), 0o755); err != nil {
		return fmt.Errorf("sysconfig: writing %s: %w", output, err)
	}
	return os.Chmod(output, 0o755)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// sbcModel reads the device tree's board model string (Raspberry Pi and
// similar SBCs); absent on anything else, which callers treat as "unknown".
func sbcModel() (string, error) {
	return readDevicetreeString(devicetreeModelPath)
}

// serialNumber reads the device tree's serial number, returning an error
// when it is unavailable (e.g. not running on real hardware); the caller
// then uses fallbackSerial.
func serialNumber() (string, error) {
	return readDevicetreeString(devicetreeSerialPath)
}

func readDevicetreeString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("sysconfig: reading %s: %w", path, err)
	}
	s := strings.TrimRight(string(data), "\x00")
	return strings.TrimSpace(s), nil
}
