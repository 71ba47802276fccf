package sysconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestRenderTemplate(t *testing.T) {
	got := renderTemplate("hw_mode={{HW_MODE}}\nssid={{SSID}}\n", map[string]string{
		"HW_MODE": "a",
		"SSID":    "aa-proxy",
	})
	assert.Equal(t, "hw_mode=a\nssid=aa-proxy\n", got)
}

func TestRenderTemplateLeavesUnknownPlaceholdersAlone(t *testing.T) {
	got := renderTemplate("{{KNOWN}} {{UNKNOWN}}", map[string]string{"KNOWN": "x"})
	assert.Equal(t, "x {{UNKNOWN}}", got)
}

func TestGenerateHostapdConf(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "hostapd.conf.in")
	out := filepath.Join(dir, "hostapd.conf")

	require.NoError(t, os.WriteFile(in, []byte(
		"hw_mode={{HW_MODE}}\ncountry_code={{COUNTRY_CODE}}\nchannel={{CHANNEL}}\n"+
			"ssid={{SSID}}\nwpa_passphrase={{WPA_PASSPHRASE}}\nieee80211n={{N_MODE}}\n",
	), 0o644))

	origIn, origOut := hostapdConfIn, hostapdConfOut
	hostapdConfIn, hostapdConfOut = in, out
	defer func() { hostapdConfIn, hostapdConfOut = origIn, origOut }()

	cfg := *config.DefaultAppConfig()
	cfg.SSID = "my-car"
	cfg.PSK = "secretpass"
	cfg.CountryCode = "DE"
	cfg.Channel = 6
	cfg.Band = 5
	cfg.WifiVersion = 4

	require.NoError(t, GenerateHostapdConf(testLogger(), cfg))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "hw_mode=a")
	assert.Contains(t, content, "country_code=DE")
	assert.Contains(t, content, "channel=6")
	assert.Contains(t, content, "ssid=my-car")
	assert.Contains(t, content, "wpa_passphrase=secretpass")
	assert.Contains(t, content, "ieee80211n=1")
}

func TestGenerateUSBStringsChmodsExecutable(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "usb_strings.in")
	out := filepath.Join(dir, "usb_strings")

	require.NoError(t, os.WriteFile(in, []byte("serial={{SERIAL}}\nfw={{FIRMWARE_VER}}\n"), 0o644))

	SetVersion("1.2.3")
	require.NoError(t, GenerateUSBStrings(testLogger(), in, out))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fw=1.2.3")
}

func TestReadDevicetreeStringMissingFile(t *testing.T) {
	_, err := readDevicetreeString("/nonexistent/path")
	assert.Error(t, err)
}
