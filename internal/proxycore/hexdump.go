package proxycore

import (
	"encoding/hex"

	"github.com/sirupsen/logrus"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/rewriter"
)

// hexdump logs data at Debug level when level enables point — one of the
// four points spec.md §4.7 names (decrypted/raw crossed with
// input/output) — or when level is HexdumpAll.
func hexdump(logger *logrus.Logger, level, point config.HexdumpLevel, side rewriter.Side, data []byte) {
	if level == config.HexdumpDisabled {
		return
	}
	if level != config.HexdumpAll && level != point {
		return
	}
	logger.WithFields(logrus.Fields{
		"side":  sideName(side),
		"point": point.String(),
	}).Debugf("hexdump (%d bytes):\n%s", len(data), hex.Dump(data))
}
