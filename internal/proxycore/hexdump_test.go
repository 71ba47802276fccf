package proxycore

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/rewriter"
)

func TestHexdumpGating(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	hexdump(logger, config.HexdumpDisabled, config.HexdumpRawInput, rewriter.SideHU, []byte("x"))
	assert.Empty(t, hook.Entries)

	hexdump(logger, config.HexdumpRawOutput, config.HexdumpRawInput, rewriter.SideHU, []byte("x"))
	assert.Empty(t, hook.Entries)

	hexdump(logger, config.HexdumpRawInput, config.HexdumpRawInput, rewriter.SideHU, []byte("x"))
	assert.Len(t, hook.Entries, 1)
	hook.Reset()

	hexdump(logger, config.HexdumpAll, config.HexdumpDecryptedOutput, rewriter.SideMD, []byte("y"))
	assert.Len(t, hook.Entries, 1)
}
