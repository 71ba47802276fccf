package ev

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aa-proxy/aa-proxy-go/internal/wire"
)

func TestBuildEnergyModelPacket(t *testing.T) {
	pkt, err := BuildEnergyModelPacket(7, 50.0, 60000, 1.0)
	require.NoError(t, err)

	assert.Equal(t, byte(7), pkt.Channel)
	assert.True(t, pkt.IsEncrypted())
	assert.True(t, pkt.IsFirst())
	assert.True(t, pkt.IsLast())

	gotID := binary.BigEndian.Uint16(pkt.Payload[0:2])
	assert.Equal(t, uint16(wire.SensorMessageBatchID), gotID)
	assert.NotEmpty(t, pkt.Payload[2:])
}

func TestBuildEnergyModelPacketRejectsOutOfRangeLevel(t *testing.T) {
	_, err := BuildEnergyModelPacket(1, 150.0, 60000, 1.0)
	assert.Error(t, err)

	_, err = BuildEnergyModelPacket(1, -5.0, 60000, 1.0)
	assert.Error(t, err)
}

func TestBuildEnergyModelBatchScalesLevel(t *testing.T) {
	full := wire.BuildEnergyModelBatch(100.0, 60000, 1.0)
	half := wire.BuildEnergyModelBatch(50.0, 60000, 1.0)
	assert.NotEqual(t, full, half)
}
