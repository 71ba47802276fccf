package ev

import (
	"encoding/binary"
	"fmt"

	"github.com/aa-proxy/aa-proxy-go/internal/frame"
	"github.com/aa-proxy/aa-proxy-go/internal/wire"
)

// BuildEnergyModelPacket re-implements ev.rs's send_ev_data: it builds a
// SENSOR_MESSAGE_BATCH payload carrying the scaled battery level, pack
// capacity and efficiency factor, addressed to the captured sensor
// channel, ready to be injected toward the MD side as an unsolicited
// sensor update — the phone is the subscriber on that channel, the way
// the original's rest_server handler pushes it without going through the
// request/response handshake at all.
func BuildEnergyModelPacket(channel int32, batteryPercent float32, capacityWh uint64, factor float32) (*frame.Packet, error) {
	if batteryPercent < 0 || batteryPercent > 100 {
		return nil, fmt.Errorf("ev: battery_level out of range: %v (expected 0.0-100.0)", batteryPercent)
	}
	if channel < 0 || channel > 255 {
		return nil, fmt.Errorf("ev: invalid sensor channel: %d", channel)
	}

	body := wire.BuildEnergyModelBatch(batteryPercent, capacityWh, factor)
	payload := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(payload[0:2], wire.SensorMessageBatchID)
	copy(payload[2:], body)

	return &frame.Packet{
		Channel: byte(channel),
		Flags:   frame.FlagEncrypted | frame.FlagFirst | frame.FlagLast,
		Payload: payload,
	}, nil
}
