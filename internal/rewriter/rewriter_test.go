package rewriter

import (
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aa-proxy/aa-proxy-go/internal/wire"
)

func buildSDRPayload(t *testing.T, sdr *wire.ServiceDiscoveryResponse) []byte {
	t.Helper()
	body := sdr.Marshal()
	payload := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(payload[0:2], wire.MessageServiceDiscoveryResponse)
	copy(payload[2:], body)
	return payload
}

func newTestRewriter() *Rewriter {
	return &Rewriter{
		Ctx:    NewContext(),
		Logger: logrus.New(),
	}
}

func TestRewriterDisableMediaSink(t *testing.T) {
	r := newTestRewriter()
	r.Opts.DisableMediaSink = true

	sdr := &wire.ServiceDiscoveryResponse{Services: []wire.Service{
		{ID: 1, AudioType: wire.AudioStreamMedia, HasAudioType: true},
		{ID: 2, AudioType: wire.AudioStreamGuidance, HasAudioType: true},
	}}
	payload := buildSDRPayload(t, sdr)

	res, err := r.Rewrite(SideHU, 0, payload)
	require.NoError(t, err)
	require.False(t, res.Handled)

	out, err := wire.ParseServiceDiscoveryResponse(res.Payload[2:])
	require.NoError(t, err)
	for _, svc := range out.Services {
		assert.NotEqual(t, int32(wire.AudioStreamMedia), svc.AudioType)
	}
}

func TestRewriterDeveloperMode(t *testing.T) {
	r := newTestRewriter()
	r.Opts.DeveloperMode = true

	sdr := &wire.ServiceDiscoveryResponse{Services: []wire.Service{{ID: 1}}}
	payload := buildSDRPayload(t, sdr)

	res, err := r.Rewrite(SideHU, 0, payload)
	require.NoError(t, err)

	out, err := wire.ParseServiceDiscoveryResponse(res.Payload[2:])
	require.NoError(t, err)
	require.Len(t, out.Services, 1)
	assert.Equal(t, "Google", out.Make)
	assert.Equal(t, "Desktop Head Unit", out.Model)
}

func TestRewriterCapturesFirstSensorChannel(t *testing.T) {
	r := newTestRewriter()

	sdr := &wire.ServiceDiscoveryResponse{Services: []wire.Service{
		{ID: 5, SensorSourceService: &wire.SensorSourceService{Sensors: []wire.Sensor{{SensorType: wire.SensorTypeSpeed}}}},
		{ID: 9, SensorSourceService: &wire.SensorSourceService{Sensors: []wire.Sensor{{SensorType: wire.SensorTypeSpeed}}}},
	}}
	payload := buildSDRPayload(t, sdr)

	_, err := r.Rewrite(SideHU, 0, payload)
	require.NoError(t, err)

	ch, ok := r.Ctx.SensorChannel()
	require.True(t, ok)
	assert.Equal(t, int32(5), ch)
}

func TestRewriterRemoveTapRestriction(t *testing.T) {
	r := newTestRewriter()
	r.Opts.RemoveTapRestriction = true

	sdr := &wire.ServiceDiscoveryResponse{Services: []wire.Service{
		{ID: 1, SensorSourceService: &wire.SensorSourceService{Sensors: []wire.Sensor{
			{SensorType: wire.SensorTypeSpeed},
			{SensorType: wire.SensorTypeVehicleEnergyModelData},
		}}},
	}}
	payload := buildSDRPayload(t, sdr)

	res, err := r.Rewrite(SideHU, 0, payload)
	require.NoError(t, err)

	out, err := wire.ParseServiceDiscoveryResponse(res.Payload[2:])
	require.NoError(t, err)
	for _, s := range out.Services[0].SensorSourceService.Sensors {
		assert.NotEqual(t, int32(wire.SensorTypeSpeed), s.SensorType)
	}
}

func TestRewriterSensorEVRequestIsHandled(t *testing.T) {
	r := newTestRewriter()
	r.Ctx.SetSensorChannel(7)

	req := wire.SensorMessageRequest{Type: wire.SensorTypeVehicleEnergyModelData}
	var reqBody []byte
	reqBody = append(reqBody, 0x08, byte(req.Type)) // field 1 varint, minimal hand encoding
	payload := make([]byte, 2+len(reqBody))
	binary.BigEndian.PutUint16(payload[0:2], wire.SensorMessageRequestID)
	copy(payload[2:], reqBody)

	res, err := r.Rewrite(SideMD, 7, payload)
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.NotNil(t, res.Response)
	assert.Equal(t, uint16(wire.SensorMessageResponseID), binary.BigEndian.Uint16(res.Response.Payload[0:2]))
}
