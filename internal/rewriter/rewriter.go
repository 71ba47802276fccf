// Package rewriter implements C6, the message rewriter invoked for every
// decrypted packet (spec.md §4.6), grounded on
// original_source/src/mitm.rs's rewrite_* functions.
package rewriter

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/aa-proxy/aa-proxy-go/internal/config"
	"github.com/aa-proxy/aa-proxy-go/internal/frame"
	"github.com/aa-proxy/aa-proxy-go/internal/wire"
)

// Side names which endpoint produced the packet under consideration.
type Side int

const (
	SideHU Side = iota
	SideMD
)

// Options carries the toggles the rewriter reads from the configuration
// snapshot — a narrow view of config.AppConfig so the rewriter's
// dependency surface stays explicit about which fields it touches.
type Options struct {
	DPI                  uint32
	DisableMediaSink     bool
	DisableTTS           bool
	DisableBluetooth     bool
	DisableWifi          bool
	RemoveTapRestriction bool
	VideoInMotion        bool
	DeveloperMode        bool
	StopOnDisconnect     bool
	EvConnectorTypes     []string
}

func OptionsFromConfig(cfg config.AppConfig) Options {
	return Options{
		DPI:                  cfg.DPI,
		DisableMediaSink:     cfg.DisableMediaSink,
		DisableTTS:           cfg.DisableTTS,
		DisableBluetooth:     cfg.DisableBluetooth,
		DisableWifi:          cfg.DisableWifi,
		RemoveTapRestriction: cfg.RemoveTapRestriction,
		VideoInMotion:        cfg.VideoInMotion,
		DeveloperMode:        cfg.DeveloperMode,
		StopOnDisconnect:     cfg.StopOnDisconnect,
		EvConnectorTypes:     cfg.EvConnectorTypes.Types,
	}
}

// Rewriter holds the session-scoped collaborators: the mutable Context,
// the configuration toggle view, a logger, and hooks back out to the
// shared-config action slot and the EV child-process starter (spec.md
// §9's "prefer explicit message passing" over global state).
type Rewriter struct {
	Opts          Options
	Ctx           *Context
	Logger        *logrus.Logger
	RequestAction func(config.Action)
	StartEVLogger func()
}

// Result is what the processor task does after Rewrite returns.
type Result struct {
	// Payload is the (possibly rewritten) payload to continue forwarding.
	// Unused when Handled is true.
	Payload []byte
	// Handled means the rewriter has fully answered the request itself;
	// Response is a ready-to-send packet for the *same* side that
	// produced the request (spec.md §4.6's sensor-reply case).
	Handled  bool
	Response *frame.Packet
}

// Rewrite inspects one decrypted packet and returns what should happen to
// it. channel/messageID/body follow wire.walkFields' expectations: body
// is the payload with the 2-byte message id prefix already stripped.
func (r *Rewriter) Rewrite(side Side, channel byte, payload []byte) (Result, error) {
	if len(payload) < 2 {
		return Result{Payload: payload}, nil
	}

	messageID := binary.BigEndian.Uint16(payload[0:2])
	body := payload[2:]

	if sensorCh, ok := r.Ctx.SensorChannel(); ok && channel == byte(sensorCh) {
		if res, handled, err := r.rewriteSensor(messageID, body); handled || err != nil {
			return res, err
		}
	}

	if navCh, ok := r.Ctx.NavigationChannel(); ok && channel == byte(navCh) && side == SideMD {
		if frame.HasPrefix(body, wire.NavigationFingerprint) {
			if wire.RewriteUTurn(body) {
				r.Logger.Debug("rewriter: applied U-turn LHT workaround")
			}
		}
		return Result{Payload: payload}, nil
	}

	if channel == 0 {
		return r.rewriteControl(side, messageID, payload, body)
	}

	return Result{Payload: payload}, nil
}

func (r *Rewriter) rewriteSensor(messageID uint16, body []byte) (Result, bool, error) {
	switch messageID {
	case wire.SensorMessageRequestID:
		req, err := wire.ParseSensorMessageRequest(body)
		if err != nil {
			return Result{}, false, err
		}
		if req.Type != wire.SensorTypeVehicleEnergyModelData {
			return Result{}, false, nil
		}

		if r.StartEVLogger != nil && !r.Ctx.MarkEVLoggerStarted() {
			r.StartEVLogger()
		}

		resp := wire.SensorMessageResponse{Status: wire.StatusSuccess}
		respPayload := make([]byte, 2+len(resp.Marshal()))
		binary.BigEndian.PutUint16(respPayload[0:2], wire.SensorMessageResponseID)
		copy(respPayload[2:], resp.Marshal())

		pkt := &frame.Packet{
			Flags:   frame.FlagEncrypted | frame.FlagFirst | frame.FlagLast,
			Payload: respPayload,
		}
		return Result{Handled: true, Response: pkt}, true, nil

	case wire.SensorMessageBatchID:
		batch, err := wire.ParseSensorMessageBatch(body)
		if err != nil {
			return Result{}, false, err
		}
		if !(batch.HasDrivingStatusData && r.Opts.VideoInMotion) {
			return Result{}, false, nil
		}
		batch.Status = 0
		rewritten := make([]byte, 2+len(batch.Marshal()))
		binary.BigEndian.PutUint16(rewritten[0:2], messageID)
		copy(rewritten[2:], batch.Marshal())
		return Result{Payload: rewritten}, false, nil
	}
	return Result{}, false, nil
}

func (r *Rewriter) rewriteControl(side Side, messageID uint16, fullPayload, body []byte) (Result, error) {
	switch messageID {
	case wire.MessageByeByeRequest:
		// body is a ByeByeRequest: tag 0x08 (field 1, varint) then the reason.
		if side == SideMD && len(body) >= 2 && body[0] == 0x08 && body[1] == wire.ByeByeReasonUserSelection && r.Opts.StopOnDisconnect {
			if r.RequestAction != nil {
				r.RequestAction(config.ActionStop)
			}
		}
		return Result{Payload: fullPayload}, nil

	case wire.MessageServiceDiscoveryResponse:
		if side != SideHU {
			return Result{Payload: fullPayload}, nil
		}
		sdr, err := wire.ParseServiceDiscoveryResponse(body)
		if err != nil {
			return Result{Payload: fullPayload}, err
		}
		r.applyServiceDiscoveryToggles(sdr)

		out := sdr.Marshal()
		rewritten := make([]byte, 2+len(out))
		binary.BigEndian.PutUint16(rewritten[0:2], messageID)
		copy(rewritten[2:], out)
		return Result{Payload: rewritten}, nil
	}
	return Result{Payload: fullPayload}, nil
}

func (r *Rewriter) applyServiceDiscoveryToggles(sdr *wire.ServiceDiscoveryResponse) {
	kept := sdr.Services[:0]
	for i := range sdr.Services {
		svc := sdr.Services[i]

		if r.Opts.DisableMediaSink && svc.HasAudioType && svc.AudioType == wire.AudioStreamMedia {
			continue // media sink disable
		}
		if r.Opts.DisableBluetooth && svc.HasBluetoothService {
			continue
		}
		if r.Opts.DisableWifi && svc.HasWifiService {
			continue
		}

		if r.Opts.DPI != 0 && svc.MediaSinkService != nil && len(svc.MediaSinkService.VideoConfigs) > 0 {
			svc.MediaSinkService.VideoConfigs[0].Density = r.Opts.DPI
		}

		if r.Opts.DisableTTS && svc.HasAudioType && svc.AudioType == wire.AudioStreamGuidance {
			svc.AudioType = wire.AudioStreamSystemAudio
		}

		if svc.SensorSourceService != nil {
			if len(svc.SensorSourceService.Sensors) > 0 {
				r.Ctx.SetSensorChannel(svc.ID)
			}
			if r.Opts.RemoveTapRestriction {
				sensors := svc.SensorSourceService.Sensors[:0]
				for _, s := range svc.SensorSourceService.Sensors {
					if s.SensorType == wire.SensorTypeSpeed {
						continue
					}
					sensors = append(sensors, s)
				}
				svc.SensorSourceService.Sensors = sensors
			}
		}

		if svc.HasNavigationService {
			r.Ctx.SetNavigationChannel(svc.ID)
		}

		kept = append(kept, svc)
	}
	sdr.Services = kept

	if r.Opts.DeveloperMode {
		sdr.Make = "Google"
		sdr.Model = "Desktop Head Unit"
		sdr.HasMakeModel = true
	}

	if len(r.Opts.EvConnectorTypes) > 0 {
		connectorTypes := make([]int32, 0, len(r.Opts.EvConnectorTypes))
		for _, name := range r.Opts.EvConnectorTypes {
			if id, ok := wire.EvConnectorTypeByName[name]; ok {
				connectorTypes = append(connectorTypes, id)
			}
		}
		ev := wire.Service{
			SensorSourceService: &wire.SensorSourceService{
				Sensors: []wire.Sensor{{SensorType: wire.SensorTypeVehicleEnergyModelData}},
			},
			FuelTypes:        []int32{wire.FuelTypeElectric},
			EvConnectorTypes: connectorTypes,
		}
		sdr.Services = append(sdr.Services, ev)
	}
}
