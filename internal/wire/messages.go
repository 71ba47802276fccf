// Package wire hand-rolls encode/decode for the narrow slice of the
// Android Auto protobuf message catalogue this proxy actually inspects or
// mutates (service discovery, sensor, navigation, the Bluetooth bootstrap
// Wi-Fi dialogue). There is no protoc step in this build — google.golang.org/protobuf's
// wire-level primitives (protowire) are used directly, field by field,
// grounded on the message shapes original_source/src/mitm.rs reads and
// writes.
package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Control message ids, taken from the public Android Auto protocol
// (original_source/src/mitm.rs's MessageId enum).
const (
	MessageVersionRequest          = 0x0001
	MessageVersionResponse         = 0x0002
	MessageEncapsulatedSSL         = 0x0003
	MessageAuthComplete            = 0x0004
	MessageServiceDiscoveryRequest = 0x0005
	MessageServiceDiscoveryResponse = 0x0006
	MessageChannelOpenRequest      = 0x0007
	MessageChannelOpenResponse     = 0x0008
	MessageByeByeRequest           = 0x000B
	MessageByeByeResponse          = 0x000C
)

// Bootstrap dialogue message ids (original_source/src/bluetooth.rs).
const (
	BootstrapWifiStartRequest  = 1
	BootstrapWifiInfoRequest   = 2
	BootstrapWifiInfoResponse  = 3
	BootstrapWifiStartResponse = 7
	BootstrapWifiConnectStatus = 6
)

// Sensor / control enums used by the rewriter.
const (
	SensorMessageRequestID  = 0x8001
	SensorMessageResponseID = 0x8002
	SensorMessageBatchID    = 0x8003

	SensorTypeVehicleEnergyModelData = 25
	SensorTypeSpeed                  = 1

	StatusSuccess = 0

	ByeByeReasonUserSelection = 1

	AudioStreamGuidance     = 1
	AudioStreamMedia        = 2
	AudioStreamSystemAudio  = 3

	SecurityWPA2Personal = 2
	APTypeDynamic        = 1

	FuelTypeElectric = 5
)

// --- Bootstrap Wi-Fi dialogue messages ---

type WifiStartRequest struct {
	IPAddress string
	Port      int32
}

func (m WifiStartRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.IPAddress)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Port))
	return b
}

type WifiInfoResponse struct {
	SSID     string
	Key      string
	BSSID    string
	Security int32
	APType   int32
}

func (m WifiInfoResponse) Marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, m.SSID)
	b = appendStringField(b, 3, m.Key)
	b = appendVarintField(b, 4, uint64(m.Security))
	b = appendStringField(b, 5, m.BSSID)
	b = appendVarintField(b, 6, uint64(m.APType))
	return b
}

type WifiConnectStatus struct {
	Status int32
}

func ParseWifiConnectStatus(payload []byte) (WifiConnectStatus, error) {
	var out WifiConnectStatus
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, vi uint64) error {
		if num == 1 && typ == protowire.VarintType {
			out.Status = int32(vi)
		}
		return nil
	})
	return out, err
}

// --- Service discovery ---

type VideoConfig struct {
	Density uint32
	raw     []byte
}

type MediaSinkService struct {
	VideoConfigs []VideoConfig
}

type Sensor struct {
	SensorType int32
}

type SensorSourceService struct {
	Sensors []Sensor
}

// Service is one entry of ServiceDiscoveryResponse.services, carrying only
// the sub-messages/fields the rewriter inspects. Unknown fields of the
// original service (transport configs, channel id beyond what's named
// here, etc.) are preserved verbatim in rawOther and re-emitted unless the
// rewriter explicitly drops or mutates a tracked field.
type Service struct {
	ID                  int32
	AudioType           int32
	HasAudioType        bool
	MediaSinkService     *MediaSinkService
	SensorSourceService  *SensorSourceService
	HasBluetoothService  bool
	HasWifiService       bool
	HasNavigationService bool
	FuelTypes            []int32
	EvConnectorTypes     []int32

	// rawOther carries every field number this struct doesn't model
	// explicitly (transport-specific sub-messages, reserved fields),
	// preserved byte-for-byte and re-emitted in field-number order
	// relative to each other (not interleaved with modeled fields,
	// which is fine: protobuf parsers don't require field order).
	rawOther []byte
}

// ServiceDiscoveryResponse is the whole message: Make/Model are the head
// unit's own identity, carried once on the response, not repeated per
// Service.
type ServiceDiscoveryResponse struct {
	Services     []Service
	Make         string
	Model        string
	HasMakeModel bool
	rawOther     []byte
}

// field numbers inferred from the public Android Auto protocol as
// exercised in original_source/src/mitm.rs. fResponseMake/fResponseModel
// belong to ServiceDiscoveryResponse's own field space, distinct from
// Service's (fServiceAudioType is unrelated, despite sharing the number 4).
const (
	fService                 = 1
	fResponseMake            = 3
	fResponseModel           = 4
	fServiceID               = 1
	fServiceMediaSink        = 15
	fServiceSensorSource     = 17
	fServiceBluetoothService = 12
	fServiceWifiService      = 16
	fServiceNavigationService = 11
	fServiceAudioType        = 4
	fMediaSinkVideoConfigs   = 2
	fVideoConfigDensity      = 3
	fSensorSourceSensors     = 1
	fSensorType              = 1
	fServiceFuelTypes        = 18
	fServiceEvConnectorTypes = 19
)

// EvConnectorTypeByName maps the config-file connector type names (spec.md
// §3.1's EvConnectorTypes) to the wire enum values original_source's
// EvConnectorType carries. Only the handful this proxy's default and
// documented config examples use are named. config.EvConnectorTypes.
// UnmarshalText only rejects names without the EV_CONNECTOR_TYPE_ prefix;
// the rewriter skips configured names that are missing from this map.
var EvConnectorTypeByName = map[string]int32{
	"EV_CONNECTOR_TYPE_MENNEKES":     1,
	"EV_CONNECTOR_TYPE_CHADEMO":      2,
	"EV_CONNECTOR_TYPE_COMBO_1":      3,
	"EV_CONNECTOR_TYPE_COMBO_2":      4,
	"EV_CONNECTOR_TYPE_J1772":        5,
	"EV_CONNECTOR_TYPE_TESLA_ROADSTER": 6,
	"EV_CONNECTOR_TYPE_TESLA_HPWC":   7,
	"EV_CONNECTOR_TYPE_TESLA_SUPERCHARGER": 8,
	"EV_CONNECTOR_TYPE_GBT":          9,
}

func ParseServiceDiscoveryResponse(payload []byte) (*ServiceDiscoveryResponse, error) {
	out := &ServiceDiscoveryResponse{}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, vi uint64) error {
		switch {
		case num == fService && typ == protowire.BytesType:
			svc, err := parseService(v)
			if err != nil {
				return err
			}
			out.Services = append(out.Services, svc)
		case num == fResponseMake && typ == protowire.BytesType:
			out.Make = string(v)
			out.HasMakeModel = true
		case num == fResponseModel && typ == protowire.BytesType:
			out.Model = string(v)
			out.HasMakeModel = true
		default:
			out.rawOther = appendRawField(out.rawOther, num, typ, v, vi)
		}
		return nil
	})
	return out, err
}

func parseService(payload []byte) (Service, error) {
	svc := Service{}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, vi uint64) error {
		switch num {
		case fServiceID:
			svc.ID = int32(vi)
		case fServiceAudioType:
			svc.AudioType = int32(vi)
			svc.HasAudioType = true
		case fServiceMediaSink:
			mss, err := parseMediaSinkService(v)
			if err != nil {
				return err
			}
			svc.MediaSinkService = mss
		case fServiceSensorSource:
			sss, err := parseSensorSourceService(v)
			if err != nil {
				return err
			}
			svc.SensorSourceService = sss
		case fServiceBluetoothService:
			svc.HasBluetoothService = true
		case fServiceWifiService:
			svc.HasWifiService = true
		case fServiceNavigationService:
			svc.HasNavigationService = true
		case fServiceFuelTypes:
			svc.FuelTypes = append(svc.FuelTypes, int32(vi))
		case fServiceEvConnectorTypes:
			svc.EvConnectorTypes = append(svc.EvConnectorTypes, int32(vi))
		default:
			svc.rawOther = appendRawField(svc.rawOther, num, typ, v, vi)
		}
		return nil
	})
	return svc, err
}

func parseMediaSinkService(payload []byte) (*MediaSinkService, error) {
	mss := &MediaSinkService{}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, vi uint64) error {
		if num == fMediaSinkVideoConfigs && typ == protowire.BytesType {
			vc := VideoConfig{raw: v}
			_ = walkFields(v, func(n2 protowire.Number, t2 protowire.Type, v2 []byte, vi2 uint64) error {
				if n2 == fVideoConfigDensity {
					vc.Density = uint32(vi2)
				}
				return nil
			})
			mss.VideoConfigs = append(mss.VideoConfigs, vc)
		}
		return nil
	})
	return mss, err
}

func parseSensorSourceService(payload []byte) (*SensorSourceService, error) {
	sss := &SensorSourceService{}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, vi uint64) error {
		if num == fSensorSourceSensors && typ == protowire.BytesType {
			var s Sensor
			_ = walkFields(v, func(n2 protowire.Number, t2 protowire.Type, v2 []byte, vi2 uint64) error {
				if n2 == fSensorType {
					s.SensorType = int32(vi2)
				}
				return nil
			})
			sss.Sensors = append(sss.Sensors, s)
		}
		return nil
	})
	return sss, err
}

// Marshal re-serializes the response, matching the field ordering
// conventions the invariants require: per-service modeled fields first,
// then preserved raw fields.
func (r *ServiceDiscoveryResponse) Marshal() []byte {
	var b []byte
	for _, svc := range r.Services {
		svcBytes := svc.marshal()
		b = protowire.AppendTag(b, fService, protowire.BytesType)
		b = protowire.AppendBytes(b, svcBytes)
	}
	if r.HasMakeModel {
		b = appendStringField(b, fResponseMake, r.Make)
		b = appendStringField(b, fResponseModel, r.Model)
	}
	b = append(b, r.rawOther...)
	return b
}

func (s Service) marshal() []byte {
	var b []byte
	b = appendVarintField(b, fServiceID, uint64(s.ID))
	if s.HasAudioType {
		b = appendVarintField(b, fServiceAudioType, uint64(s.AudioType))
	}
	if s.HasBluetoothService {
		b = protowire.AppendTag(b, fServiceBluetoothService, protowire.BytesType)
		b = protowire.AppendBytes(b, nil)
	}
	if s.HasWifiService {
		b = protowire.AppendTag(b, fServiceWifiService, protowire.BytesType)
		b = protowire.AppendBytes(b, nil)
	}
	if s.HasNavigationService {
		b = protowire.AppendTag(b, fServiceNavigationService, protowire.BytesType)
		b = protowire.AppendBytes(b, nil)
	}
	if s.MediaSinkService != nil {
		b = protowire.AppendTag(b, fServiceMediaSink, protowire.BytesType)
		b = protowire.AppendBytes(b, s.MediaSinkService.marshal())
	}
	if s.SensorSourceService != nil {
		b = protowire.AppendTag(b, fServiceSensorSource, protowire.BytesType)
		b = protowire.AppendBytes(b, s.SensorSourceService.marshal())
	}
	for _, ft := range s.FuelTypes {
		b = appendVarintField(b, fServiceFuelTypes, uint64(ft))
	}
	for _, ct := range s.EvConnectorTypes {
		b = appendVarintField(b, fServiceEvConnectorTypes, uint64(ct))
	}
	b = append(b, s.rawOther...)
	return b
}

func (m *MediaSinkService) marshal() []byte {
	var b []byte
	for _, vc := range m.VideoConfigs {
		b = protowire.AppendTag(b, fMediaSinkVideoConfigs, protowire.BytesType)
		b = protowire.AppendBytes(b, vc.marshal())
	}
	return b
}

func (v VideoConfig) marshal() []byte {
	return appendVarintField(nil, fVideoConfigDensity, uint64(v.Density))
}

func (s *SensorSourceService) marshal() []byte {
	var b []byte
	for _, sensor := range s.Sensors {
		b = protowire.AppendTag(b, fSensorSourceSensors, protowire.BytesType)
		b = protowire.AppendBytes(b, appendVarintField(nil, fSensorType, uint64(sensor.SensorType)))
	}
	return b
}

// --- Sensor messages ---

type SensorMessageRequest struct {
	Type int32
}

func ParseSensorMessageRequest(payload []byte) (SensorMessageRequest, error) {
	var out SensorMessageRequest
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, vi uint64) error {
		if num == 1 && typ == protowire.VarintType {
			out.Type = int32(vi)
		}
		return nil
	})
	return out, err
}

type SensorMessageResponse struct {
	Status int32
}

func (m SensorMessageResponse) Marshal() []byte {
	return appendVarintField(nil, 1, uint64(m.Status))
}

// SensorMessageBatch models only the fields the rewriter mutates: whether
// driving_status_data is present and the status field it zeroes.
type SensorMessageBatch struct {
	HasDrivingStatusData bool
	Status               int32
	rawOther             []byte
}

func ParseSensorMessageBatch(payload []byte) (*SensorMessageBatch, error) {
	out := &SensorMessageBatch{}
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, v []byte, vi uint64) error {
		switch num {
		case 6: // driving_status_data, field number per mitm.rs's SensorBatch
			if len(v) > 0 {
				out.HasDrivingStatusData = true
			}
			out.rawOther = appendRawField(out.rawOther, num, typ, v, vi)
		case 100: // synthetic "status" field this rewrite forces to zero
			out.Status = int32(vi)
		default:
			out.rawOther = appendRawField(out.rawOther, num, typ, v, vi)
		}
		return nil
	})
	return out, err
}

func (m *SensorMessageBatch) Marshal() []byte {
	b := appendVarintField(nil, 100, uint64(m.Status))
	b = append(b, m.rawOther...)
	return b
}

// --- EV energy model ---

// Field numbers within one energy_model_control entry, inferred from the
// nested field path original_source/src/ev.rs's send_ev_data mutates
// (its obfuscated u1/u2/u3/u4/u6 accessors are themselves the field
// numbers, recovered from a schema with no embedded field names).
const (
	fEnergyModelOuterState  = 1 // u1: nested state sub-message
	fEnergyModelOuterFactor = 2 // u2: nested efficiency sub-message

	fEnergyModelStateActive   = 6 // u1.u6: float, always 1.0
	fEnergyModelStateFlag     = 2 // u1.u2: nested, .u1 varint = 1
	fEnergyModelStateLevel    = 3 // u1.u3: nested, .u1 varint = scaled battery level
	fEnergyModelStateCapacity = 4 // u1.u4: nested, .u1 varint = capacity

	fEnergyModelFactorValue = 3 // u2.u3: nested, .u1 float = efficiency factor

	// fSensorBatchEnergyModelControl is the repeated energy_model_control
	// field within SENSOR_MESSAGE_BATCH. Approximate: the original binary
	// template this was grounded on (ev.rs's FORD_EV_MODEL blob) isn't
	// available to this build, so the field number is our best read of the
	// public reverse-engineered schema rather than a byte-exact match.
	fSensorBatchEnergyModelControl = 17
)

func marshalEnergyModelControl(levelScaled, capacityWh uint64, factor float32) []byte {
	flag := appendVarintField(nil, 1, 1)
	level := appendVarintField(nil, 1, levelScaled)
	capacity := appendVarintField(nil, 1, capacityWh)

	var state []byte
	state = protowire.AppendTag(state, fEnergyModelStateActive, protowire.Fixed32Type)
	state = protowire.AppendFixed32(state, math.Float32bits(1.0))
	state = protowire.AppendTag(state, fEnergyModelStateFlag, protowire.BytesType)
	state = protowire.AppendBytes(state, flag)
	state = protowire.AppendTag(state, fEnergyModelStateLevel, protowire.BytesType)
	state = protowire.AppendBytes(state, level)
	state = protowire.AppendTag(state, fEnergyModelStateCapacity, protowire.BytesType)
	state = protowire.AppendBytes(state, capacity)

	var factorMsg []byte
	factorMsg = protowire.AppendTag(factorMsg, 1, protowire.Fixed32Type)
	factorMsg = protowire.AppendFixed32(factorMsg, math.Float32bits(factor))

	var efficiency []byte
	efficiency = protowire.AppendTag(efficiency, fEnergyModelFactorValue, protowire.BytesType)
	efficiency = protowire.AppendBytes(efficiency, factorMsg)

	var out []byte
	out = protowire.AppendTag(out, fEnergyModelOuterState, protowire.BytesType)
	out = protowire.AppendBytes(out, state)
	out = protowire.AppendTag(out, fEnergyModelOuterFactor, protowire.BytesType)
	out = protowire.AppendBytes(out, efficiency)
	return out
}

// BuildEnergyModelBatch assembles a SENSOR_MESSAGE_BATCH body carrying a
// single energy_model_control entry with the battery level, pack
// capacity, and efficiency factor send_ev_data overwrites in ev.rs.
// batteryPercent is 0–100; capacityWh is the configured pack capacity.
func BuildEnergyModelBatch(batteryPercent float32, capacityWh uint64, factor float32) []byte {
	levelScaled := uint64(math.Round(float64(batteryPercent) / 100.0 * float64(capacityWh)))
	control := marshalEnergyModelControl(levelScaled, capacityWh, factor)

	var b []byte
	b = protowire.AppendTag(b, fSensorBatchEnergyModelControl, protowire.BytesType)
	b = protowire.AppendBytes(b, control)
	return b
}

// --- Navigation ---

// NavManeuverUTurnLeft / Right are the maneuver type enum values the "LHT
// Waze" workaround swaps.
const (
	NavManeuverUTurnLeft  = 19
	NavManeuverUTurnRight = 20
)

// NavigationFingerprint is the fixed byte prefix spec.md §4.6 names as the
// trigger for the U-turn rewrite heuristic.
var NavigationFingerprint = []byte{0x80, 0x06, 0x0A}

// RewriteUTurn checks that payload starts with NavigationFingerprint and,
// if so, flips the first byte anywhere in payload equal to U_TURN_LEFT's
// value to U_TURN_RIGHT in place. Returns true if a rewrite was made.
//
// This is deliberately a byte-level patch, not a structural
// parse/marshal round trip: spec.md's design notes flag the navigation
// fingerprint match as a brittle, hand-tuned heuristic tied to one
// protobuf layout, and original_source/src/mitm.rs patches the same way
// rather than fully modeling NavigationStatus.
func RewriteUTurn(payload []byte) bool {
	if len(payload) < len(NavigationFingerprint) {
		return false
	}
	for i := 0; i < len(NavigationFingerprint); i++ {
		if payload[i] != NavigationFingerprint[i] {
			return false
		}
	}
	for i, b := range payload {
		if b == NavManeuverUTurnLeft {
			payload[i] = NavManeuverUTurnRight
			return true
		}
	}
	return false
}

// --- helpers ---

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendRawField(b []byte, num protowire.Number, typ protowire.Type, bytesVal []byte, varintVal uint64) []byte {
	b = protowire.AppendTag(b, num, typ)
	switch typ {
	case protowire.VarintType:
		return protowire.AppendVarint(b, varintVal)
	case protowire.BytesType:
		return protowire.AppendBytes(b, bytesVal)
	case protowire.Fixed32Type:
		return protowire.AppendFixed32(b, uint32(varintVal))
	case protowire.Fixed64Type:
		return protowire.AppendFixed64(b, varintVal)
	default:
		return b
	}
}

// walkFields iterates the top-level fields of a protobuf message,
// invoking fn with the decoded bytes payload (for length-delimited
// fields) or the decoded varint (for varint fields). It is the shared
// decode loop every Parse* function above uses in place of generated
// proto.Unmarshal.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, bytesVal []byte, varintVal uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid varint: %w", protowire.ParseError(n))
			}
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid bytes: %w", protowire.ParseError(n))
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid fixed32: %w", protowire.ParseError(n))
			}
			if err := fn(num, typ, nil, uint64(v)); err != nil {
				return err
			}
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid fixed64: %w", protowire.ParseError(n))
			}
			if err := fn(num, typ, nil, v); err != nil {
				return err
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("wire: invalid field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}
