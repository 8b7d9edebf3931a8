package ingest

import (
	"fmt"
	"strings"

	"github.com/danmuck/bluetrace/internal/protocol/legacy"
	"github.com/danmuck/bluetrace/internal/sensor"
	"github.com/google/uuid"
)

// payloadJSON is a captured payload. Data is base64 on the wire. Legacy
// payloads default to the opentrace protocol.
type payloadJSON struct {
	Data     []byte `json:"data"`
	Legacy   bool   `json:"legacy"`
	Protocol string `json:"protocol,omitempty"`
}

func (p payloadJSON) payload() sensor.Payload {
	if !p.Legacy {
		return sensor.Native(p.Data)
	}
	protocol := p.Protocol
	if strings.TrimSpace(protocol) == "" {
		protocol = legacy.ProtocolName
	}
	return sensor.Legacy(protocol, p.Data)
}

type calibrationJSON struct {
	Unit  string  `json:"unit"`
	Value float64 `json:"value"`
}

type locationJSON struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

type stateRequest struct {
	Sensor string `json:"sensor"`
	State  string `json:"state" binding:"required"`
}

type detectRequest struct {
	Sensor string `json:"sensor"`
	Target string `json:"target"`
}

type readRequest struct {
	Sensor  string      `json:"sensor"`
	Target  string      `json:"target"`
	Payload payloadJSON `json:"payload"`
}

type measureRequest struct {
	Sensor      string           `json:"sensor"`
	Target      string           `json:"target"`
	Unit        string           `json:"unit"`
	Value       *float64         `json:"value" binding:"required"`
	Calibration *calibrationJSON `json:"calibration,omitempty"`
	Payload     *payloadJSON     `json:"payload,omitempty"`
}

type shareRequest struct {
	Sensor   string        `json:"sensor"`
	Target   string        `json:"target"`
	Payloads []payloadJSON `json:"payloads"`
}

type visitRequest struct {
	Sensor   string        `json:"sensor"`
	Location *locationJSON `json:"location,omitempty"`
}

type receiveRequest struct {
	Sensor string `json:"sensor"`
	Target string `json:"target"`
	Data   []byte `json:"data"`
}

func parseSensor(raw string) (sensor.Type, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(sensor.TypeBLE):
		return sensor.TypeBLE, nil
	case string(sensor.TypeGPS):
		return sensor.TypeGPS, nil
	default:
		return "", fmt.Errorf("unknown sensor: %s", raw)
	}
}

func parseState(raw string) (sensor.State, error) {
	switch sensor.State(strings.ToLower(strings.TrimSpace(raw))) {
	case sensor.StateOn:
		return sensor.StateOn, nil
	case sensor.StateOff:
		return sensor.StateOff, nil
	case sensor.StateUnavailable:
		return sensor.StateUnavailable, nil
	default:
		return "", fmt.Errorf("unknown state: %s", raw)
	}
}

func parseUnit(raw string, fallback sensor.Unit) (sensor.Unit, error) {
	switch strings.TrimSpace(raw) {
	case "":
		return fallback, nil
	case string(sensor.UnitRSSI):
		return sensor.UnitRSSI, nil
	case string(sensor.UnitBLETransmitPower):
		return sensor.UnitBLETransmitPower, nil
	default:
		return "", fmt.Errorf("unknown unit: %s", raw)
	}
}

// targetOrNew returns the given target, or a fresh one when the transport did
// not supply one.
func targetOrNew(raw string) sensor.TargetIdentifier {
	if v := strings.TrimSpace(raw); v != "" {
		return sensor.TargetIdentifier(v)
	}
	return sensor.TargetIdentifier(uuid.NewString())
}

func (r measureRequest) proximity() (sensor.Proximity, error) {
	unit, err := parseUnit(r.Unit, sensor.UnitRSSI)
	if err != nil {
		return sensor.Proximity{}, err
	}
	p := sensor.Proximity{Unit: unit, Value: *r.Value}
	if r.Calibration != nil {
		calUnit, err := parseUnit(r.Calibration.Unit, sensor.UnitBLETransmitPower)
		if err != nil {
			return sensor.Proximity{}, err
		}
		p.Calibration = &sensor.Calibration{Unit: calUnit, Value: r.Calibration.Value}
	}
	return p, nil
}
