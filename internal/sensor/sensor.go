// Package sensor defines the contract between the sensing transport and the
// components that consume its events.
package sensor

import (
	"fmt"
	"strings"
)

// Type names the sensor that produced an event.
type Type string

const (
	TypeBLE Type = "BLE"
	TypeGPS Type = "GPS"
)

// State is the power state reported by a sensor.
type State string

const (
	StateOn          State = "on"
	StateOff         State = "off"
	StateUnavailable State = "unavailable"
)

// Unit of a proximity or calibration value.
type Unit string

const (
	UnitRSSI             Unit = "RSSI"
	UnitBLETransmitPower Unit = "BLETransmitPower"
)

// Calibration is the reference value paired with a measurement.
type Calibration struct {
	Unit  Unit
	Value float64
}

// Proximity is one observed signal sample.
type Proximity struct {
	Unit        Unit
	Value       float64
	Calibration *Calibration
}

// TxPower returns the calibration value when it denotes transmit power, else 0.
func (p Proximity) TxPower() float64 {
	if p.Calibration == nil || p.Calibration.Unit != UnitBLETransmitPower {
		return 0
	}
	return p.Calibration.Value
}

func (p Proximity) String() string {
	s := fmt.Sprintf("%s:%.1f", p.Unit, p.Value)
	if p.Calibration != nil {
		s += fmt.Sprintf("[%s:%.1f]", p.Calibration.Unit, p.Calibration.Value)
	}
	return s
}

// TargetIdentifier identifies a remote device for the lifetime of a session.
type TargetIdentifier string

func (t TargetIdentifier) String() string {
	return string(t)
}

// Kind tags how a payload was captured.
type Kind int

const (
	KindNative Kind = iota
	KindLegacy
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// Payload is raw payload data tagged at capture time. The tag is trusted; the
// bytes are never sniffed to decide between native and legacy formats.
type Payload struct {
	Kind     Kind
	Protocol string // legacy protocol name, empty for native payloads
	Data     []byte
}

func Native(data []byte) Payload {
	return Payload{Kind: KindNative, Data: data}
}

func Legacy(protocol string, data []byte) Payload {
	return Payload{Kind: KindLegacy, Protocol: strings.ToLower(strings.TrimSpace(protocol)), Data: data}
}

func (p Payload) IsLegacy() bool {
	return p.Kind == KindLegacy
}

// Location is a visited location reported by a location sensor.
type Location struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

func (l *Location) String() string {
	if l == nil {
		return "nil"
	}
	return fmt.Sprintf("%.6f,%.6f,%.1f", l.Latitude, l.Longitude, l.Altitude)
}

// Delegate receives sensor events. Implementations must be safe for
// concurrent use; the sensing transport may deliver from any goroutine.
type Delegate interface {
	OnStateChange(sensor Type, state State) error
	OnDetect(sensor Type, target TargetIdentifier) error
	OnRead(sensor Type, payload Payload, target TargetIdentifier) error
	// OnMeasure carries a payload when the measurement was paired with one.
	OnMeasure(sensor Type, proximity Proximity, target TargetIdentifier, payload *Payload) error
	OnShare(sensor Type, payloads []Payload, target TargetIdentifier) error
	OnVisit(sensor Type, location *Location) error
	OnReceive(sensor Type, data []byte, target TargetIdentifier) error
}

// NopDelegate ignores every event. Embed it to implement a subset of Delegate.
type NopDelegate struct{}

func (NopDelegate) OnStateChange(Type, State) error                             { return nil }
func (NopDelegate) OnDetect(Type, TargetIdentifier) error                       { return nil }
func (NopDelegate) OnRead(Type, Payload, TargetIdentifier) error                { return nil }
func (NopDelegate) OnMeasure(Type, Proximity, TargetIdentifier, *Payload) error { return nil }
func (NopDelegate) OnShare(Type, []Payload, TargetIdentifier) error             { return nil }
func (NopDelegate) OnVisit(Type, *Location) error                               { return nil }
func (NopDelegate) OnReceive(Type, []byte, TargetIdentifier) error              { return nil }
