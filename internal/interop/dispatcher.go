// Package interop routes measured payloads to the native or legacy decoder
// and records one encounter per successful decode.
package interop

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/bluetrace/internal/encounter"
	"github.com/danmuck/bluetrace/internal/logging"
	"github.com/danmuck/bluetrace/internal/observability"
	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/danmuck/bluetrace/internal/protocol/legacy"
	"github.com/danmuck/bluetrace/internal/sensor"
)

// ProtocolNative labels payloads in the binary envelope format.
const ProtocolNative = "herald"

var ErrUnsupportedProtocol = errors.New("interop: unsupported legacy protocol")

// Recorder receives the normalized fields of a decoded payload.
type Recorder interface {
	Record(fields encounter.Fields, proximity sensor.Proximity, target sensor.TargetIdentifier) (encounter.Record, error)
}

// Config carries deployment values stamped onto native encounters.
type Config struct {
	OrgID           int
	ProtocolVersion int
	// DisableLegacy treats every legacy payload as an unsupported protocol.
	DisableLegacy bool
}

type Option func(*Dispatcher)

// WithStateCallback is invoked on every sensor state change.
func WithStateCallback(fn func(sensor.State)) Option {
	return func(d *Dispatcher) {
		d.onState = fn
	}
}

// Dispatcher is the sensor delegate that turns measurements paired with a
// payload into encounter records.
type Dispatcher struct {
	sensor.NopDelegate

	codec    *envelope.Codec
	recorder Recorder
	cfg      Config
	logger   *logging.Logger

	mu      sync.RWMutex
	state   sensor.State
	onState func(sensor.State)
}

func NewDispatcher(codec *envelope.Codec, recorder Recorder, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		codec:    codec,
		recorder: recorder,
		cfg:      cfg,
		logger:   logging.New("Herald", "HeraldIntegration"),
		state:    sensor.StateOff,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the last reported sensor state.
func (d *Dispatcher) State() sensor.State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Dispatcher) OnStateChange(s sensor.Type, state sensor.State) error {
	d.logger.Debugf("%s,didUpdateState=%s", s, state)
	d.mu.Lock()
	d.state = state
	cb := d.onState
	d.mu.Unlock()
	if cb != nil {
		cb(state)
	}
	return nil
}

// OnMeasure records an encounter when the measurement is RSSI and carries a
// payload. Payloads that fail to decode are logged and dropped.
func (d *Dispatcher) OnMeasure(s sensor.Type, proximity sensor.Proximity, target sensor.TargetIdentifier, payload *sensor.Payload) error {
	if payload == nil || proximity.Unit != sensor.UnitRSSI {
		return nil
	}
	fields, err := d.Dispatch(proximity, *payload)
	if errors.Is(err, ErrUnsupportedProtocol) {
		d.logger.Debugf("%s,didMeasure=%s,fromTarget=%s,protocol=%s,ignored", s, proximity, target, payload.Protocol)
		return nil
	}
	if err != nil {
		protocol := protocolLabel(*payload)
		observability.RecordPayloadRejected("dispatcher", protocol)
		d.logger.Faultf(
			"%s,didMeasure=%s,fromTarget=%s,withPayload=%s,protocol=%s,error=failedToParse",
			s,
			proximity,
			target,
			base64.StdEncoding.EncodeToString(payload.Data),
			protocol,
		)
		return nil
	}
	d.logger.Debugf("%s,didMeasure=%s,fromTarget=%s,withPayload=%s,protocol=%s", s, proximity, target, envelope.ShortName(payload.Data), protocolLabel(*payload))
	_, err = d.recorder.Record(fields, proximity, target)
	return err
}

// Dispatch decodes payload according to its capture tag and enriches the
// result with the measurement. It has no side effects besides metrics.
func (d *Dispatcher) Dispatch(proximity sensor.Proximity, payload sensor.Payload) (encounter.Fields, error) {
	switch payload.Kind {
	case sensor.KindNative:
		return d.dispatchNative(proximity, payload.Data)
	case sensor.KindLegacy:
		if d.cfg.DisableLegacy || payload.Protocol != legacy.ProtocolName {
			return encounter.Fields{}, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, payload.Protocol)
		}
		return d.dispatchLegacy(proximity, payload.Data)
	default:
		return encounter.Fields{}, fmt.Errorf("interop: unknown payload kind %d", payload.Kind)
	}
}

func (d *Dispatcher) dispatchNative(proximity sensor.Proximity, data []byte) (encounter.Fields, error) {
	p, err := d.codec.Decode(data)
	if err != nil {
		return encounter.Fields{}, err
	}
	observability.RecordPayloadDecoded(ProtocolNative, "envelope")
	return encounter.Fields{
		Model:   p.Model,
		RSSI:    proximity.Value,
		TempID:  p.TempID,
		OrgID:   d.cfg.OrgID,
		Version: d.cfg.ProtocolVersion,
		TxPower: proximity.TxPower(),
	}, nil
}

func (d *Dispatcher) dispatchLegacy(proximity sensor.Proximity, data []byte) (encounter.Fields, error) {
	dec, err := legacy.Decode(data)
	if err != nil {
		return encounter.Fields{}, err
	}
	observability.RecordPayloadDecoded(legacy.ProtocolName, string(dec.Format))

	rssi := dec.RSSI
	if dec.Format == legacy.FormatPeripheralCharacteristicsV2 {
		rssi = proximity.Value
	}
	return encounter.Fields{
		Model:   dec.Model,
		RSSI:    rssi,
		TempID:  dec.TempID,
		OrgID:   dec.OrgID,
		Version: dec.Version,
		TxPower: proximity.TxPower(),
	}, nil
}

func protocolLabel(p sensor.Payload) string {
	if p.IsLegacy() {
		return p.Protocol
	}
	return ProtocolNative
}
