package instrumentation

import (
	"github.com/danmuck/bluetrace/internal/observability"
	"github.com/danmuck/bluetrace/internal/sensor"
)

// MetricsSink counts sensor events by sensor and event kind.
type MetricsSink struct{}

func (MetricsSink) OnStateChange(s sensor.Type, _ sensor.State) error {
	observability.RecordSensorEvent(string(s), "stateChange")
	return nil
}

func (MetricsSink) OnDetect(s sensor.Type, _ sensor.TargetIdentifier) error {
	observability.RecordSensorEvent(string(s), "detect")
	return nil
}

func (MetricsSink) OnRead(s sensor.Type, _ sensor.Payload, _ sensor.TargetIdentifier) error {
	observability.RecordSensorEvent(string(s), "read")
	return nil
}

func (MetricsSink) OnMeasure(s sensor.Type, _ sensor.Proximity, _ sensor.TargetIdentifier, payload *sensor.Payload) error {
	if payload != nil {
		observability.RecordSensorEvent(string(s), "measureWithPayload")
		return nil
	}
	observability.RecordSensorEvent(string(s), "measure")
	return nil
}

func (MetricsSink) OnShare(s sensor.Type, _ []sensor.Payload, _ sensor.TargetIdentifier) error {
	observability.RecordSensorEvent(string(s), "share")
	return nil
}

func (MetricsSink) OnVisit(s sensor.Type, _ *sensor.Location) error {
	observability.RecordSensorEvent(string(s), "visit")
	return nil
}

func (MetricsSink) OnReceive(s sensor.Type, _ []byte, _ sensor.TargetIdentifier) error {
	observability.RecordSensorEvent(string(s), "receive")
	return nil
}
