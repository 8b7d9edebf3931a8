package instrumentation

import (
	"github.com/danmuck/bluetrace/internal/logging"
	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/danmuck/bluetrace/internal/sensor"
)

// File names written into the instrumentation directory.
const (
	ContactsFile   = "contacts.csv"
	DetectionFile  = "detection.csv"
	StatisticsFile = "statistics.csv"
)

// Suite is the standard set of instrumentation sinks.
type Suite struct {
	Contacts   *ContactLog
	Detection  *DetectionLog
	Statistics *StatisticsLog
	Metrics    MetricsSink
	Payload    []byte
}

// NewSuite creates the CSV logs under dir. Payload identifies this device in
// the detection log.
func NewSuite(dir, description string, payload []byte) (*Suite, error) {
	contacts, err := NewContactLog(dir, ContactsFile)
	if err != nil {
		return nil, err
	}
	detection, err := NewDetectionLog(dir, DetectionFile, description, payload)
	if err != nil {
		return nil, err
	}
	statistics, err := NewStatisticsLog(dir, StatisticsFile)
	if err != nil {
		return nil, err
	}
	logging.New("Herald", "HeraldTestInstrumentation").Infof("DEVICE (payloadPrefix=%s,description=%s)", envelope.ShortName(payload), description)
	return &Suite{
		Contacts:   contacts,
		Detection:  detection,
		Statistics: statistics,
		Payload:    payload,
	}, nil
}

// Sinks returns the sinks in delivery order.
func (s *Suite) Sinks() []sensor.Delegate {
	return []sensor.Delegate{s.Contacts, s.Statistics, s.Detection, s.Metrics}
}
