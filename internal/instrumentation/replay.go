package instrumentation

import (
	"encoding/base64"
	"errors"

	"github.com/danmuck/bluetrace/internal/encounter"
	"github.com/danmuck/bluetrace/internal/logging"
	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/danmuck/bluetrace/internal/sensor"
)

// ReplayStore saves through to another store and then replays each saved
// encounter to sinks as detect, read, measure and measure-with-payload events.
// The temp-id doubles as the target identifier.
type ReplayStore struct {
	store  encounter.Store
	sinks  sensor.Delegate
	logger *logging.Logger
}

func NewReplayStore(store encounter.Store, sinks sensor.Delegate) *ReplayStore {
	return &ReplayStore{
		store:  store,
		sinks:  sinks,
		logger: logging.New("Sensor", "Data.FairEfficacyInstrumentation"),
	}
}

// Save returns only the wrapped store's error. Replay failures are logged.
func (s *ReplayStore) Save(rec encounter.Record) error {
	if err := s.store.Save(rec); err != nil {
		return err
	}
	if err := s.replay(rec); err != nil {
		s.logger.Faultf("instrument,encounter,tempId=%s,error=%v", rec.TempID, err)
	}
	return nil
}

func (s *ReplayStore) replay(rec encounter.Record) error {
	raw, err := base64.StdEncoding.DecodeString(rec.TempID)
	if err != nil || len(raw) == 0 {
		return nil
	}
	payload := sensor.Native(raw)
	target := sensor.TargetIdentifier(rec.TempID)
	proximity := sensor.Proximity{Unit: sensor.UnitRSSI, Value: rec.RSSI}
	s.logger.Debugf("instrument (encounter,timestamp=%s,payload=%s,rssi=%.1f)", rec.Timestamp.Format(contactTimeFormat), envelope.ShortName(raw), rec.RSSI)

	return errors.Join(
		s.sinks.OnDetect(sensor.TypeBLE, target),
		s.sinks.OnRead(sensor.TypeBLE, payload, target),
		s.sinks.OnMeasure(sensor.TypeBLE, proximity, target, nil),
		s.sinks.OnMeasure(sensor.TypeBLE, proximity, target, &payload),
	)
}

// List delegates to the wrapped store when it can list.
func (s *ReplayStore) List(limit int) ([]encounter.Record, error) {
	l, ok := s.store.(encounter.Lister)
	if !ok {
		return nil, errors.New("instrumentation: wrapped store cannot list")
	}
	return l.List(limit)
}
