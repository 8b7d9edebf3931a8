// Package encounter builds encounter records from decoded payload fields and
// hands them to a store.
package encounter

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/bluetrace/internal/logging"
	"github.com/danmuck/bluetrace/internal/observability"
	"github.com/danmuck/bluetrace/internal/sensor"
)

var ErrNoStore = errors.New("encounter: no store configured")

// Fields is the normalized field set produced by protocol dispatch.
type Fields struct {
	Model   string
	RSSI    float64
	TempID  string
	OrgID   int
	Version int
	TxPower float64
}

// Record is an immutable snapshot of one encounter. It is passed by value and
// never modified after Recorder builds it.
type Record struct {
	Timestamp time.Time
	Target    sensor.TargetIdentifier
	TempID    string
	Model     string
	RSSI      float64
	TxPower   float64
	OrgID     int
	Version   int
}

// Store persists records. Implementations must be safe for concurrent use.
type Store interface {
	Save(rec Record) error
}

// Lister is implemented by stores that can return saved records, newest first.
type Lister interface {
	List(limit int) ([]Record, error)
}

type Option func(*Recorder)

// WithClock overrides the capture clock.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// Recorder turns one field set into one saved record. It holds no mutable
// state and may be called concurrently.
type Recorder struct {
	store  Store
	now    func() time.Time
	logger *logging.Logger
}

func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		now:    time.Now,
		logger: logging.New("Herald", "EncounterRecorder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record builds a record and saves it immediately. There is no batching,
// deduplication or retry; a failed save is logged and returned.
func (r *Recorder) Record(fields Fields, proximity sensor.Proximity, target sensor.TargetIdentifier) (Record, error) {
	rec := Record{
		Timestamp: r.now(),
		Target:    target,
		TempID:    fields.TempID,
		Model:     fields.Model,
		RSSI:      fields.RSSI,
		TxPower:   fields.TxPower,
		OrgID:     fields.OrgID,
		Version:   fields.Version,
	}
	if r.store == nil {
		observability.RecordEncounterSave(false)
		return rec, ErrNoStore
	}
	if err := r.store.Save(rec); err != nil {
		observability.RecordEncounterSave(false)
		r.logger.Faultf("record,fromTarget=%s,didMeasure=%s,error=%v", target, proximity, err)
		return rec, fmt.Errorf("save encounter: %w", err)
	}
	observability.RecordEncounterSave(true)
	r.logger.Debugf("record,fromTarget=%s,didMeasure=%s,model=%s,rssi=%.1f,txPower=%.1f", target, proximity, rec.Model, rec.RSSI, rec.TxPower)
	return rec, nil
}
