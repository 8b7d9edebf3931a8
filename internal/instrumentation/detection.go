package instrumentation

import (
	"sort"
	"sync"

	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/danmuck/bluetrace/internal/sensor"
)

// DetectionLog keeps a single row: this device followed by every distinct
// payload it has seen. The file is rewritten whenever a new payload appears.
type DetectionLog struct {
	sensor.NopDelegate

	file        *textFile
	description string
	self        string

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDetectionLog(dir, filename, description string, payload []byte) (*DetectionLog, error) {
	f, err := newTextFile(dir, filename)
	if err != nil {
		return nil, err
	}
	l := &DetectionLog{
		file:        f,
		description: description,
		self:        envelope.ShortName(payload),
		seen:        make(map[string]struct{}),
	}
	if err := l.writeLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *DetectionLog) Path() string {
	return l.file.Path()
}

// Seen returns the distinct payload short names recorded so far, sorted.
func (l *DetectionLog) Seen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sortedLocked()
}

func (l *DetectionLog) sortedLocked() []string {
	out := make([]string, 0, len(l.seen))
	for k := range l.seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (l *DetectionLog) observe(data []byte) error {
	name := envelope.ShortName(data)
	if name == "" || name == l.self {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[name]; ok {
		return nil
	}
	l.seen[name] = struct{}{}
	return l.writeLocked()
}

// writeLocked holds l.mu across the rewrite so a newer snapshot is never
// replaced on disk by an older one.
func (l *DetectionLog) writeLocked() error {
	row := append([]string{l.description, l.self}, l.sortedLocked()...)
	return l.file.overwrite(row)
}

func (l *DetectionLog) OnRead(_ sensor.Type, payload sensor.Payload, _ sensor.TargetIdentifier) error {
	return l.observe(payload.Data)
}

func (l *DetectionLog) OnMeasure(_ sensor.Type, _ sensor.Proximity, _ sensor.TargetIdentifier, payload *sensor.Payload) error {
	if payload == nil {
		return nil
	}
	return l.observe(payload.Data)
}

func (l *DetectionLog) OnShare(_ sensor.Type, payloads []sensor.Payload, _ sensor.TargetIdentifier) error {
	for _, p := range payloads {
		if err := l.observe(p.Data); err != nil {
			return err
		}
	}
	return nil
}
