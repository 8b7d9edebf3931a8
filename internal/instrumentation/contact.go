package instrumentation

import (
	"encoding/base64"
	"strconv"
	"time"

	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/danmuck/bluetrace/internal/sensor"
)

const contactTimeFormat = "2006-01-02 15:04:05"

// ContactLog appends one row per detect, read, measure, share, visit and
// receive event. The column matching the event carries a 1.
type ContactLog struct {
	file *textFile
	now  func() time.Time
}

func NewContactLog(dir, filename string) (*ContactLog, error) {
	f, err := newTextFile(dir, filename, "time", "sensor", "id", "detect", "read", "measure", "share", "visit", "receive", "data")
	if err != nil {
		return nil, err
	}
	return &ContactLog{file: f, now: time.Now}, nil
}

func (l *ContactLog) Path() string {
	return l.file.Path()
}

const (
	colDetect = iota
	colRead
	colMeasure
	colShare
	colVisit
	colReceive
	eventCols
)

func (l *ContactLog) row(s sensor.Type, target string, col int, data string) error {
	r := make([]string, 0, 4+eventCols)
	r = append(r, l.now().Format(contactTimeFormat), string(s), target)
	for i := 0; i < eventCols; i++ {
		if i == col {
			r = append(r, "1")
		} else {
			r = append(r, "")
		}
	}
	r = append(r, data)
	return l.file.append(r)
}

func (l *ContactLog) OnStateChange(sensor.Type, sensor.State) error {
	return nil
}

func (l *ContactLog) OnDetect(s sensor.Type, target sensor.TargetIdentifier) error {
	return l.row(s, target.String(), colDetect, "")
}

func (l *ContactLog) OnRead(s sensor.Type, payload sensor.Payload, target sensor.TargetIdentifier) error {
	return l.row(s, target.String(), colRead, envelope.ShortName(payload.Data))
}

func (l *ContactLog) OnMeasure(s sensor.Type, proximity sensor.Proximity, target sensor.TargetIdentifier, payload *sensor.Payload) error {
	data := proximity.String()
	if payload != nil {
		data += "|" + envelope.ShortName(payload.Data)
	}
	return l.row(s, target.String(), colMeasure, data)
}

func (l *ContactLog) OnShare(s sensor.Type, payloads []sensor.Payload, target sensor.TargetIdentifier) error {
	data := ""
	for i, p := range payloads {
		if i > 0 {
			data += ";"
		}
		data += envelope.ShortName(p.Data)
	}
	return l.row(s, target.String(), colShare, data)
}

func (l *ContactLog) OnVisit(s sensor.Type, location *sensor.Location) error {
	return l.row(s, "", colVisit, location.String())
}

func (l *ContactLog) OnReceive(s sensor.Type, data []byte, target sensor.TargetIdentifier) error {
	return l.row(s, target.String(), colReceive, base64.StdEncoding.EncodeToString(data)+"|"+strconv.Itoa(len(data)))
}
