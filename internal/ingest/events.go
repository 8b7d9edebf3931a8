package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/bluetrace/internal/sensor"
	"github.com/gin-gonic/gin/binding"
)

// Event names accepted on /sensor/{event} and in stream frames.
const (
	EventState   = "state"
	EventDetect  = "detect"
	EventRead    = "read"
	EventMeasure = "measure"
	EventShare   = "share"
	EventVisit   = "visit"
	EventReceive = "receive"
)

var Events = []string{EventState, EventDetect, EventRead, EventMeasure, EventShare, EventVisit, EventReceive}

var ErrUnknownEvent = errors.New("ingest: unknown event")

func decode(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return binding.Validator.ValidateStruct(out)
}

// apply decodes one event body and delivers it to the sink. It returns the
// delivery error separately from a request error; a request error means the
// sink was never called.
func (s *Server) apply(event string, raw []byte) (sensor.TargetIdentifier, error, error) {
	switch event {
	case EventState:
		var req stateRequest
		if err := decode(raw, &req); err != nil {
			return "", nil, err
		}
		st, err := parseSensor(req.Sensor)
		if err != nil {
			return "", nil, err
		}
		state, err := parseState(req.State)
		if err != nil {
			return "", nil, err
		}
		return "", s.sink.OnStateChange(st, state), nil

	case EventDetect:
		var req detectRequest
		if err := decode(raw, &req); err != nil {
			return "", nil, err
		}
		st, err := parseSensor(req.Sensor)
		if err != nil {
			return "", nil, err
		}
		target := targetOrNew(req.Target)
		return target, s.sink.OnDetect(st, target), nil

	case EventRead:
		var req readRequest
		if err := decode(raw, &req); err != nil {
			return "", nil, err
		}
		st, err := parseSensor(req.Sensor)
		if err != nil {
			return "", nil, err
		}
		if len(req.Payload.Data) == 0 {
			return "", nil, errors.New("payload data is required")
		}
		target := targetOrNew(req.Target)
		return target, s.sink.OnRead(st, req.Payload.payload(), target), nil

	case EventMeasure:
		var req measureRequest
		if err := decode(raw, &req); err != nil {
			return "", nil, err
		}
		st, err := parseSensor(req.Sensor)
		if err != nil {
			return "", nil, err
		}
		proximity, err := req.proximity()
		if err != nil {
			return "", nil, err
		}
		var payload *sensor.Payload
		if req.Payload != nil {
			p := req.Payload.payload()
			payload = &p
		}
		target := targetOrNew(req.Target)
		return target, s.sink.OnMeasure(st, proximity, target, payload), nil

	case EventShare:
		var req shareRequest
		if err := decode(raw, &req); err != nil {
			return "", nil, err
		}
		st, err := parseSensor(req.Sensor)
		if err != nil {
			return "", nil, err
		}
		payloads := make([]sensor.Payload, 0, len(req.Payloads))
		for _, p := range req.Payloads {
			payloads = append(payloads, p.payload())
		}
		target := targetOrNew(req.Target)
		return target, s.sink.OnShare(st, payloads, target), nil

	case EventVisit:
		var req visitRequest
		if err := decode(raw, &req); err != nil {
			return "", nil, err
		}
		st, err := parseSensor(req.Sensor)
		if err != nil {
			return "", nil, err
		}
		var loc *sensor.Location
		if req.Location != nil {
			loc = &sensor.Location{
				Latitude:  req.Location.Latitude,
				Longitude: req.Location.Longitude,
				Altitude:  req.Location.Altitude,
			}
		}
		return "", s.sink.OnVisit(st, loc), nil

	case EventReceive:
		var req receiveRequest
		if err := decode(raw, &req); err != nil {
			return "", nil, err
		}
		st, err := parseSensor(req.Sensor)
		if err != nil {
			return "", nil, err
		}
		target := targetOrNew(req.Target)
		return target, s.sink.OnReceive(st, req.Data, target), nil

	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
}
