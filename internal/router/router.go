// Package router fans sensor events out to an ordered list of sinks.
package router

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/danmuck/bluetrace/internal/logging"
	"github.com/danmuck/bluetrace/internal/observability"
	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/danmuck/bluetrace/internal/sensor"
)

// Event names used in sink failure reports and metrics.
const (
	EventStateChange = "stateChange"
	EventDetect      = "detect"
	EventRead        = "read"
	EventMeasure     = "measure"
	EventShare       = "share"
	EventVisit       = "visit"
	EventReceive     = "receive"
)

var ErrUnparseablePayload = errors.New("router: payload failed to parse")

// SinkError reports one sink failing for one event.
type SinkError struct {
	Event string
	Index int
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("router: sink[%d] %s: %v", e.Index, e.Event, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

type Option func(*Router)

// WithCodec enables payload normalization: native payloads are unwrapped to
// their embedded temp-id bytes before they reach the sinks.
func WithCodec(codec *envelope.Codec) Option {
	return func(r *Router) {
		r.codec = codec
	}
}

// WithLogger sets the logger category used for router log lines.
func WithLogger(l *logging.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// Router is itself a sensor.Delegate. The sink list is copied at construction
// and never changes, so delivery is safe from any number of goroutines.
type Router struct {
	sinks  []sensor.Delegate
	codec  *envelope.Codec
	logger *logging.Logger
}

func New(sinks []sensor.Delegate, opts ...Option) *Router {
	r := &Router{
		sinks:  append([]sensor.Delegate(nil), sinks...),
		logger: logging.New("Herald", "SensorArray"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Len() int {
	return len(r.sinks)
}

// deliver calls fn for every sink in order. Errors and panics are collected
// and never stop delivery to the remaining sinks.
func (r *Router) deliver(event string, fn func(sensor.Delegate) error) error {
	var errs []error
	for i, sink := range r.sinks {
		if err := safeCall(sink, fn); err != nil {
			observability.RecordSinkFailure(event)
			r.logger.Faultf("deliver,event=%s,sink=%d,error=%v", event, i, err)
			errs = append(errs, &SinkError{Event: event, Index: i, Err: err})
		}
	}
	return errors.Join(errs...)
}

func safeCall(sink sensor.Delegate, fn func(sensor.Delegate) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(sink)
}

// normalize returns the payload sinks should see. Legacy payloads pass
// through; native payloads are replaced by the decoded temp-id bytes.
func (r *Router) normalize(p sensor.Payload) (sensor.Payload, error) {
	if r.codec == nil || p.IsLegacy() {
		return p, nil
	}
	decoded, err := r.codec.Decode(p.Data)
	if err != nil {
		return sensor.Payload{}, err
	}
	raw, err := base64.StdEncoding.DecodeString(decoded.TempID)
	if err != nil {
		return sensor.Payload{}, fmt.Errorf("%w: temp id is not base64", ErrUnparseablePayload)
	}
	return sensor.Native(raw), nil
}

func (r *Router) OnStateChange(s sensor.Type, state sensor.State) error {
	r.logger.Debugf("%s,didUpdateState=%s", s, state)
	return r.deliver(EventStateChange, func(d sensor.Delegate) error {
		return d.OnStateChange(s, state)
	})
}

func (r *Router) OnDetect(s sensor.Type, target sensor.TargetIdentifier) error {
	r.logger.Debugf("%s,didDetect=%s", s, target)
	return r.deliver(EventDetect, func(d sensor.Delegate) error {
		return d.OnDetect(s, target)
	})
}

// OnRead drops the whole event, for every sink, when a native payload fails
// to decode.
func (r *Router) OnRead(s sensor.Type, payload sensor.Payload, target sensor.TargetIdentifier) error {
	normalized, err := r.normalize(payload)
	if err != nil {
		observability.RecordPayloadRejected("router", EventRead)
		r.logger.Faultf("%s,didRead=%s,fromTarget=%s,error=failedToParse", s, base64.StdEncoding.EncodeToString(payload.Data), target)
		return nil
	}
	r.logger.Debugf("%s,didRead=%s,fromTarget=%s", s, envelope.ShortName(normalized.Data), target)
	return r.deliver(EventRead, func(d sensor.Delegate) error {
		return d.OnRead(s, normalized, target)
	})
}

// OnMeasure normalizes an attached payload the same way OnRead does and drops
// the event when it fails to decode.
func (r *Router) OnMeasure(s sensor.Type, proximity sensor.Proximity, target sensor.TargetIdentifier, payload *sensor.Payload) error {
	var forwarded *sensor.Payload
	if payload != nil {
		normalized, err := r.normalize(*payload)
		if err != nil {
			observability.RecordPayloadRejected("router", EventMeasure)
			r.logger.Faultf("%s,didMeasure=%s,fromTarget=%s,withPayload=%s,error=failedToParse", s, proximity, target, base64.StdEncoding.EncodeToString(payload.Data))
			return nil
		}
		forwarded = &normalized
	}
	r.logger.Debugf("%s,didMeasure=%s,fromTarget=%s", s, proximity, target)
	return r.deliver(EventMeasure, func(d sensor.Delegate) error {
		if forwarded == nil {
			return d.OnMeasure(s, proximity, target, nil)
		}
		p := *forwarded
		return d.OnMeasure(s, proximity, target, &p)
	})
}

// OnShare normalizes each payload, keeping the original when it fails to decode.
func (r *Router) OnShare(s sensor.Type, payloads []sensor.Payload, target sensor.TargetIdentifier) error {
	shared := make([]sensor.Payload, len(payloads))
	for i, p := range payloads {
		if normalized, err := r.normalize(p); err == nil {
			shared[i] = normalized
		} else {
			shared[i] = p
		}
	}
	r.logger.Debugf("%s,didShare=%d,fromTarget=%s", s, len(shared), target)
	return r.deliver(EventShare, func(d sensor.Delegate) error {
		return d.OnShare(s, append([]sensor.Payload(nil), shared...), target)
	})
}

func (r *Router) OnVisit(s sensor.Type, location *sensor.Location) error {
	r.logger.Debugf("%s,didVisit=%s", s, location)
	return r.deliver(EventVisit, func(d sensor.Delegate) error {
		return d.OnVisit(s, location)
	})
}

func (r *Router) OnReceive(s sensor.Type, data []byte, target sensor.TargetIdentifier) error {
	r.logger.Debugf("%s,didReceive=%d,fromTarget=%s", s, len(data), target)
	return r.deliver(EventReceive, func(d sensor.Delegate) error {
		return d.OnReceive(s, data, target)
	})
}
