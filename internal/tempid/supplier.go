package tempid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/bluetrace/internal/logging"
	"github.com/danmuck/bluetrace/internal/observability"
	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/danmuck/bluetrace/internal/protocol/legacy"
)

// DefaultRefreshInterval matches the reference deployment.
const DefaultRefreshInterval = 2 * time.Second

var ErrMissingRSSI = errors.New("tempid: device rssi unavailable")

// Config controls refresh cadence and the values embedded in payloads.
type Config struct {
	RefreshInterval time.Duration
	Model           string
	OrgID           int
	ProtocolVersion int
}

// Device is the remote device a payload is built for. Nil fields are unknown.
type Device struct {
	TxPower *float64
	RSSI    *float64
}

// Supplier refreshes the cache on a fixed schedule and encodes payloads from it.
type Supplier struct {
	cache   *Cache
	fetcher Fetcher
	codec   *envelope.Codec
	cfg     Config
	logger  *logging.Logger
}

func NewSupplier(fetcher Fetcher, codec *envelope.Codec, cfg Config) *Supplier {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	return &Supplier{
		cache:   &Cache{},
		fetcher: fetcher,
		codec:   codec,
		cfg:     cfg,
		logger:  logging.New("Herald", "BluetracePayloadDataSupplier"),
	}
}

func (s *Supplier) Cache() *Cache {
	return s.cache
}

// Current returns the cached temp-id.
func (s *Supplier) Current() (string, bool) {
	return s.cache.Load()
}

// Refresh fetches once. A changed value replaces the cache; an unchanged value
// or a failed fetch leaves it as is.
func (s *Supplier) Refresh(ctx context.Context) (bool, error) {
	id, err := s.fetcher.FetchTempID(ctx)
	if err == nil && id.Value == "" {
		err = ErrNoValue
	}
	if err != nil {
		observability.RecordTempIDRefresh("failed")
		return false, err
	}

	current, ok := s.cache.Load()
	if ok && current == id.Value {
		observability.RecordTempIDRefresh("unchanged")
		return false, nil
	}
	s.cache.Swap(id.Value)
	observability.RecordTempIDRefresh("changed")

	from := "nil"
	if ok {
		from = current
	}
	s.logger.Debugf("tempId updated (from=%s,to=%s)", from, id.Value)
	return true, nil
}

// Run refreshes immediately and then every RefreshInterval until ctx is done.
func (s *Supplier) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Supplier) tick(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil && !errors.Is(err, ErrNoValue) && ctx.Err() == nil {
		s.logger.Debugf("tempId refresh failed (error=%v)", err)
	}
}

// Payload encodes the advertising envelope for device. It fails with
// envelope.ErrMissingTempID until the first successful refresh; callers skip
// the cycle rather than wait.
func (s *Supplier) Payload(device Device) ([]byte, error) {
	id, ok := s.cache.Load()
	if !ok {
		s.logger.Fault("payload, missing tempId")
		return nil, envelope.ErrMissingTempID
	}
	var txPower, rssi float64
	if device.TxPower != nil {
		txPower = *device.TxPower
	}
	if device.RSSI != nil {
		rssi = *device.RSSI
	}
	return s.codec.Encode(id, s.cfg.Model, clampUint16(txPower), clampInt8(rssi))
}

// LegacyPayload encodes the JSON write for devices that only speak the legacy
// protocol. It needs both a cached temp-id and the device rssi.
func (s *Supplier) LegacyPayload(device Device) ([]byte, error) {
	id, ok := s.cache.Load()
	if !ok {
		return nil, envelope.ErrMissingTempID
	}
	if device.RSSI == nil {
		return nil, ErrMissingRSSI
	}
	b, err := legacy.EncodeCentralWriteV2(legacy.CentralWriteDataV2{
		MC: s.cfg.Model,
		RS: *device.RSSI,
		ID: id,
		O:  s.cfg.OrgID,
		V:  s.cfg.ProtocolVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("legacy payload: %w", err)
	}
	return b, nil
}
