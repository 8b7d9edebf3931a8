package node

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/bluetrace/internal/encounter"
	"github.com/danmuck/bluetrace/internal/ingest"
	"github.com/danmuck/bluetrace/internal/instrumentation"
	"github.com/danmuck/bluetrace/internal/interop"
	"github.com/danmuck/bluetrace/internal/logging"
	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/danmuck/bluetrace/internal/router"
	"github.com/danmuck/bluetrace/internal/sensor"
	"github.com/danmuck/bluetrace/internal/tempid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidRefreshInterval = errors.New("node: invalid refresh interval")
	ErrNoIdentityService      = errors.New("node: no identity service configured")
)

// ServiceConfig configures a tracing node.
type ServiceConfig struct {
	NodeID             string
	ListenAddr         string
	CorsOrigins        []string
	DeviceModel        string
	OrgID              int
	ProtocolVersion    int
	RefreshInterval    time.Duration
	TestMode           bool
	LegacyInterop      bool
	IdentityURL        string
	StorePath          string
	InstrumentationDir string
	LogFile            string
	RateLimitPerMinute int
	Header             envelope.Header
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:          "tracectl",
		ListenAddr:      ":9300",
		DeviceModel:     "tracectl",
		OrgID:           1,
		ProtocolVersion: 2,
		RefreshInterval: tempid.DefaultRefreshInterval,
		LegacyInterop:   true,
		Header:          envelope.DefaultHeader(),
	}
}

var _ Node = (*ingest.Server)(nil)

type Option func(*Service)

// WithFetcher replaces the identity service client.
func WithFetcher(f tempid.Fetcher) Option {
	return func(s *Service) {
		s.fetcher = f
	}
}

// Service owns every component of a running node.
type Service struct {
	cfg     ServiceConfig
	fetcher tempid.Fetcher

	store      encounter.Store
	closeStore func() error
	codec      *envelope.Codec
	dispatcher *interop.Dispatcher
	suite      *instrumentation.Suite
	array      *router.Router
	supplier   *tempid.Supplier
	server     *ingest.Server
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig, opts ...Option) *Service {
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

// Array is the top-level delegate the sensing transport delivers to.
func (s *Service) Array() sensor.Delegate {
	return s.array
}

func (s *Service) Supplier() *tempid.Supplier {
	return s.supplier
}

func (s *Service) Server() *ingest.Server {
	return s.server
}

func (s *Service) bootstrap() error {
	if s.cfg.RefreshInterval <= 0 {
		return ErrInvalidRefreshInterval
	}
	if path := strings.TrimSpace(s.cfg.LogFile); path != "" {
		if err := ensureParent(path); err != nil {
			return err
		}
		base := logging.Base()
		if err := logging.Apply(logging.Config{Level: base.GetLevel(), Timestamp: true, File: path}); err != nil {
			return err
		}
	}

	s.codec = envelope.NewCodec(s.cfg.Header)
	if err := s.openStore(); err != nil {
		return err
	}

	devicePayload := instrumentation.DeviceSpecificPayloadData(instrumentation.DeviceDescription(s.cfg.DeviceModel))
	store := s.store
	var instrumented []sensor.Delegate
	if dir := s.instrumentationDir(); dir != "" {
		suite, err := instrumentation.NewSuite(dir, instrumentation.DeviceDescription(s.cfg.DeviceModel), devicePayload)
		if err != nil {
			return err
		}
		s.suite = suite
		instrumented = append(instrumented, router.New(
			suite.Sinks(),
			router.WithCodec(s.codec),
			router.WithLogger(logging.New("Herald", "HeraldTestInstrumentation")),
		))
		store = instrumentation.NewReplayStore(store, router.New(suite.Sinks()))
	}

	s.dispatcher = interop.NewDispatcher(
		s.codec,
		encounter.NewRecorder(store),
		interop.Config{
			OrgID:           s.cfg.OrgID,
			ProtocolVersion: s.cfg.ProtocolVersion,
			DisableLegacy:   !s.cfg.LegacyInterop,
		},
		interop.WithStateCallback(func(st sensor.State) {
			logging.Infof("node.Service sensor state=%s node_id=%q", st, s.cfg.NodeID)
		}),
	)
	s.array = router.New(append([]sensor.Delegate{s.dispatcher}, instrumented...))

	fetcher, err := s.identityService(devicePayload)
	if err != nil {
		return err
	}
	s.supplier = tempid.NewSupplier(fetcher, s.codec, tempid.Config{
		RefreshInterval: s.cfg.RefreshInterval,
		Model:           s.cfg.DeviceModel,
		OrgID:           s.cfg.OrgID,
		ProtocolVersion: s.cfg.ProtocolVersion,
	})

	opts := []ingest.Option{
		ingest.WithPayloads(s.supplier),
		ingest.WithRateLimit(s.cfg.RateLimitPerMinute),
	}
	if lister, ok := store.(encounter.Lister); ok {
		opts = append(opts, ingest.WithEncounters(lister))
	}
	s.server = ingest.New(ingest.Config{
		ID:          s.cfg.NodeID,
		Addr:        s.cfg.ListenAddr,
		CorsOrigins: s.cfg.CorsOrigins,
	}, s.array, opts...)

	logging.Infof(
		"node.Service.bootstrap ready node_id=%q addr=%q test_mode=%t legacy=%t sinks=%d payload=%s",
		s.cfg.NodeID,
		s.cfg.ListenAddr,
		s.cfg.TestMode,
		s.cfg.LegacyInterop,
		s.array.Len(),
		envelope.ShortName(devicePayload),
	)
	return nil
}

func (s *Service) openStore() error {
	path := strings.TrimSpace(s.cfg.StorePath)
	if path == "" {
		s.store = encounter.NewMemoryStore()
		s.closeStore = func() error { return nil }
		return nil
	}
	if err := ensureParent(path); err != nil {
		return err
	}
	db, err := encounter.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	s.store = db
	s.closeStore = db.Close
	return nil
}

// instrumentationDir is the configured directory, or local/instrumentation in
// test mode.
func (s *Service) instrumentationDir() string {
	if dir := strings.TrimSpace(s.cfg.InstrumentationDir); dir != "" {
		return dir
	}
	if s.cfg.TestMode {
		return filepath.Join("local", "instrumentation")
	}
	return ""
}

// identityService picks the temp-id source. Test mode hands out the device
// payload as a fixed temp-id.
func (s *Service) identityService(devicePayload []byte) (tempid.Fetcher, error) {
	switch {
	case s.fetcher != nil:
		return s.fetcher, nil
	case s.cfg.TestMode:
		return tempid.StaticFetcher{Value: base64.StdEncoding.EncodeToString(devicePayload)}, nil
	case strings.TrimSpace(s.cfg.IdentityURL) != "":
		return tempid.NewHTTPFetcher(s.cfg.IdentityURL), nil
	default:
		return nil, ErrNoIdentityService
	}
}

func (s *Service) serve(ctx context.Context) error {
	defer func() {
		if err := s.closeStore(); err != nil {
			logging.Warnf("node.Service.serve store close failed err=%v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.supplier.Run(gctx)
	})
	g.Go(func() error {
		return s.server.Serve(gctx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("node %s: %w", s.cfg.NodeID, err)
	}
	logging.Infof("node.Service.serve stopped node_id=%q", s.cfg.NodeID)
	return nil
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir (%s): %w", dir, err)
	}
	return nil
}
