package node

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/bluetrace/internal/encounter"
	"github.com/danmuck/bluetrace/internal/instrumentation"
	"github.com/danmuck/bluetrace/internal/logging"
	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/danmuck/bluetrace/internal/sensor"
	"github.com/danmuck/bluetrace/internal/tempid"
	"github.com/danmuck/bluetrace/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func testConfig(t *testing.T) ServiceConfig {
	t.Helper()
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	cfg := DefaultServiceConfig()
	cfg.NodeID = "tracectl.test"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.TestMode = true
	cfg.InstrumentationDir = filepath.Join(t.TempDir(), "instrumentation")
	return cfg
}

func TestBootstrapWiresMeasurementToStoreAndInstrumentation(t *testing.T) {
	cfg := testConfig(t)
	svc := NewServiceWithConfig(cfg)
	if err := svc.bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if svc.array.Len() != 2 {
		t.Fatalf("expected dispatcher and instrumentation sinks, got %d", svc.array.Len())
	}

	other := instrumentation.DeviceSpecificPayloadData("other")
	b, err := envelope.NewCodec(cfg.Header).Encode(base64.StdEncoding.EncodeToString(other), "Pixel", 0, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p := sensor.Native(b)
	if err := svc.Array().OnMeasure(sensor.TypeBLE, sensor.Proximity{Unit: sensor.UnitRSSI, Value: -58}, "t1", &p); err != nil {
		t.Fatalf("measure: %v", err)
	}

	list, err := svc.store.(encounter.Lister).List(0)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one stored encounter, got %d err=%v", len(list), err)
	}
	if list[0].Model != "Pixel" || list[0].RSSI != -58 || list[0].OrgID != cfg.OrgID {
		t.Fatalf("unexpected record %+v", list[0])
	}
	if seen := svc.suite.Detection.Seen(); len(seen) != 1 || seen[0] != envelope.ShortName(other) {
		t.Fatalf("instrumentation did not see payload: %v", seen)
	}
	if _, err := os.Stat(svc.suite.Contacts.Path()); err != nil {
		t.Fatalf("contacts log missing: %v", err)
	}
	logging.Infof("node/bootstrap: measurement stored and instrumented payload=%s", envelope.ShortName(other))
}

func TestBootstrapHTTPSurface(t *testing.T) {
	svc := NewServiceWithConfig(testConfig(t))
	if err := svc.bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	get := func(path string) int {
		rr := httptest.NewRecorder()
		svc.Server().HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr.Code
	}
	if code := get("/payload"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before first refresh, got %d", code)
	}
	if _, err := svc.Supplier().Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if code := get("/payload"); code != http.StatusOK {
		t.Fatalf("expected 200 after refresh, got %d", code)
	}
	if code := get("/encounters"); code != http.StatusOK {
		t.Fatalf("expected encounters listing, got %d", code)
	}
	if svc.Server().NodeID() != "tracectl.test" || svc.Server().Kind() != "tracer" {
		t.Fatalf("unexpected node identity")
	}
}

func TestBootstrapSQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorePath = filepath.Join(t.TempDir(), "db", "encounters.db")
	svc := NewServiceWithConfig(cfg)
	if err := svc.bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer svc.closeStore()
	if _, ok := svc.store.(*encounter.SQLiteStore); !ok {
		t.Fatalf("expected sqlite store, got %T", svc.store)
	}
}

func TestBootstrapRequiresIdentityService(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	if err := NewServiceWithConfig(cfg).bootstrap(); !errors.Is(err, ErrNoIdentityService) {
		t.Fatalf("expected ErrNoIdentityService, got %v", err)
	}

	svc := NewServiceWithConfig(cfg, WithFetcher(tempid.StaticFetcher{Value: "SUQx"}))
	if err := svc.bootstrap(); err != nil {
		t.Fatalf("bootstrap with fetcher: %v", err)
	}
	if svc.suite != nil {
		t.Fatalf("instrumentation enabled outside test mode")
	}

	cfg.RefreshInterval = 0
	if err := NewServiceWithConfig(cfg).bootstrap(); !errors.Is(err, ErrInvalidRefreshInterval) {
		t.Fatalf("expected ErrInvalidRefreshInterval, got %v", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.RefreshInterval = 10 * time.Millisecond
	svc := NewServiceWithConfig(cfg)

	if err := svc.bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := svc.Supplier().Current(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("supplier never refreshed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("service did not stop")
	}
}

func TestRunContextReportsListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.ListenAddr = ln.Addr().String()
	err = NewServiceWithConfig(cfg).RunContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "tracectl.test") {
		t.Fatalf("expected listen error, got %v", err)
	}
}
