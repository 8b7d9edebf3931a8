package instrumentation

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/bluetrace/internal/encounter"
	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/danmuck/bluetrace/internal/router"
	"github.com/danmuck/bluetrace/internal/sensor"
	"github.com/danmuck/bluetrace/internal/testutil/testlog"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	rows, err := csv.NewReader(bytes.NewReader(b)).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return rows
}

func TestDeviceSpecificPayloadData(t *testing.T) {
	got := DeviceSpecificPayloadData("pixel:Pixel 7:android:14")
	want := []byte{0, 0, 0, 0x13, 0xf0, 0xea, 0xcc}
	if !bytes.Equal(got, want) {
		t.Fatalf("payload=%x want %x", got, want)
	}
	if !bytes.Equal(got, DeviceSpecificPayloadData("pixel:Pixel 7:android:14")) {
		t.Fatalf("payload not stable")
	}
	if bytes.Equal(got, DeviceSpecificPayloadData("pixel:Pixel 8:android:14")) {
		t.Fatalf("different devices share a payload")
	}
	if got := DeviceSpecificPayloadData(""); len(got) != 7 {
		t.Fatalf("unexpected length %d", len(got))
	}
}

func TestContactLogRows(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	l, err := NewContactLog(dir, ContactsFile)
	if err != nil {
		t.Fatalf("new contact log: %v", err)
	}
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	payload := sensor.Native([]byte{0, 0, 0, 0x13, 0xf0, 0xea, 0xcc})
	if err := l.OnDetect(sensor.TypeBLE, "t1"); err != nil {
		t.Fatalf("detect: %v", err)
	}
	if err := l.OnRead(sensor.TypeBLE, payload, "t1"); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := l.OnMeasure(sensor.TypeBLE, sensor.Proximity{Unit: sensor.UnitRSSI, Value: -60}, "t1", nil); err != nil {
		t.Fatalf("measure: %v", err)
	}

	rows := readCSV(t, l.Path())
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "time" || rows[0][len(rows[0])-1] != "data" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][3] != "1" || rows[1][4] != "" {
		t.Fatalf("detect row wrong: %v", rows[1])
	}
	if rows[2][4] != "1" || rows[2][9] != "E/DqzA" {
		t.Fatalf("read row wrong: %v", rows[2])
	}
	if rows[3][5] != "1" || rows[3][9] != "RSSI:-60.0" || rows[3][0] != "2026-01-02 03:04:05" {
		t.Fatalf("measure row wrong: %v", rows[3])
	}
}

func TestDetectionLogRewritesDistinctPayloads(t *testing.T) {
	testlog.Start(t)

	self := DeviceSpecificPayloadData("self")
	l, err := NewDetectionLog(t.TempDir(), DetectionFile, "node-1", self)
	if err != nil {
		t.Fatalf("new detection log: %v", err)
	}
	other := sensor.Native(DeviceSpecificPayloadData("other"))
	for i := 0; i < 3; i++ {
		if err := l.OnRead(sensor.TypeBLE, other, "t1"); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if err := l.OnRead(sensor.TypeBLE, sensor.Native(self), "t2"); err != nil {
		t.Fatalf("read self: %v", err)
	}

	if seen := l.Seen(); len(seen) != 1 {
		t.Fatalf("expected one distinct payload, got %v", seen)
	}
	rows := readCSV(t, l.Path())
	if len(rows) != 1 || len(rows[0]) != 3 || rows[0][0] != "node-1" {
		t.Fatalf("unexpected detection file %v", rows)
	}
}

func TestStatisticsLogCountsReads(t *testing.T) {
	testlog.Start(t)

	l, err := NewStatisticsLog(t.TempDir(), StatisticsFile)
	if err != nil {
		t.Fatalf("new statistics log: %v", err)
	}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time {
		at = at.Add(2 * time.Second)
		return at
	}
	p := sensor.Native(DeviceSpecificPayloadData("other"))
	for i := 0; i < 3; i++ {
		if err := l.OnRead(sensor.TypeBLE, p, "t1"); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	rows := readCSV(t, l.Path())
	if len(rows) != 2 {
		t.Fatalf("expected header and one row, got %v", rows)
	}
	row := rows[1]
	if row[1] != "3" || row[2] != "2.000" || row[3] != "0.000" || row[4] != "2.000" || row[5] != "2.000" {
		t.Fatalf("unexpected stats row %v", row)
	}
}

func TestConcurrentRewritesKeepLatestSnapshot(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	detection, err := NewDetectionLog(dir, DetectionFile, "node-1", DeviceSpecificPayloadData("self"))
	if err != nil {
		t.Fatalf("new detection log: %v", err)
	}
	stats, err := NewStatisticsLog(dir, StatisticsFile)
	if err != nil {
		t.Fatalf("new statistics log: %v", err)
	}
	shared := sensor.Native(DeviceSpecificPayloadData("shared"))

	const workers, rounds = 16, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				peer := sensor.Native(DeviceSpecificPayloadData(fmt.Sprintf("peer-%d-%d", w, r)))
				if err := detection.OnRead(sensor.TypeBLE, peer, "t1"); err != nil {
					t.Errorf("detection read: %v", err)
				}
				if err := stats.OnRead(sensor.TypeBLE, shared, "t1"); err != nil {
					t.Errorf("statistics read: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	rows := readCSV(t, detection.Path())
	if len(rows) != 1 || len(rows[0]) != 2+len(detection.Seen()) {
		t.Fatalf("detection file is stale: cols=%d seen=%d", len(rows[0]), len(detection.Seen()))
	}
	rows = readCSV(t, stats.Path())
	want := strconv.Itoa(workers * rounds)
	if len(rows) != 2 || rows[1][1] != want {
		t.Fatalf("statistics file is stale: %v want count %s", rows, want)
	}
}

type failingStore struct{}

func (failingStore) Save(encounter.Record) error { return errors.New("disk full") }

func TestReplayStoreReplaysSavedEncounters(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	suite, err := NewSuite(dir, "node-1", DeviceSpecificPayloadData("self"))
	if err != nil {
		t.Fatalf("new suite: %v", err)
	}
	mem := encounter.NewMemoryStore()
	store := NewReplayStore(mem, router.New(suite.Sinks()))

	raw := DeviceSpecificPayloadData("other")
	rec := encounter.Record{
		Timestamp: time.Now(),
		TempID:    base64.StdEncoding.EncodeToString(raw),
		RSSI:      -55,
	}
	if err := store.Save(rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if mem.Len() != 1 {
		t.Fatalf("record not saved through")
	}
	if n := suite.Statistics.Count(envelope.ShortName(raw)); n != 1 {
		t.Fatalf("unexpected statistics count %d", n)
	}
	if seen := suite.Detection.Seen(); len(seen) != 1 {
		t.Fatalf("detection did not see replayed payload: %v", seen)
	}
	rows := readCSV(t, suite.Contacts.Path())
	if len(rows) != 5 {
		t.Fatalf("expected header plus detect, read and two measures, got %d", len(rows))
	}
	if !strings.HasSuffix(rows[4][9], "|"+rows[2][9]) {
		t.Fatalf("measure with payload row missing payload: %v", rows[4])
	}

	list, err := store.List(10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v err=%v", list, err)
	}

	failing := NewReplayStore(failingStore{}, router.New(suite.Sinks()))
	if err := failing.Save(rec); err == nil {
		t.Fatalf("expected store error")
	}
	if rows := readCSV(t, filepath.Join(dir, ContactsFile)); len(rows) != 5 {
		t.Fatalf("failed save was replayed")
	}
	if _, err := failing.List(1); err == nil {
		t.Fatalf("expected list error for non-lister store")
	}
}
