package instrumentation

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/danmuck/bluetrace/internal/sensor"
)

// intervalStats accumulates read intervals in seconds.
type intervalStats struct {
	last  time.Time
	count int
	n     int
	mean  float64
	m2    float64
	min   float64
	max   float64
}

func (s *intervalStats) add(at time.Time) {
	s.count++
	if !s.last.IsZero() {
		x := at.Sub(s.last).Seconds()
		s.n++
		if s.n == 1 || x < s.min {
			s.min = x
		}
		if s.n == 1 || x > s.max {
			s.max = x
		}
		d := x - s.mean
		s.mean += d / float64(s.n)
		s.m2 += d * (x - s.mean)
	}
	s.last = at
}

func (s *intervalStats) sd() float64 {
	if s.n < 2 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.n-1))
}

// StatisticsLog tracks how often each payload is read and rewrites a summary
// row per payload after every read.
type StatisticsLog struct {
	sensor.NopDelegate

	file *textFile
	now  func() time.Time

	mu    sync.Mutex
	stats map[string]*intervalStats
}

func NewStatisticsLog(dir, filename string) (*StatisticsLog, error) {
	f, err := newTextFile(dir, filename, "payload", "count", "mean", "sd", "min", "max")
	if err != nil {
		return nil, err
	}
	return &StatisticsLog{file: f, now: time.Now, stats: make(map[string]*intervalStats)}, nil
}

func (l *StatisticsLog) Path() string {
	return l.file.Path()
}

// Count returns how many reads were recorded for a payload short name.
func (l *StatisticsLog) Count(shortName string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.stats[shortName]; ok {
		return s.count
	}
	return 0
}

func (l *StatisticsLog) OnRead(_ sensor.Type, payload sensor.Payload, _ sensor.TargetIdentifier) error {
	name := envelope.ShortName(payload.Data)
	if name == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stats[name]
	if !ok {
		s = &intervalStats{}
		l.stats[name] = s
	}
	s.add(l.now())
	return l.file.overwrite(l.rowsLocked()...)
}

func (l *StatisticsLog) rowsLocked() [][]string {
	names := make([]string, 0, len(l.stats))
	for k := range l.stats {
		names = append(names, k)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		s := l.stats[name]
		rows = append(rows, []string{
			name,
			strconv.Itoa(s.count),
			formatSeconds(s.mean),
			formatSeconds(s.sd()),
			formatSeconds(s.min),
			formatSeconds(s.max),
		})
	}
	return rows
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
