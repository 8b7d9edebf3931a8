package instrumentation

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// textFile serializes writes to one CSV file in the instrumentation directory.
type textFile struct {
	mu     sync.Mutex
	path   string
	header []string
}

func newTextFile(dir, filename string, header ...string) (*textFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("instrumentation dir (%s): %w", dir, err)
	}
	return &textFile{path: filepath.Join(dir, filename), header: header}, nil
}

func (f *textFile) Path() string {
	return f.path
}

// append adds rows, writing the header first when the file is new or empty.
func (f *textFile) append(rows ...[]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	needHeader := false
	if info, err := os.Stat(f.path); err != nil || info.Size() == 0 {
		needHeader = len(f.header) > 0
	}
	out, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.path, err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if needHeader {
		if err := w.Write(f.header); err != nil {
			return err
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

// overwrite replaces the file contents with the header and rows.
func (f *textFile) overwrite(rows ...[]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(f.header) > 0 {
		if err := w.Write(f.header); err != nil {
			return err
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	return nil
}
