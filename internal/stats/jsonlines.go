// Package stats provides the non-core observability surface: a
// JSON-lines telemetry sink and the sender's periodic human-readable
// bandwidth/RTT/loss report.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// JSONLineWriter appends one JSON object per call as its own line,
// the Go equivalent of the reference implementation's json_writer
// (reset/field/finalize/dump cycle collapsed into a single Encode).
type JSONLineWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLineWriter opens path for appending, creating it if absent.
func NewJSONLineWriter(path string) (*JSONLineWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("stats: open %s: %w", path, err)
	}
	return &JSONLineWriter{file: f, enc: json.NewEncoder(f)}, nil
}

// WriteLine marshals v and appends it as one line. Safe for
// concurrent use: writes are serialized by a mutex.
func (w *JSONLineWriter) WriteLine(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("stats: write line: %w", err)
	}
	return nil
}

func (w *JSONLineWriter) Close() error {
	return w.file.Close()
}
