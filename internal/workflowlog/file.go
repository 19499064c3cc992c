package workflowlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// FileSink appends entries as JSON lines to a single file. Each Append call
// is written with one write so a batch is never split by a concurrent writer.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink returns a sink writing to path. The file is created on first
// append.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Append(_ context.Context, entries []model.WorkflowLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("workflowlog: encode entry %s: %w", e.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path comes from operator config
	if err != nil {
		return fmt.Errorf("workflowlog: open %s: %w", s.path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("workflowlog: write %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("workflowlog: close %s: %w", s.path, err)
	}
	return nil
}

// Query scans the whole file. A missing file has no entries.
func (s *FileSink) Query(_ context.Context, f model.LogFilter) ([]model.WorkflowLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []model.WorkflowLogEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workflowlog: open %s: %w", s.path, err)
	}
	defer func() { _ = file.Close() }()

	var all []model.WorkflowLogEntry
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e model.WorkflowLogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("workflowlog: decode %s: %w", s.path, err)
		}
		all = append(all, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("workflowlog: scan %s: %w", s.path, err)
	}
	return filterEntries(all, f), nil
}
