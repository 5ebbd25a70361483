// Copyright 2025 James Ross

// Package audit records master-scoped destructive operations (queue
// pause/resume/clean, application CRUD) to a rotating append-only log,
// adapted from the teacher's internal/admin-api/audit.go AuditLogger for
// this engine's HTTP surface (spec §5 supplement: "Audit log for
// admin-scoped destructive ops").
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Result    string                 `json:"result"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Logger writes audit entries to an append-only file with size-based
// rotation, the way the teacher's admin-api does.
type Logger struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	maxSize     int64
	maxBackups  int
	currentSize int64
}

// New opens (or creates) the audit log at path. maxSize is the rotation
// threshold in bytes; maxBackups bounds how many rotated files are kept.
func New(path string, maxSize int64, maxBackups int) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}
	if maxSize <= 0 {
		maxSize = 10 << 20 // 10MiB
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}
	return &Logger{file: file, path: path, maxSize: maxSize, maxBackups: maxBackups, currentSize: stat.Size()}, nil
}

// Log appends entry, rotating the file first if it would exceed maxSize.
func (l *Logger) Log(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}
	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	l.currentSize += int64(n)
	return nil
}

func (l *Logger) rotate() error {
	l.file.Close()
	backup := fmt.Sprintf("%s.%s", l.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(l.path, backup); err != nil {
		return err
	}
	l.cleanupBackups()
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = file
	l.currentSize = 0
	return nil
}

func (l *Logger) cleanupBackups() {
	matches, err := filepath.Glob(l.path + ".*")
	if err != nil || len(matches) <= l.maxBackups {
		return
	}
	sort.Slice(matches, func(i, j int) bool {
		si, _ := os.Stat(matches[i])
		sj, _ := os.Stat(matches[j])
		if si == nil || sj == nil {
			return false
		}
		return si.ModTime().Before(sj.ModTime())
	})
	for _, path := range matches[:len(matches)-l.maxBackups] {
		os.Remove(path)
	}
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
