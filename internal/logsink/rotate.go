package logsink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// rotatingWriter is a small size-rotating file writer in the style of
// Python's RotatingFileHandler: once a write would push the file past
// maxBytes, the current file is renamed .1 (shifting older backups up to
// .2, .3, ... and dropping anything past backupCount) and a fresh file is
// opened in its place.
//
// No library in this codebase's dependency surface provides this (the
// corpus has nothing resembling lumberjack or a rotation package), so
// this is intentionally plain stdlib: os.Rename plus os.OpenFile.
type rotatingWriter struct {
	mu          sync.Mutex
	path        string
	maxBytes    int64
	backupCount int
	size        int64
	file        *os.File
}

func newRotatingWriter(path string, maxBytes int64, backupCount int) (*rotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &rotatingWriter{
		path:        path,
		maxBytes:    maxBytes,
		backupCount: backupCount,
		size:        info.Size(),
		file:        f,
	}, nil
}

func (w *rotatingWriter) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	payload := []byte(line + "\n")
	if w.maxBytes > 0 && w.size+int64(len(payload)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	n, err := w.file.Write(payload)
	w.size += int64(n)
	return err
}

func (w *rotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close %s before rotation: %w", w.path, err)
	}

	for i := w.backupCount - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", w.path, i)
		dst := fmt.Sprintf("%s.%d", w.path, i+1)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, dst)
		}
	}
	if w.backupCount > 0 {
		_ = os.Rename(w.path, w.path+".1")
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reopen %s after rotation: %w", w.path, err)
	}
	w.file = f
	w.size = 0
	return nil
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
