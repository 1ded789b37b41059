// Package translog stores the raw output of every transfer in a per-target,
// optionally compressed log file next to the spool.
package translog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-spool/pkg/plog"
	"github.com/paulschiretz/pgl-spool/pkg/util"
)

const (
	logSuffix       = ".log"
	timestampLayout = "20060102T150405Z"
)

// Writer is a concurrency-safe sink for one transfer's output. stdout and
// stderr of the transport are copied into it from separate goroutines.
type Writer struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	buf        *bufio.Writer
	compressed io.WriteCloser
	out        io.Writer
	written    uint64
}

// FileName returns the log file name for a target and start time.
func FileName(targetName string, startUTC time.Time, format Format) string {
	return targetName + "-" + startUTC.UTC().Format(timestampLayout) + logSuffix + format.Ext()
}

// Create opens a new transfer log in dir.
func Create(dir, targetName string, startUTC time.Time, format Format) (*Writer, error) {
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create transfer log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(targetName, startUTC, format))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, util.UserWritableFilePerms)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer log %s: %w", path, err)
	}

	w := &Writer{path: path, file: f, buf: bufio.NewWriter(f)}
	switch format {
	case Zstd:
		zw, err := zstd.NewWriter(w.buf, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w.compressed = zw
		w.out = zw
	case Gzip:
		gw, err := pgzip.NewWriterLevel(w.buf, pgzip.BestSpeed)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		w.compressed = gw
		w.out = gw
	default:
		w.out = w.buf
	}
	return w, nil
}

// Path of the log file.
func (w *Writer) Path() string { return w.path }

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.out.Write(p)
	w.written += uint64(n)
	return n, err
}

// Close flushes all layers and closes the file.
func (w *Writer) Close() (retErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	defer func() {
		if err := w.file.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("transfer log close failed: %w", err)
		}
	}()
	if w.compressed != nil {
		if err := w.compressed.Close(); err != nil {
			return fmt.Errorf("compressed writer close failed: %w", err)
		}
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("buffered writer flush failed: %w", err)
	}
	plog.Debug("Transfer log written", "path", w.path, "size", humanize.Bytes(w.written))
	return nil
}

// Open returns a reader over the decompressed content of a log file.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, Gzip.Ext()):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &stackedReadCloser{Reader: gz, closers: []io.Closer{gz, f}}, nil
	case strings.HasSuffix(path, Zstd.Ext()):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return &stackedReadCloser{Reader: zr, closers: []io.Closer{zr.IOReadCloser(), f}}, nil
	default:
		return f, nil
	}
}

type stackedReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReadCloser) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// List returns the log files of a target in dir, oldest first.
func List(dir, targetName string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	prefix := targetName + "-"
	var logs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.Contains(name, logSuffix) {
			continue
		}
		// "web1-..." must not pick up logs of a target named "web1-old".
		stamp := strings.TrimPrefix(name, prefix)
		if len(stamp) < len(timestampLayout) {
			continue
		}
		if _, err := time.Parse(timestampLayout, stamp[:len(timestampLayout)]); err != nil {
			continue
		}
		logs = append(logs, filepath.Join(dir, name))
	}
	sort.Strings(logs)
	return logs, nil
}

// Prune deletes all but the newest keep logs of a target.
func Prune(dir, targetName string, keep int) error {
	logs, err := List(dir, targetName)
	if err != nil {
		return fmt.Errorf("failed to list transfer logs in %s: %w", dir, err)
	}
	if len(logs) <= keep {
		return nil
	}
	for _, p := range logs[:len(logs)-keep] {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove transfer log %s: %w", p, err)
		}
		plog.Debug("Removed old transfer log", "path", p)
	}
	return nil
}
