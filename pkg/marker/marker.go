// Package marker writes and reads the last_run marker of a target. The
// marker's mtime is the moment of the last fully successful run; its JSON
// content is informational and may be absent in markers created by hand.
package marker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-spool/pkg/target"
	"github.com/paulschiretz/pgl-spool/pkg/util"
)

// Content is the JSON body of a marker.
type Content struct {
	Version      string    `json:"version"`
	RunID        string    `json:"runID"`
	Target       string    `json:"target"`
	CompletedUTC time.Time `json:"completedUTC"`
	RunCount     int       `json:"runCount"`
}

// Info is a marker found on disk.
type Info struct {
	ModTime time.Time
	Content Content
	// HasContent is false when the file is empty or not valid JSON.
	HasContent bool
}

// RecorderError means the marker could not be written. The previous marker,
// if any, is unchanged.
type RecorderError struct {
	Target string
	Path   string
	Err    error
}

func (e *RecorderError) Error() string {
	return fmt.Sprintf("failed to record success of target %s in %s: %v", e.Target, e.Path, e.Err)
}

func (e *RecorderError) Unwrap() error { return e.Err }

type Recorder struct {
	version string
}

func NewRecorder(version string) *Recorder {
	return &Recorder{version: version}
}

// RecordSuccess replaces the marker of t with one whose mtime is now. The
// new marker is written to a temporary file and renamed into place, so a
// reader sees either the old or the new marker.
func (r *Recorder) RecordSuccess(t target.Target, now time.Time, runID string, runCount int) error {
	path := t.Layout().MarkerPath(t.Name)
	fail := func(err error) error {
		return &RecorderError{Target: t.Name, Path: path, Err: err}
	}

	data, err := json.MarshalIndent(Content{
		Version:      r.version,
		RunID:        runID,
		Target:       t.Name,
		CompletedUTC: now.UTC(),
		RunCount:     runCount,
	}, "", "  ")
	if err != nil {
		return fail(fmt.Errorf("could not marshal marker: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fail(err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Chmod(tmpPath, util.UserWritableFilePerms); err != nil {
		return fail(err)
	}
	if err := os.Chtimes(tmpPath, now, now); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fail(err)
	}
	return nil
}

// Read returns the marker at path. A missing marker yields an error that
// satisfies os.IsNotExist.
func Read(path string) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	if fi.IsDir() {
		return Info{}, fmt.Errorf("marker %s is a directory", path)
	}
	info := Info{ModTime: fi.ModTime()}

	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	if len(data) > 0 && json.Unmarshal(data, &info.Content) == nil {
		info.HasContent = true
	}
	return info, nil
}

// RunCount returns the run counter stored in the marker of t, or 0 if there
// is no usable marker.
func RunCount(t target.Target) int {
	info, err := Read(t.Layout().MarkerPath(t.Name))
	if err != nil || !info.HasContent {
		return 0
	}
	return info.Content.RunCount
}

// LastRunCount returns the run counter of the previous successful run of t.
func (r *Recorder) LastRunCount(t target.Target) int {
	return RunCount(t)
}

// LastSuccess returns the mtime of the marker of t.
func (r *Recorder) LastSuccess(t target.Target) (time.Time, bool) {
	info, err := Read(t.Layout().MarkerPath(t.Name))
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime, true
}
