// Package spool defines the on-disk contract shared by the backup runner and
// the health checker:
//
//	<root>/<target>/current/            most recent complete tree
//	<root>/<target>/<tier>-<n>/         retained generations, 0 = newest
//	<root>/<target>/last_run            success marker (existence + mtime)
//
// Everything here is a pure path computation or a single-directory listing.
// Nothing walks below the immediate children of the directory it is given.
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// CurrentDirName is the directory the transport writes into.
	CurrentDirName = "current"
	// MarkerFileName is the success marker. Only its mtime is part of the contract.
	MarkerFileName = "last_run"
	// partialPrefix marks a generation that is still being cloned.
	partialPrefix = ".partial-"
)

// Layout maps target names onto paths below one spool root.
type Layout struct {
	Root string
}

// New returns a Layout for the given root.
func New(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// TargetDir is the directory owned exclusively by one target.
func (l Layout) TargetDir(name string) string {
	return filepath.Join(l.Root, name)
}

// CurrentPath is the live tree the transport synchronises.
func (l Layout) CurrentPath(name string) string {
	return filepath.Join(l.Root, name, CurrentDirName)
}

// MarkerPath is the last_run marker of a target.
func (l Layout) MarkerPath(name string) string {
	return filepath.Join(l.Root, name, MarkerFileName)
}

// GenerationName is the directory name of generation n of a tier.
func GenerationName(tier Tier, n int) string {
	return fmt.Sprintf("%s-%d", tier, n)
}

// GenerationPath is the directory of generation n of a tier.
func (l Layout) GenerationPath(name string, tier Tier, n int) string {
	return filepath.Join(l.Root, name, GenerationName(tier, n))
}

// PartialPath is the staging directory generation 0 of a tier is cloned into
// before it is renamed into place.
func (l Layout) PartialPath(name string, tier Tier) string {
	return filepath.Join(l.Root, name, partialPrefix+tier.String())
}

// ListTargets returns the names of the immediate child directories of the
// spool root, sorted. Files and dot-entries are skipped; target directories
// are never descended into.
func (l Layout) ListTargets() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool root %s: %w", l.Root, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Generations returns the generation indices that exist for a tier, ascending.
// A missing target directory yields an empty list.
func (l Layout) Generations(name string, tier Tier) ([]int, error) {
	entries, err := os.ReadDir(l.TargetDir(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read target directory %s: %w", l.TargetDir(name), err)
	}

	prefix := tier.String() + "-"
	var gens []int
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), prefix))
		if err != nil || n < 0 {
			continue
		}
		gens = append(gens, n)
	}
	sort.Ints(gens)
	return gens, nil
}

// HasCurrent reports whether a previous transfer left a current tree behind.
func (l Layout) HasCurrent(name string) bool {
	info, err := os.Stat(l.CurrentPath(name))
	return err == nil && info.IsDir()
}

// NewestSnapshot returns the path of the newest retained generation, checking
// daily, weekly and monthly generation 0 in that order.
func (l Layout) NewestSnapshot(name string) (string, bool) {
	for _, tier := range []Tier{Daily, Weekly, Monthly} {
		p := l.GenerationPath(name, tier, 0)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, true
		}
	}
	return "", false
}
