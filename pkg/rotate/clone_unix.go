//go:build !windows

package rotate

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/paulschiretz/pgl-spool/pkg/util"
)

// LinkFunc creates newname as a hard link to oldname.
type LinkFunc func(oldname, newname string) error

// HardLink links oldname itself, even when it is a symlink.
func HardLink(oldname, newname string) error {
	if err := unix.Linkat(unix.AT_FDCWD, oldname, unix.AT_FDCWD, newname, 0); err != nil {
		return &os.LinkError{Op: "linkat", Old: oldname, New: newname, Err: err}
	}
	return nil
}

type dirAttrs struct {
	path  string
	mode  fs.FileMode
	mtime time.Time
	uid   int
	gid   int
}

const specialModeBits = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// CloneTree recreates the directory tree of src at dst and hard-links every
// other entry, so the clone shares all file data with src. dst must not exist.
// Directory modes, owners (when running as root) and mtimes are restored
// after all links are in place; directory modes always keep the owner-write
// bit.
func CloneTree(ctx context.Context, src, dst string, workers int, link LinkFunc) error {
	if workers < 1 {
		workers = 1
	}
	if link == nil {
		link = HardLink
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var dirs []dirAttrs
	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if !d.IsDir() {
			g.Go(func() error {
				return link(path, target)
			})
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		// Owner-writable until the clone is complete.
		if rel == "." {
			err = os.Mkdir(target, util.WithUserWritePermission(info.Mode().Perm()))
		} else {
			err = os.Mkdir(target, util.UserWritableDirPerms)
		}
		if err != nil {
			return err
		}
		attrs := dirAttrs{path: target, mode: info.Mode() & specialModeBits, mtime: info.ModTime(), uid: -1, gid: -1}
		if st, ok := info.Sys().(*unix.Stat_t); ok {
			attrs.uid, attrs.gid = int(st.Uid), int(st.Gid)
		}
		dirs = append(dirs, attrs)
		return nil
	})

	// Wait for every started link before reporting, so no goroutine outlives the call.
	linkErr := g.Wait()
	if walkErr != nil {
		return fmt.Errorf("failed to walk %s: %w", src, walkErr)
	}
	if linkErr != nil {
		return fmt.Errorf("failed to link into %s: %w", dst, linkErr)
	}

	asRoot := os.Geteuid() == 0
	// Deepest first: setting a parent's mtime must come after its children changed it.
	for i := len(dirs) - 1; i >= 0; i-- {
		a := dirs[i]
		if asRoot && a.uid >= 0 {
			if err := os.Lchown(a.path, a.uid, a.gid); err != nil {
				return fmt.Errorf("failed to restore owner of %s: %w", a.path, err)
			}
		}
		// Owner-write stays set so later rotations can shift and discard the generation.
		if err := os.Chmod(a.path, util.WithUserWritePermission(a.mode)); err != nil {
			return fmt.Errorf("failed to restore mode of %s: %w", a.path, err)
		}
		if err := os.Chtimes(a.path, a.mtime, a.mtime); err != nil {
			return fmt.Errorf("failed to restore mtime of %s: %w", a.path, err)
		}
	}
	return nil
}
