package rotate

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-spool/pkg/util"
)

// ownerTraversePerms lets the owner list, enter and empty a directory.
const ownerTraversePerms = util.PermUserWrite | 0o500

// removeTree removes path and everything below it like os.RemoveAll, but
// first grants the owner rwx on every directory in the tree. Transferred
// trees may contain read-only directories, which os.RemoveAll cannot empty
// unless running as root. A missing path is not an error. Symlinks are
// never followed.
func removeTree(path string) error {
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if perm := info.Mode().Perm(); perm&ownerTraversePerms != ownerTraversePerms {
			return os.Chmod(p, perm|ownerTraversePerms)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}
