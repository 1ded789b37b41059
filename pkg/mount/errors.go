package mount

import "fmt"

// MountError means the filesystem could not be made available. No transfer
// may run for the target.
type MountError struct {
	Target     string
	Mountpoint string
	Err        error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mount of %s for target %s failed: %v", e.Mountpoint, e.Target, e.Err)
}

func (e *MountError) Unwrap() error { return e.Err }

// UnmountWarning reports a failed unmount. It never changes the outcome of
// the run it belongs to.
type UnmountWarning struct {
	Target     string
	Mountpoint string
	Err        error
}

func (e *UnmountWarning) Error() string {
	return fmt.Sprintf("unmount of %s for target %s failed: %v", e.Mountpoint, e.Target, e.Err)
}

func (e *UnmountWarning) Unwrap() error { return e.Err }
