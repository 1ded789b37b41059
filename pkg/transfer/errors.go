package transfer

import "fmt"

// TransferError is a failed transport run. Stderr holds the last lines the
// transport printed.
type TransferError struct {
	Target   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TransferError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("transfer for target %s failed with exit code %d: %s", e.Target, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("transfer for target %s failed with exit code %d: %v", e.Target, e.ExitCode, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
