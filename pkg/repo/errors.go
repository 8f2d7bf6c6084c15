package repo

import (
	"errors"
	"fmt"

	"github.com/yumsync/yumsync/pkg/inspector"
	"github.com/yumsync/yumsync/pkg/metadata"
)

var (
	// ErrNotFound reports a package or repository that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMismatch reports a batch of packages targeting different
	// distribution/architecture pairs.
	ErrMismatch = inspector.ErrMismatch

	// ErrCorruptMetadata reports a manifest or descriptor that cannot
	// be parsed or fails checksum verification.
	ErrCorruptMetadata = metadata.ErrCorrupt

	// ErrExternalTool reports a failure in an external process (gpg).
	ErrExternalTool = errors.New("external tool failed")

	// ErrBackendFailure reports a storage I/O error (read, write,
	// copy, delete, list) surfaced by the backend.
	ErrBackendFailure = errors.New("backend failure")
)

// RestoreError reports the one case the system cannot recover on its
// own: a mutation failed and restoring the backup failed too. The
// backup path is retained for manual recovery.
type RestoreError struct {
	Op         error  // the error that triggered the rollback
	Restore    error  // the error hit while restoring
	BackupPath string // where the snapshot still lives
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("mutation failed (%v) and restore from backup failed (%v); recover manually from %s",
		e.Op, e.Restore, e.BackupPath)
}

func (e *RestoreError) Unwrap() error { return e.Op }
