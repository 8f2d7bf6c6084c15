package repo

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// mutationState tracks where a mutating operation is in its lifecycle.
// Transitions run strictly forward; the terminal states are committed,
// failed, and the unrecoverable restore-failed case carried by
// RestoreError.
type mutationState int

const (
	stateIdle mutationState = iota
	stateSnapshotting
	stateMutating
	stateCommitted
	stateRollingBack
	stateFailed
)

func (s mutationState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateSnapshotting:
		return "snapshotting"
	case stateMutating:
		return "mutating"
	case stateCommitted:
		return "committed"
	case stateRollingBack:
		return "rolling-back"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// snapshot is one pre-mutation copy of the metadata directory.
type snapshot struct {
	repoPath string
	path     string // e.g. el9/x86_64/repodata.backup-20240131-154500
	files    []string
}

func backupName(now time.Time) string {
	return "repodata.backup-" + now.Format("20060102-150405")
}

// takeSnapshot copies every object under the metadata path to a
// timestamped backup path. A copy failure aborts before any mutation.
func (r *Repo) takeSnapshot(ctx context.Context, repoPath string, now time.Time) (*snapshot, error) {
	src := joinRepo(repoPath, "repodata")
	dst := joinRepo(repoPath, backupName(now))

	files, err := r.backend.ListFiles(ctx, src, "")
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrBackendFailure, src, err)
	}
	snap := &snapshot{repoPath: repoPath, path: dst}
	for _, f := range files {
		rel := strings.TrimPrefix(strings.TrimPrefix(f, src), "/")
		if err := r.backend.CopyFile(ctx, f, dst+"/"+rel); err != nil {
			return nil, fmt.Errorf("%w: backup %s: %w", ErrBackendFailure, f, err)
		}
		snap.files = append(snap.files, rel)
	}
	return snap, nil
}

// restore deletes whatever metadata currently exists at the live path
// and copies the snapshot back.
func (r *Repo) restore(ctx context.Context, snap *snapshot) error {
	live := joinRepo(snap.repoPath, "repodata")
	current, err := r.backend.ListFiles(ctx, live, "")
	if err != nil {
		return fmt.Errorf("%w: list live metadata: %w", ErrBackendFailure, err)
	}
	for _, f := range current {
		if err := r.backend.DeleteFile(ctx, f); err != nil {
			return fmt.Errorf("%w: delete %s: %w", ErrBackendFailure, f, err)
		}
	}
	for _, rel := range snap.files {
		if err := r.backend.CopyFile(ctx, snap.path+"/"+rel, live+"/"+rel); err != nil {
			return fmt.Errorf("%w: restore %s: %w", ErrBackendFailure, rel, err)
		}
	}
	return nil
}

// discard deletes the backup after a committed mutation. Failure is
// non-fatal; the repository itself is already correct.
func (r *Repo) discard(ctx context.Context, snap *snapshot) {
	for _, rel := range snap.files {
		if err := r.backend.DeleteFile(ctx, snap.path+"/"+rel); err != nil {
			r.logger.Printf("warn: delete backup %s/%s: %v", snap.path, rel, err)
		}
	}
}

// withBackup runs mutate inside the snapshot/restore envelope. On
// success the backup is discarded. On failure the live metadata is
// restored and the backup retained for inspection; if the restore
// itself fails, both errors surface as a RestoreError.
func (r *Repo) withBackup(ctx context.Context, repoPath string, now time.Time, mutate func() error) error {
	if r.SkipBackup {
		return mutate()
	}

	snap, err := r.takeSnapshot(ctx, repoPath, now)
	if err != nil {
		return fmt.Errorf("%s: %w", stateSnapshotting, err)
	}

	if err := mutate(); err != nil {
		r.logger.Printf("%s failed, %s from %s", stateMutating, stateRollingBack, snap.path)
		if restoreErr := r.restore(ctx, snap); restoreErr != nil {
			return &RestoreError{Op: err, Restore: restoreErr, BackupPath: snap.path}
		}
		r.logger.Printf("metadata restored; backup retained at %s", snap.path)
		return err
	}

	r.discard(ctx, snap)
	return nil
}
