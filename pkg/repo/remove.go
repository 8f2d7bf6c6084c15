package repo

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/yumsync/yumsync/pkg/metadata"
)

// RemoveOptions tunes a single remove operation.
type RemoveOptions struct {
	// KeepFiles leaves the package objects in storage; only metadata
	// forgets them.
	KeepFiles    bool
	DryRun       bool
	SignRepodata bool
	GPGKey       string
}

var rpmNameRe = regexp.MustCompile(`\.(x86_64|aarch64|noarch|i686|s390x|ppc64le)\.rpm$`)
var rpmDistRe = regexp.MustCompile(`\.(el\d+)[._]`)

// targetFromFilename derives the repository path from a package file
// name like alpha-1.0.0-1.el9.x86_64.rpm.
func targetFromFilename(name string) (string, error) {
	archMatch := rpmNameRe.FindStringSubmatch(name)
	if archMatch == nil {
		return "", fmt.Errorf("could not detect architecture from filename %q", name)
	}
	distMatch := rpmDistRe.FindStringSubmatch(name)
	if distMatch == nil {
		return "", fmt.Errorf("could not detect distribution from filename %q", name)
	}
	return distMatch[1] + "/" + archMatch[1], nil
}

// RemoveRPMs drops packages, identified by file name, from their
// repository's metadata and (unless KeepFiles) from storage. All names
// must resolve to the same repository path.
func (r *Repo) RemoveRPMs(ctx context.Context, names []string, opts RemoveOptions) error {
	if r.backend == nil {
		return fmt.Errorf("backend is required")
	}
	if len(names) == 0 {
		return fmt.Errorf("no package names provided")
	}

	repoPath, err := targetFromFilename(names[0])
	if err != nil {
		return err
	}
	for _, n := range names[1:] {
		p, err := targetFromFilename(n)
		if err != nil {
			return err
		}
		if p != repoPath {
			return fmt.Errorf("%w: expected %s, found %s in %s", ErrMismatch, repoPath, p, n)
		}
	}

	exists, err := r.Exists(ctx, repoPath)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: repository %s", ErrNotFound, r.backend.URL(repoPath))
	}

	md, set, alg, err := r.loadMetadata(ctx, repoPath)
	if err != nil {
		return err
	}
	doc, err := metadata.ParsePrimary(set.Primary)
	if err != nil {
		return err
	}
	published := NewChecksumRecord(doc)
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := published[n]; !ok {
			return fmt.Errorf("%w: package %s in %s", ErrNotFound, n, repoPath)
		}
		drop[n] = true
	}
	if opts.DryRun {
		r.logger.Printf("dry run: would remove %d package(s) from %s", len(drop), repoPath)
		return nil
	}

	now := time.Now().UTC()
	err = r.withBackup(ctx, repoPath, now, func() error {
		stripped, err := removeEntries(set, drop)
		if err != nil {
			return err
		}
		core, err := r.rebuildCoreFiles(stripped, alg, now)
		if err != nil {
			return err
		}
		newMD, warnings := assembleRepoMD(md, core, alg, now)
		if err := r.publishMetadata(ctx, repoPath, core, newMD, warnings); err != nil {
			return err
		}
		if opts.SignRepodata {
			if err := r.signRepomd(ctx, repoPath, newMD, opts.GPGKey); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if !opts.KeepFiles {
		for n := range drop {
			if err := r.backend.DeleteFile(ctx, joinRepo(repoPath, n)); err != nil {
				r.logger.Printf("warn: delete %s: %v", n, err)
			}
		}
	}
	r.logger.Printf("removed %d package(s) from %s", len(drop), r.backend.URL(repoPath))

	if !r.SkipValidation {
		if err := r.quickCheck(ctx, repoPath); err != nil {
			return fmt.Errorf("post-remove validation: %w", err)
		}
	}
	return nil
}
