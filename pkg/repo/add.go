package repo

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/yumsync/yumsync/pkg/checksum"
	"github.com/yumsync/yumsync/pkg/inspector"
	"github.com/yumsync/yumsync/pkg/metadata"
)

// AddOptions tunes a single add operation.
type AddOptions struct {
	DryRun bool
	// SignRPMs re-signs each package with rpmsign before inspection
	// and upload.
	SignRPMs     bool
	SignRepodata bool
	GPGKey       string
}

// AddRPMs publishes local RPM files into the repository matching their
// distribution/architecture target, initializing the repository when it
// does not exist yet. Duplicates (same basename, same checksum) are
// skipped; if nothing remains to publish, the operation is a no-op with
// no backup, upload, or revision change.
func (r *Repo) AddRPMs(ctx context.Context, rpmPaths []string, opts AddOptions) error {
	if r.backend == nil {
		return fmt.Errorf("backend is required")
	}
	if len(rpmPaths) == 0 {
		return fmt.Errorf("no RPM paths provided")
	}
	// The basename is the join key everywhere; two inputs sharing one
	// would publish conflicting entries at the same location.
	seen := make(map[string]bool, len(rpmPaths))
	for _, p := range rpmPaths {
		base := filepath.Base(p)
		if seen[base] {
			return fmt.Errorf("%w: %s appears more than once in the batch", ErrMismatch, base)
		}
		seen[base] = true
	}

	candidates, payloads, err := r.inspectLocal(ctx, rpmPaths, r.Checksum, opts)
	if err != nil {
		return err
	}
	return r.addPackages(ctx, candidates, payloads, opts)
}

// addPackages is the publish pipeline for already-inspected packages:
// target detection, dedup against the published checksums, merge,
// rebuild, and manifest rewrite inside the backup envelope.
func (r *Repo) addPackages(ctx context.Context, candidates []metadata.Package, payloads map[string][]byte, opts AddOptions) error {
	target, err := inspector.ValidateBatch(candidates)
	if err != nil {
		return err
	}
	repoPath := target.RepoPath()
	r.logger.Printf("target: %s (%d package(s))", target, len(candidates))

	exists, err := r.Exists(ctx, repoPath)
	if err != nil {
		return err
	}
	if !exists {
		if opts.DryRun {
			r.logger.Printf("dry run: would initialize %s with %d package(s)", repoPath, len(candidates))
			return nil
		}
		return r.initWithPackages(ctx, repoPath, candidates, payloads, opts)
	}

	md, set, alg, err := r.loadMetadata(ctx, repoPath)
	if err != nil {
		return err
	}
	if alg != r.Checksum {
		// Repository uses a different digest; recompute identities so
		// dedup compares like with like.
		for i := range candidates {
			sum, err := checksum.Sum(payloads[path.Base(candidates[i].Location)], alg)
			if err != nil {
				return err
			}
			candidates[i].PkgID = sum
			candidates[i].ChecksumType = alg
		}
	}

	doc, err := metadata.ParsePrimary(set.Primary)
	if err != nil {
		return err
	}
	cls := NewChecksumRecord(doc).Classify(candidates)
	for _, p := range cls.Duplicates {
		r.logger.Printf("skipping %s: already published with identical content", path.Base(p.Location))
	}
	changed := cls.Changed()
	if len(changed) == 0 {
		r.logger.Printf("nothing to do: all %d package(s) already published", len(candidates))
		return nil
	}
	if opts.DryRun {
		r.logger.Printf("dry run: would publish %d new and %d updated package(s) to %s",
			len(cls.New), len(cls.Updates), repoPath)
		return nil
	}

	now := time.Now().UTC()
	err = r.withBackup(ctx, repoPath, now, func() error {
		for _, p := range changed {
			base := path.Base(p.Location)
			if err := r.backend.WriteFile(ctx, joinRepo(repoPath, base), payloads[base]); err != nil {
				return fmt.Errorf("%w: upload %s: %w", ErrBackendFailure, base, err)
			}
		}

		// Updated basenames first shed their stale entries so the merge
		// cannot produce duplicates.
		if len(cls.Updates) > 0 {
			stale := make(map[string]bool, len(cls.Updates))
			for _, p := range cls.Updates {
				stale[path.Base(p.Location)] = true
			}
			if set, err = removeEntries(set, stale); err != nil {
				return err
			}
		}

		delta, err := metadata.RenderDescriptors(changed)
		if err != nil {
			return err
		}
		merged, added, err := metadata.MergeDescriptors(set, delta)
		if err != nil {
			return err
		}
		core, err := r.rebuildCoreFiles(merged, alg, now)
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
		r.logger.Printf("published %d package(s) (%d new, %d updated) to %s",
			added, len(cls.New), len(cls.Updates), r.backend.URL(repoPath))
		return nil
	})
	if err != nil {
		return err
	}

	if !r.SkipValidation {
		if err := r.quickCheck(ctx, repoPath); err != nil {
			return fmt.Errorf("post-publish validation: %w", err)
		}
	}
	return nil
}

// initWithPackages creates a brand-new repository already containing
// the given packages. There is nothing to back up yet.
func (r *Repo) initWithPackages(ctx context.Context, repoPath string, pkgs []metadata.Package, payloads map[string][]byte, opts AddOptions) error {
	r.logger.Printf("initializing new repository at %s", r.backend.URL(repoPath))
	for _, p := range pkgs {
		base := path.Base(p.Location)
		if err := r.backend.WriteFile(ctx, joinRepo(repoPath, base), payloads[base]); err != nil {
			return fmt.Errorf("%w: upload %s: %w", ErrBackendFailure, base, err)
		}
	}
	now := time.Now().UTC()
	set, err := metadata.RenderDescriptors(pkgs)
	if err != nil {
		return err
	}
	core, err := r.rebuildCoreFiles(set, r.Checksum, now)
	if err != nil {
		return err
	}
	md := metadata.BuildRepoMD(core, r.Checksum, now)
	if err := r.publishMetadata(ctx, repoPath, core, md, nil); err != nil {
		return err
	}
	if opts.SignRepodata {
		if err := r.signRepomd(ctx, repoPath, md, opts.GPGKey); err != nil {
			return err
		}
	}
	r.logger.Printf("published %d package(s) to %s", len(pkgs), r.backend.URL(repoPath))
	if !r.SkipValidation {
		if err := r.quickCheck(ctx, repoPath); err != nil {
			return fmt.Errorf("post-publish validation: %w", err)
		}
	}
	return nil
}

// inspectLocal reads and parses each RPM from the local filesystem,
// re-signing first when requested. The location recorded in metadata
// is the file's basename; packages live flat at the repository path.
func (r *Repo) inspectLocal(ctx context.Context, rpmPaths []string, alg string, opts AddOptions) ([]metadata.Package, map[string][]byte, error) {
	candidates := make([]metadata.Package, 0, len(rpmPaths))
	payloads := make(map[string][]byte, len(rpmPaths))
	for _, p := range rpmPaths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, nil, fmt.Errorf("stat %s: %w", p, err)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", p, err)
		}
		if opts.SignRPMs && !opts.DryRun {
			if data, err = r.resignRPM(ctx, data, opts.GPGKey); err != nil {
				return nil, nil, fmt.Errorf("sign rpm %s: %w", p, err)
			}
		}
		base := filepath.Base(p)
		pkg, err := inspector.InspectRPM(p, data, info, alg, base)
		if err != nil {
			return nil, nil, err
		}
		// Signing rewrites the header, so the stat size is stale.
		pkg.SizePackage = uint64(len(data))
		candidates = append(candidates, pkg)
		payloads[base] = data
	}
	return candidates, payloads, nil
}

// removeEntries strips packages with the given basenames from all three
// descriptors, keyed through primary's pkgIds.
func removeEntries(set metadata.DescriptorSet, names map[string]bool) (metadata.DescriptorSet, error) {
	primary, removedIDs, _, err := metadata.RemoveFromPrimary(set.Primary, names)
	if err != nil {
		return metadata.DescriptorSet{}, err
	}
	out := metadata.DescriptorSet{Primary: primary}
	if set.Filelists != nil {
		if out.Filelists, _, err = metadata.RemoveFromFilelists(set.Filelists, removedIDs); err != nil {
			return metadata.DescriptorSet{}, err
		}
	}
	if set.Other != nil {
		if out.Other, _, err = metadata.RemoveFromOther(set.Other, removedIDs); err != nil {
			return metadata.DescriptorSet{}, err
		}
	}
	return out, nil
}
