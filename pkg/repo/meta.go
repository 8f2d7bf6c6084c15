package repo

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yumsync/yumsync/pkg/checksum"
	"github.com/yumsync/yumsync/pkg/metadata"
	"github.com/yumsync/yumsync/pkg/sqlite"
)

// loadMetadata reads the manifest and the XML descriptors it references,
// verifying checksums along the way. Missing filelists/other entries are
// tolerated; a missing primary is not.
func (r *Repo) loadMetadata(ctx context.Context, repoPath string) (metadata.RepoMD, metadata.DescriptorSet, string, error) {
	raw, err := r.backend.ReadFile(ctx, manifestPath(repoPath))
	if err != nil {
		return metadata.RepoMD{}, metadata.DescriptorSet{}, "", fmt.Errorf("%w: load repomd.xml: %w", ErrBackendFailure, err)
	}
	md, err := metadata.ParseRepoMD(raw)
	if err != nil {
		return metadata.RepoMD{}, metadata.DescriptorSet{}, "", err
	}

	primary, filelists, other := metadata.GetCoreData(md)
	if primary == nil {
		return metadata.RepoMD{}, metadata.DescriptorSet{}, "", fmt.Errorf("%w: repomd.xml has no primary entry", ErrCorruptMetadata)
	}
	alg := primary.Checksum.Type
	if alg == "" {
		alg = "sha256"
	}

	var set metadata.DescriptorSet
	if set.Primary, err = r.readDescriptor(ctx, repoPath, *primary); err != nil {
		return metadata.RepoMD{}, metadata.DescriptorSet{}, "", err
	}
	if filelists != nil {
		if set.Filelists, err = r.readDescriptor(ctx, repoPath, *filelists); err != nil {
			return metadata.RepoMD{}, metadata.DescriptorSet{}, "", err
		}
	}
	if other != nil {
		if set.Other, err = r.readDescriptor(ctx, repoPath, *other); err != nil {
			return metadata.RepoMD{}, metadata.DescriptorSet{}, "", err
		}
	}
	return md, set, alg, nil
}

// readDescriptor fetches one manifest entry's file, verifies its stored
// checksum, and returns the decompressed bytes.
func (r *Repo) readDescriptor(ctx context.Context, repoPath string, d metadata.RepoData) ([]byte, error) {
	data, err := r.backend.ReadFile(ctx, joinRepo(repoPath, d.Location.Href))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrBackendFailure, d.Location.Href, err)
	}
	sum, err := checksum.Sum(data, d.Checksum.Type)
	if err != nil {
		return nil, err
	}
	if sum != d.Checksum.Value {
		return nil, fmt.Errorf("%w: %s checksum mismatch: repomd=%s actual=%s",
			ErrCorruptMetadata, d.Type, d.Checksum.Value, sum)
	}
	out, err := metadata.Decompress(d.Location.Href, data)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress %s: %v", ErrCorruptMetadata, d.Location.Href, err)
	}
	if d.OpenChecksum != nil {
		openSum, err := checksum.Sum(out, d.OpenChecksum.Type)
		if err != nil {
			return nil, err
		}
		if openSum != d.OpenChecksum.Value {
			return nil, fmt.Errorf("%w: %s open-checksum mismatch: repomd=%s actual=%s",
				ErrCorruptMetadata, d.Type, d.OpenChecksum.Value, openSum)
		}
	}
	return out, nil
}

// buildDatabases rebuilds the SQLite indexes from the descriptors in a
// local staging directory and wraps them as manifest-ready core files.
// The uncompressed .sqlite files are removed once compressed.
func (r *Repo) buildDatabases(set metadata.DescriptorSet, alg string, now time.Time) ([]metadata.CoreFile, error) {
	stage, err := os.MkdirTemp(r.CacheDir, "yumsync-db-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	built, err := sqlite.BuildAll(stage, set)
	if err != nil {
		return nil, err
	}
	var out []metadata.CoreFile
	for _, typ := range []string{"primary_db", "filelists_db", "other_db"} {
		path, ok := built[typ]
		if !ok {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		cf, err := metadata.BuildCoreFile(typ, raw, alg, now)
		if err != nil {
			return nil, err
		}
		if err := os.Remove(path); err != nil {
			return nil, err
		}
		out = append(out, cf)
	}
	return out, nil
}

// rebuildCoreFiles turns merged descriptors into the full set of six
// manifest payloads: three gzipped XML files plus three bzip2 SQLite
// databases derived from them.
func (r *Repo) rebuildCoreFiles(set metadata.DescriptorSet, alg string, now time.Time) ([]metadata.CoreFile, error) {
	var out []metadata.CoreFile
	descriptors := []struct {
		typ     string
		content []byte
	}{
		{"primary", set.Primary},
		{"filelists", set.Filelists},
		{"other", set.Other},
	}
	for _, d := range descriptors {
		if d.content == nil {
			continue
		}
		cf, err := metadata.BuildCoreFile(d.typ, d.content, alg, now)
		if err != nil {
			return nil, err
		}
		out = append(out, cf)
	}
	dbFiles, err := r.buildDatabases(set, alg, now)
	if err != nil {
		return nil, err
	}
	return append(out, dbFiles...), nil
}

// assembleRepoMD builds the new manifest: recomputed entries for every
// descriptor and database type replace the old ones wholesale, while
// entries of unrelated types (modules, comps) carry over untouched.
func assembleRepoMD(old metadata.RepoMD, core []metadata.CoreFile, alg string, now time.Time) (metadata.RepoMD, []string) {
	rebuilt := make(map[string]bool, len(core))
	for _, cf := range core {
		rebuilt[cf.Type] = true
	}

	newMD := metadata.BuildRepoMD(core, alg, now)
	newMD.Xmlns = old.Xmlns

	var warnings []string
	for _, d := range old.Data {
		if rebuilt[d.Type] || metadata.IsDBType(d.Type) {
			continue
		}
		switch d.Type {
		case "primary", "filelists", "other", "prestodelta":
			continue
		default:
			newMD.Data = append(newMD.Data, d)
			warnings = append(warnings, fmt.Sprintf("preserving unknown metadata type %q; checksum not verified", d.Type))
		}
	}
	return newMD, warnings
}

// publishMetadata writes the core files and the manifest, then deletes
// repodata objects the new manifest no longer references.
func (r *Repo) publishMetadata(ctx context.Context, repoPath string, core []metadata.CoreFile, md metadata.RepoMD, warnings []string) error {
	if checker, ok := r.backend.(conflictChecker); ok {
		if err := checker.CheckUnchanged(ctx, manifestPath(repoPath)); err != nil {
			return err
		}
	}
	for _, w := range warnings {
		r.logger.Printf("warn: %s", w)
	}

	repomdBytes, err := metadata.MarshalRepoMD(md)
	if err != nil {
		return fmt.Errorf("marshal repomd.xml: %w", err)
	}
	for _, cf := range core {
		if err := r.backend.WriteFile(ctx, joinRepo(repoPath, cf.Path), cf.Compressed); err != nil {
			return fmt.Errorf("%w: write %s: %w", ErrBackendFailure, cf.Path, err)
		}
	}
	if err := r.backend.WriteFile(ctx, manifestPath(repoPath), repomdBytes); err != nil {
		return fmt.Errorf("%w: write repomd.xml: %w", ErrBackendFailure, err)
	}

	if err := r.cleanupStaleMetadata(ctx, repoPath, md); err != nil {
		r.logger.Printf("warn: cleanup stale metadata: %v", err)
	}
	return nil
}

// conflictChecker matches backend.ConflictChecker without importing it
// into the method set directly.
type conflictChecker interface {
	CheckUnchanged(ctx context.Context, path string) error
}

// cleanupStaleMetadata removes checksum-named files orphaned by the
// manifest rewrite.
func (r *Repo) cleanupStaleMetadata(ctx context.Context, repoPath string, md metadata.RepoMD) error {
	referenced := make(map[string]bool)
	referenced[manifestPath(repoPath)] = true
	referenced[joinRepo(repoPath, "repodata/repomd.xml.asc")] = true
	for _, d := range md.Data {
		referenced[joinRepo(repoPath, d.Location.Href)] = true
	}

	files, err := r.backend.ListFiles(ctx, joinRepo(repoPath, "repodata"), "")
	if err != nil {
		return fmt.Errorf("%w: list repodata: %w", ErrBackendFailure, err)
	}
	for _, f := range files {
		if referenced[f] || strings.Contains(f, "/.tmp") {
			continue
		}
		if err := r.backend.DeleteFile(ctx, f); err != nil {
			r.logger.Printf("warn: delete %s: %v", f, err)
		}
	}
	return nil
}
