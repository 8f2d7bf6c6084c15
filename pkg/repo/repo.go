package repo

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/yumsync/yumsync/pkg/backend"
	"github.com/yumsync/yumsync/pkg/metadata"
)

// Repo orchestrates metadata mutations for repositories stored on a
// backend. One backend may hold several repository paths (el9/x86_64,
// el8/aarch64, ...); every operation names the path it works on.
type Repo struct {
	backend backend.Backend
	logger  *log.Logger
	// CacheDir is the local staging directory for SQLite rebuilds.
	CacheDir string
	// Checksum names the digest algorithm for new repositories.
	Checksum string
	// SkipValidation disables the quick consistency check that runs
	// after each mutation.
	SkipValidation bool
	// SkipBackup disables the pre-mutation snapshot. Mutations then
	// have no rollback path; meant for throwaway repositories only.
	SkipBackup bool
}

func New(b backend.Backend) *Repo {
	return &Repo{
		backend:  b,
		logger:   log.New(os.Stderr, "", 0),
		CacheDir: os.TempDir(),
		Checksum: "sha256",
	}
}

// WithLogger overrides the logger used for warnings/info.
func (r *Repo) WithLogger(w io.Writer) {
	r.logger = log.New(w, "", 0)
}

func joinRepo(repoPath, name string) string {
	if repoPath == "" {
		return name
	}
	return repoPath + "/" + name
}

func manifestPath(repoPath string) string {
	return joinRepo(repoPath, "repodata/repomd.xml")
}

// Exists reports whether a repository is initialized at repoPath.
func (r *Repo) Exists(ctx context.Context, repoPath string) (bool, error) {
	return r.backend.Exists(ctx, manifestPath(repoPath))
}

// InitRepo creates an empty repository at repoPath: three empty
// descriptors, their SQLite databases, and a manifest covering both.
func (r *Repo) InitRepo(ctx context.Context, repoPath string, force bool) error {
	if r.backend == nil {
		return fmt.Errorf("backend is required")
	}
	exists, err := r.Exists(ctx, repoPath)
	if err != nil {
		return err
	}
	if exists && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", r.backend.URL(manifestPath(repoPath)))
	}

	now := time.Now().UTC()
	coreFiles, _, err := metadata.BuildEmptyCoreFiles(r.Checksum, now)
	if err != nil {
		return err
	}
	set := metadata.DescriptorSet{}
	for _, cf := range coreFiles {
		switch cf.Type {
		case "primary":
			set.Primary = cf.Uncompressed
		case "filelists":
			set.Filelists = cf.Uncompressed
		case "other":
			set.Other = cf.Uncompressed
		}
	}
	dbFiles, err := r.buildDatabases(set, r.Checksum, now)
	if err != nil {
		return err
	}
	coreFiles = append(coreFiles, dbFiles...)
	repomd := metadata.BuildRepoMD(coreFiles, r.Checksum, now)
	if err := r.publishMetadata(ctx, repoPath, coreFiles, repomd, nil); err != nil {
		return err
	}
	r.logger.Printf("initialized empty repository at %s", r.backend.URL(repoPath))
	return nil
}
