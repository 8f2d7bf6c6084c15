package repo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/yumsync/yumsync/pkg/metadata"
)

// memBackend is a simple in-memory backend for tests. The fail hooks
// inject errors mid-operation for rollback testing.
type memBackend struct {
	files      map[string][]byte
	deleted    []string
	failWrite  func(path string) error
	failCopy   func(src, dst string) error
	failDelete func(path string) error
}

func newMemBackend() *memBackend {
	return &memBackend{files: make(map[string][]byte)}
}

func (m *memBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := m.files[path]
	return ok, nil
}

func (m *memBackend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if d, ok := m.files[path]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%s: %w", path, os.ErrNotExist)
}

func (m *memBackend) WriteFile(ctx context.Context, path string, data []byte) error {
	if m.failWrite != nil {
		if err := m.failWrite(path); err != nil {
			return err
		}
	}
	m.files[path] = append([]byte(nil), data...)
	return nil
}

func (m *memBackend) DeleteFile(ctx context.Context, path string) error {
	if m.failDelete != nil {
		if err := m.failDelete(path); err != nil {
			return err
		}
	}
	delete(m.files, path)
	m.deleted = append(m.deleted, path)
	return nil
}

func (m *memBackend) CopyFile(ctx context.Context, src, dst string) error {
	if m.failCopy != nil {
		if err := m.failCopy(src, dst); err != nil {
			return err
		}
	}
	d, ok := m.files[src]
	if !ok {
		return fmt.Errorf("%s: %w", src, os.ErrNotExist)
	}
	m.files[dst] = append([]byte(nil), d...)
	return nil
}

func (m *memBackend) ListFiles(ctx context.Context, prefix, suffix string) ([]string, error) {
	var out []string
	for k := range m.files {
		if prefix != "" && !strings.HasPrefix(k, prefix+"/") && k != prefix {
			continue
		}
		if suffix != "" && !strings.HasSuffix(k, suffix) {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memBackend) DownloadFile(ctx context.Context, path, localPath string) error {
	d, err := m.ReadFile(ctx, path)
	if err != nil {
		return err
	}
	return os.WriteFile(localPath, d, 0o644)
}

func (m *memBackend) UploadFile(ctx context.Context, localPath, path string) error {
	d, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return m.WriteFile(ctx, path, d)
}

func (m *memBackend) SyncFromStorage(ctx context.Context, prefix, localDir string) error {
	files, err := m.ListFiles(ctx, prefix, "")
	if err != nil {
		return err
	}
	for _, f := range files {
		rel := strings.TrimPrefix(strings.TrimPrefix(f, prefix), "/")
		dst := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := m.DownloadFile(ctx, f, dst); err != nil {
			return err
		}
	}
	return nil
}

func (m *memBackend) SyncToStorage(ctx context.Context, localDir, prefix string) error {
	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		return m.UploadFile(ctx, p, prefix+"/"+filepath.ToSlash(rel))
	})
}

func (m *memBackend) URL(path string) string { return "mem://" + path }

// backupPaths returns the keys under a repodata.backup- prefix.
func (m *memBackend) backupPaths() []string {
	var out []string
	for k := range m.files {
		if strings.Contains(k, "repodata.backup-") {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func newTestRepo(t *testing.T, mb *memBackend) *Repo {
	t.Helper()
	r := New(mb)
	r.WithLogger(io.Discard)
	r.CacheDir = t.TempDir()
	return r
}

func testPackage(name, version, dist, arch, pkgID string) metadata.Package {
	release := "1." + dist
	return metadata.Package{
		Name:         name,
		Arch:         arch,
		Version:      version,
		Release:      release,
		Summary:      name + " test package",
		License:      "MIT",
		Location:     fmt.Sprintf("%s-%s-%s.%s.rpm", name, version, release, arch),
		PkgID:        pkgID,
		ChecksumType: "sha256",
		Files:        []metadata.File{{Path: "/usr/bin/" + name}},
		Changelogs:   []metadata.Changelog{{Author: "dev", Date: 1700000000, Text: "- initial"}},
	}
}

// seedRepo publishes pkgs at repoPath directly into the backend, the
// way a prior run would have left them.
func seedRepo(t *testing.T, r *Repo, mb *memBackend, repoPath string, pkgs []metadata.Package) {
	t.Helper()
	now := time.Unix(1700000000, 0).UTC()
	set, err := metadata.RenderDescriptors(pkgs)
	if err != nil {
		t.Fatalf("render descriptors: %v", err)
	}
	core, err := r.rebuildCoreFiles(set, "sha256", now)
	if err != nil {
		t.Fatalf("rebuild core files: %v", err)
	}
	md := metadata.BuildRepoMD(core, "sha256", now)
	raw, err := metadata.MarshalRepoMD(md)
	if err != nil {
		t.Fatalf("marshal repomd: %v", err)
	}
	for _, cf := range core {
		mb.files[joinRepo(repoPath, cf.Path)] = cf.Compressed
	}
	mb.files[manifestPath(repoPath)] = raw
	for _, p := range pkgs {
		mb.files[joinRepo(repoPath, p.Location)] = []byte("rpmdata-" + p.Name)
	}
}

// publishedNames parses the live primary descriptor and returns the
// package names in it.
func publishedNames(t *testing.T, r *Repo, repoPath string) []string {
	t.Helper()
	_, set, _, err := r.loadMetadata(context.Background(), repoPath)
	if err != nil {
		t.Fatalf("loadMetadata: %v", err)
	}
	doc, err := metadata.ParsePrimary(set.Primary)
	if err != nil {
		t.Fatalf("parse primary: %v", err)
	}
	var names []string
	for _, p := range doc.Packages {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}
