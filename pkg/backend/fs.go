package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSBackend stores the repository tree under a local directory. Writes
// go through a temp file plus rename so readers never observe partial
// content.
type FSBackend struct {
	root string
}

func NewFSBackend(root string) *FSBackend {
	return &FSBackend{root: root}
}

func (b *FSBackend) abs(path string) string {
	return filepath.Join(b.root, filepath.FromSlash(path))
}

func (b *FSBackend) URL(path string) string {
	return b.abs(path)
}

func (b *FSBackend) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(b.abs(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (b *FSBackend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(b.abs(path))
}

func (b *FSBackend) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	absPath := b.abs(path)
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-yumsync-*")
	if err != nil {
		return err
	}
	cleanup := func() {
		_ = os.Remove(tmp.Name())
	}
	defer func() {
		if tmp != nil {
			cleanup()
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	tmpName := tmp.Name()
	tmp = nil // avoid double cleanup after rename succeeds
	return os.Rename(tmpName, absPath)
}

func (b *FSBackend) DeleteFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(b.abs(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (b *FSBackend) CopyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(b.abs(src))
	if err != nil {
		return err
	}
	return b.WriteFile(ctx, dst, data)
}

func (b *FSBackend) ListFiles(ctx context.Context, prefix, suffix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := b.abs(prefix)
	if _, err := os.Stat(start); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	var out []string
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if suffix != "" && !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		rel, relErr := filepath.Rel(b.root, path)
		if relErr != nil {
			return relErr
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *FSBackend) DownloadFile(ctx context.Context, path, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return copyLocal(b.abs(path), localPath)
}

func (b *FSBackend) UploadFile(ctx context.Context, localPath, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return b.WriteFile(ctx, path, data)
}

func (b *FSBackend) SyncFromStorage(ctx context.Context, prefix, localDir string) error {
	files, err := b.ListFiles(ctx, prefix, "")
	if err != nil {
		return err
	}
	for _, f := range files {
		rel := strings.TrimPrefix(strings.TrimPrefix(f, prefix), "/")
		if err := b.DownloadFile(ctx, f, filepath.Join(localDir, filepath.FromSlash(rel))); err != nil {
			return err
		}
	}
	return nil
}

func (b *FSBackend) SyncToStorage(ctx context.Context, localDir, prefix string) error {
	return filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(localDir, path)
		if relErr != nil {
			return relErr
		}
		dst := joinPath(prefix, filepath.ToSlash(rel))
		return b.UploadFile(ctx, path, dst)
	})
}

func copyLocal(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

func joinPath(prefix, p string) string {
	prefix = strings.Trim(prefix, "/")
	p = strings.Trim(p, "/")
	if prefix == "" {
		return p
	}
	if p == "" {
		return prefix
	}
	return prefix + "/" + p
}
