package backend

import "context"

// Backend abstracts storage for a repository tree. Paths are always
// slash-separated and relative to the storage root (e.g.
// "el9/x86_64/repodata/repomd.xml"); one backend may hold several
// repository paths side by side.
type Backend interface {
	Exists(ctx context.Context, path string) (bool, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	DeleteFile(ctx context.Context, path string) error
	CopyFile(ctx context.Context, src, dst string) error

	// ListFiles returns every path under prefix; a non-empty suffix
	// filters by file-name suffix (e.g. ".rpm").
	ListFiles(ctx context.Context, prefix, suffix string) ([]string, error)

	DownloadFile(ctx context.Context, path, localPath string) error
	UploadFile(ctx context.Context, localPath, path string) error

	// SyncFromStorage mirrors every object under prefix into localDir;
	// SyncToStorage uploads every file under localDir to prefix.
	SyncFromStorage(ctx context.Context, prefix, localDir string) error
	SyncToStorage(ctx context.Context, localDir, prefix string) error

	// URL renders a path as the backend's native location, for logs
	// and operator-facing messages.
	URL(path string) string
}

// ConflictChecker is implemented by backends that can detect a
// concurrent manifest change between read and write. The filesystem
// backend does not implement it.
type ConflictChecker interface {
	CheckUnchanged(ctx context.Context, path string) error
}
