package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options configures the object store client beyond the bucket URI.
type S3Options struct {
	// Endpoint points the client at S3-compatible storage (MinIO etc.)
	// with path-style addressing. Empty means AWS.
	Endpoint string
	// Profile selects a shared-config credentials profile.
	Profile string
}

type S3Backend struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	prefix     string

	mu    sync.Mutex
	etags map[string]string // manifest key -> ETag observed at read
}

// NewS3Backend creates a backend for the provided s3://bucket/prefix root.
func NewS3Backend(ctx context.Context, root string, opts S3Options) (*S3Backend, error) {
	bucket, prefix, err := parseS3URI(root)
	if err != nil {
		return nil, err
	}
	var loadOpts []func(*config.LoadOptions) error
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true // required for MinIO and most S3-compatible storage
		})
	}

	client := s3.NewFromConfig(cfg, clientOpts...)
	return &S3Backend{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
		prefix:     prefix,
		etags:      make(map[string]string),
	}, nil
}

func (b *S3Backend) URL(p string) string {
	return fmt.Sprintf("s3://%s/%s", b.bucket, b.key(p))
}

func (b *S3Backend) key(p string) string {
	return keyJoin(b.prefix, p)
}

func keyJoin(prefix, p string) string {
	if p == "" {
		return strings.TrimSuffix(prefix, "/")
	}
	p = path.Clean(p)
	if p == "." {
		return strings.TrimSuffix(prefix, "/")
	}
	p = strings.TrimPrefix(p, "/")
	if prefix == "" {
		return p
	}
	return strings.TrimSuffix(prefix, "/") + "/" + p
}

func parseS3URI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("invalid s3 uri %q", uri)
	}
	trim := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trim, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in uri %q", uri)
	}
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}

func isManifest(p string) bool {
	return strings.HasSuffix(p, "repomd.xml")
}

func (b *S3Backend) Exists(ctx context.Context, p string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	if err == nil {
		return true, nil
	}
	var nfe *s3types.NotFound
	if errors.As(err, &nfe) {
		return false, nil
	}
	return false, err
}

func (b *S3Backend) ReadFile(ctx context.Context, p string) ([]byte, error) {
	key := b.key(p)
	obj, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, err
	}
	if isManifest(p) && obj.ETag != nil {
		b.mu.Lock()
		b.etags[key] = strings.Trim(*obj.ETag, "\"")
		b.mu.Unlock()
	}
	return data, nil
}

func (b *S3Backend) WriteFile(ctx context.Context, p string, data []byte) error {
	key := b.key(p)
	// Manifest writes are conditional on the ETag observed at read so a
	// concurrent writer fails the put instead of silently losing data.
	if isManifest(p) {
		b.mu.Lock()
		etag := b.etags[key]
		b.mu.Unlock()
		if etag != "" {
			_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:  aws.String(b.bucket),
				Key:     aws.String(key),
				Body:    bytes.NewReader(data),
				IfMatch: aws.String(etag),
			})
			return err
		}
	}
	return b.putObject(ctx, key, data)
}

func (b *S3Backend) putObject(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (b *S3Backend) DeleteFile(ctx context.Context, p string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	return err
}

func (b *S3Backend) CopyFile(ctx context.Context, src, dst string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.bucket),
		CopySource: aws.String(path.Join("/", b.bucket, b.key(src))),
		Key:        aws.String(b.key(dst)),
	})
	return err
}

func (b *S3Backend) ListFiles(ctx context.Context, prefix, suffix string) ([]string, error) {
	var out []string
	base := keyJoin(b.prefix, "")
	// A trailing slash keeps "repodata" from matching sibling keys
	// like "repodata.backup-...".
	key := keyJoin(b.prefix, prefix)
	if key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(key),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			rel := strings.TrimPrefix(strings.TrimPrefix(*obj.Key, base), "/")
			if suffix != "" && !strings.HasSuffix(rel, suffix) {
				continue
			}
			out = append(out, rel)
		}
	}
	return out, nil
}

func (b *S3Backend) DownloadFile(ctx context.Context, p, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = b.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
	})
	return err
}

func (b *S3Backend) UploadFile(ctx context.Context, localPath, p string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(p)),
		Body:   f,
	})
	return err
}

func (b *S3Backend) SyncFromStorage(ctx context.Context, prefix, localDir string) error {
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

func (b *S3Backend) SyncToStorage(ctx context.Context, localDir, prefix string) error {
	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(localDir, p)
		if relErr != nil {
			return relErr
		}
		return b.UploadFile(ctx, p, joinPath(prefix, filepath.ToSlash(rel)))
	})
}

// CheckUnchanged compares the current manifest ETag against the one
// cached at read time.
func (b *S3Backend) CheckUnchanged(ctx context.Context, p string) error {
	key := b.key(p)
	b.mu.Lock()
	etag := b.etags[key]
	b.mu.Unlock()
	if etag == "" {
		return nil
	}
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	current := strings.Trim(aws.ToString(head.ETag), "\"")
	if current != etag {
		return fmt.Errorf("conflict: %s changed since read (etag %s -> %s)", p, etag, current)
	}
	return nil
}
