package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Backend.Type != "s3" {
		t.Errorf("backend type = %q", cfg.Backend.Type)
	}
	if cfg.Repo.Checksum != "sha256" {
		t.Errorf("checksum = %q", cfg.Repo.Checksum)
	}
	if !cfg.Validation.Enabled {
		t.Error("validation should default on")
	}
	if !cfg.Behavior.Backup {
		t.Error("backup should default on")
	}
}

func TestParseTOML(t *testing.T) {
	data := []byte(`
[backend]
type = "s3"

[backend.s3]
bucket = "repo-bucket"
prefix = "repos/prod"
endpoint = "http://minio:9000"
profile = "deploy"

[repo]
cache_dir = "/var/cache/yumsync"

[validation]
enabled = false
`)
	cfg, err := Parse("yumsync.toml", data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.S3.Bucket != "repo-bucket" || cfg.Backend.S3.Profile != "deploy" {
		t.Errorf("s3 config: %+v", cfg.Backend.S3)
	}
	if cfg.Repo.CacheDir != "/var/cache/yumsync" {
		t.Errorf("cache dir = %q", cfg.Repo.CacheDir)
	}
	if cfg.Validation.Enabled {
		t.Error("validation should be off")
	}
	// Unset sections keep defaults.
	if cfg.Repo.Checksum != "sha256" {
		t.Errorf("checksum = %q", cfg.Repo.Checksum)
	}
	if cfg.StorageRoot() != "s3://repo-bucket/repos/prod" {
		t.Errorf("storage root = %q", cfg.StorageRoot())
	}
}

func TestParseLegacyJSON(t *testing.T) {
	data := []byte(`{
  "storage_type": "local",
  "s3_bucket": "old-bucket",
  "aws_profile": "legacy",
  "s3_endpoint_url": "http://minio:9000",
  "local_storage_path": "/srv/repos",
  "local_repo_base": "/tmp/staging"
}`)
	cfg, err := Parse("config.json", data)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.Type != "local" {
		t.Errorf("backend type = %q", cfg.Backend.Type)
	}
	if cfg.Backend.S3.Bucket != "old-bucket" || cfg.Backend.S3.Profile != "legacy" {
		t.Errorf("migrated s3 config: %+v", cfg.Backend.S3)
	}
	if cfg.Backend.Local.Path != "/srv/repos" {
		t.Errorf("local path = %q", cfg.Backend.Local.Path)
	}
	if cfg.Repo.CacheDir != "/tmp/staging" {
		t.Errorf("cache dir = %q", cfg.Repo.CacheDir)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.Type != "s3" {
		t.Errorf("backend type = %q", cfg.Backend.Type)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yumsync.toml")
	content := "[backend]\ntype = \"local\"\n\n[backend.local]\npath = \"/srv/repos\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend.Type != "local" || cfg.Backend.Local.Path != "/srv/repos" {
		t.Errorf("loaded config: %+v", cfg.Backend)
	}
	if cfg.StorageRoot() != "/srv/repos" {
		t.Errorf("storage root = %q", cfg.StorageRoot())
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("s3 backend without bucket should fail validation")
	}
	cfg.Backend.S3.Bucket = "b"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid s3 config: %v", err)
	}

	cfg.Backend.Type = "local"
	if err := cfg.Validate(); err == nil {
		t.Error("local backend without path should fail validation")
	}
	cfg.Backend.Local.Path = "/srv/repos"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid local config: %v", err)
	}

	cfg.Backend.Type = "ftp"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown backend type should fail validation")
	}
}

func TestDumpRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Backend.S3.Bucket = "bucket"
	out, err := cfg.Dump()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `bucket = "bucket"`) {
		t.Errorf("dump missing bucket:\n%s", out)
	}
	back, err := Parse("dump.toml", out)
	if err != nil {
		t.Fatal(err)
	}
	if back.Backend.S3.Bucket != "bucket" {
		t.Errorf("round trip lost bucket: %+v", back.Backend.S3)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/yum-repo"); got != filepath.Join(home, "yum-repo") {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path changed: %q", got)
	}
}
