// Package config loads tool configuration from TOML, with migration
// support for the legacy flat-key JSON format.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the full tool configuration.
type Config struct {
	Backend    BackendConfig    `toml:"backend"`
	Repo       RepoConfig       `toml:"repo"`
	Validation ValidationConfig `toml:"validation"`
	Behavior   BehaviorConfig   `toml:"behavior"`
}

type BackendConfig struct {
	// Type selects the storage implementation: "s3" or "local".
	Type  string      `toml:"type"`
	S3    S3Config    `toml:"s3"`
	Local LocalConfig `toml:"local"`
}

type S3Config struct {
	Bucket   string `toml:"bucket"`
	Prefix   string `toml:"prefix"`
	Endpoint string `toml:"endpoint"`
	Profile  string `toml:"profile"`
}

type LocalConfig struct {
	Path string `toml:"path"`
}

type RepoConfig struct {
	// CacheDir is the local staging directory for metadata rebuilds.
	CacheDir string `toml:"cache_dir"`
	// Checksum names the digest algorithm for package identity and
	// metadata file naming.
	Checksum string `toml:"checksum"`
}

type ValidationConfig struct {
	// Enabled runs the quick consistency check after every mutation.
	Enabled bool `toml:"enabled"`
}

type BehaviorConfig struct {
	Backup bool `toml:"backup"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend: BackendConfig{Type: "s3"},
		Repo: RepoConfig{
			CacheDir: "~/yum-repo",
			Checksum: "sha256",
		},
		Validation: ValidationConfig{Enabled: true},
		Behavior:   BehaviorConfig{Backup: true},
	}
}

// Load reads configuration from path, or from the first standard
// location when path is empty. A missing file yields the defaults. A
// legacy JSON file is migrated transparently.
func Load(path string) (Config, error) {
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, err
	}
	return Parse(path, data)
}

// Parse decodes config bytes, dispatching on content: JSON documents
// are treated as the legacy flat-key format.
func Parse(path string, data []byte) (Config, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return migrateLegacy(data)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// legacyKeyMap translates flat legacy keys to their current homes.
var legacyKeyMap = map[string]string{
	"storage_type":       "backend.type",
	"s3_bucket":          "backend.s3.bucket",
	"aws_profile":        "backend.s3.profile",
	"s3_endpoint_url":    "backend.s3.endpoint",
	"local_storage_path": "backend.local.path",
	"local_repo_base":    "repo.cache_dir",
}

func migrateLegacy(data []byte) (Config, error) {
	var flat map[string]interface{}
	if err := json.Unmarshal(data, &flat); err != nil {
		return Config{}, fmt.Errorf("parse legacy config: %w", err)
	}
	cfg := Default()
	for key, value := range flat {
		if mapped, ok := legacyKeyMap[key]; ok {
			key = mapped
		}
		cfg.applyKey(key, value)
	}
	return cfg, nil
}

func (c *Config) applyKey(key string, value interface{}) {
	str := func() string {
		s, _ := value.(string)
		return s
	}
	switch key {
	case "backend.type":
		c.Backend.Type = str()
	case "backend.s3.bucket":
		c.Backend.S3.Bucket = str()
	case "backend.s3.prefix":
		c.Backend.S3.Prefix = str()
	case "backend.s3.endpoint":
		c.Backend.S3.Endpoint = str()
	case "backend.s3.profile":
		c.Backend.S3.Profile = str()
	case "backend.local.path":
		c.Backend.Local.Path = str()
	case "repo.cache_dir":
		c.Repo.CacheDir = str()
	case "repo.checksum":
		c.Repo.Checksum = str()
	case "validation.enabled":
		if b, ok := value.(bool); ok {
			c.Validation.Enabled = b
		}
	case "behavior.backup":
		if b, ok := value.(bool); ok {
			c.Behavior.Backup = b
		}
	}
}

// Validate checks that the backend selection is usable.
func (c Config) Validate() error {
	switch c.Backend.Type {
	case "s3":
		if c.Backend.S3.Bucket == "" {
			return fmt.Errorf("backend.s3.bucket is required for the s3 backend")
		}
	case "local":
		if c.Backend.Local.Path == "" {
			return fmt.Errorf("backend.local.path is required for the local backend")
		}
	default:
		return fmt.Errorf("unknown backend type %q", c.Backend.Type)
	}
	if c.Repo.Checksum == "" {
		return fmt.Errorf("repo.checksum must not be empty")
	}
	return nil
}

// StorageRoot renders the backend root location: an s3:// URI or a
// local directory.
func (c Config) StorageRoot() string {
	if c.Backend.Type == "local" {
		return ExpandHome(c.Backend.Local.Path)
	}
	root := "s3://" + c.Backend.S3.Bucket
	if c.Backend.S3.Prefix != "" {
		root += "/" + strings.Trim(c.Backend.S3.Prefix, "/")
	}
	return root
}

// CacheDir returns the staging directory with ~ expanded.
func (c Config) CacheDir() string {
	return ExpandHome(c.Repo.CacheDir)
}

// Dump renders the configuration as TOML.
func (c Config) Dump() ([]byte, error) {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

func findConfigFile() string {
	if env := os.Getenv("YUMSYNC_CONFIG"); env != "" {
		return env
	}
	candidates := []string{"yumsync.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".config", "yumsync", "config.toml"),
			filepath.Join(home, ".config", "yumsync", "config.json"),
		)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
