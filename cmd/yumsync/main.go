package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/yumsync/yumsync/pkg/backend"
	"github.com/yumsync/yumsync/pkg/config"
	"github.com/yumsync/yumsync/pkg/repo"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if ctx.Err() != nil {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

// cliOptions carries the global flags every command shares.
type cliOptions struct {
	cfg          config.Config
	logLevel     string
	outputFormat string
	signRepodata bool
	signRPMs     bool
	gpgKey       string
	skipBackup   bool
	skipValidate bool
	dryRun       bool
}

func run(ctx context.Context, args []string) error {
	root := flag.NewFlagSet("yumsync", flag.ContinueOnError)
	root.SetOutput(os.Stderr)

	var configPath string
	var backendType string
	var localPath string
	var s3Bucket string
	var s3Prefix string
	var s3Endpoint string
	var awsProfile string
	var cacheDir string
	var opts cliOptions
	var showVersion bool
	root.StringVar(&configPath, "config", "", "config file path (default: yumsync.toml, ~/.config/yumsync/config.toml)")
	root.StringVar(&backendType, "backend", "", "backend to use (s3, local); overrides config")
	root.StringVar(&localPath, "local-path", "", "repository root for the local backend; overrides config")
	root.StringVar(&s3Bucket, "s3-bucket", "", "S3 bucket; overrides config")
	root.StringVar(&s3Prefix, "s3-prefix", "", "key prefix inside the bucket; overrides config")
	root.StringVar(&s3Endpoint, "s3-endpoint", "", "S3 endpoint URL for S3-compatible storage (e.g., MinIO)")
	root.StringVar(&awsProfile, "profile", "", "AWS shared-config profile")
	root.StringVar(&cacheDir, "cache-dir", "", "local staging directory for SQLite rebuilds")
	root.StringVar(&opts.logLevel, "log-level", "info", "log level (error, info)")
	root.StringVar(&opts.outputFormat, "output", "text", "output format for commands that support it (text, json)")
	root.BoolVar(&opts.signRepodata, "sign-repodata", false, "sign repomd.xml with gpg")
	root.BoolVar(&opts.signRPMs, "sign-rpms", false, "re-sign RPMs with rpmsign before adding")
	root.StringVar(&opts.gpgKey, "gpg-key", "", "GPG key ID to use when signing (default: gpg defaults)")
	root.BoolVar(&opts.skipBackup, "no-backup", false, "skip the pre-mutation metadata snapshot")
	root.BoolVar(&opts.skipValidate, "no-validate", false, "skip the post-mutation consistency check")
	root.BoolVar(&opts.dryRun, "dry-run", false, "show planned changes without writing")
	root.BoolVar(&showVersion, "version", false, "print version and exit")
	root.Usage = func() {
		fmt.Fprintf(root.Output(), "Usage: yumsync [global flags] <command> [args]\n")
		fmt.Fprintf(root.Output(), "Commands: init, add, remove, validate, config\n\n")
		root.PrintDefaults()
	}

	if err := root.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Fprintf(os.Stdout, "%s\n", version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if backendType != "" {
		cfg.Backend.Type = backendType
	}
	if localPath != "" {
		cfg.Backend.Local.Path = localPath
	}
	if s3Bucket != "" {
		cfg.Backend.S3.Bucket = s3Bucket
	}
	if s3Prefix != "" {
		cfg.Backend.S3.Prefix = s3Prefix
	}
	if s3Endpoint != "" {
		cfg.Backend.S3.Endpoint = s3Endpoint
	}
	if awsProfile != "" {
		cfg.Backend.S3.Profile = awsProfile
	}
	if cacheDir != "" {
		cfg.Repo.CacheDir = cacheDir
	}
	opts.cfg = cfg

	remaining := root.Args()
	if len(remaining) == 0 {
		root.Usage()
		return fmt.Errorf("missing command")
	}

	switch remaining[0] {
	case "init":
		return runInit(ctx, opts, remaining[1:])
	case "add":
		return runAdd(ctx, opts, remaining[1:])
	case "remove":
		return runRemove(ctx, opts, remaining[1:])
	case "validate":
		return runValidate(ctx, opts, remaining[1:])
	case "config":
		return runConfig(opts, remaining[1:])
	default:
		return fmt.Errorf("unknown command %q", remaining[0])
	}
}

func runInit(ctx context.Context, opts cliOptions, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var checksum string
	var force bool
	fs.StringVar(&checksum, "checksum", "", "checksum algorithm (sha256 or sha512); overrides config")
	fs.BoolVar(&force, "force", false, "overwrite an existing repository")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("init requires exactly one repository path (e.g. el9/x86_64)")
	}
	if checksum != "" {
		opts.cfg.Repo.Checksum = checksum
	}
	r, err := newRepo(ctx, opts)
	if err != nil {
		return err
	}
	repoPath := strings.Trim(fs.Arg(0), "/")
	if err := r.InitRepo(ctx, repoPath, force); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "initialized %s (checksum: %s)\n", repoPath, opts.cfg.Repo.Checksum)
	return nil
}

func runAdd(ctx context.Context, opts cliOptions, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	rpmPaths := fs.Args()
	if len(rpmPaths) == 0 {
		return fmt.Errorf("add requires at least one RPM path")
	}
	r, err := newRepo(ctx, opts)
	if err != nil {
		return err
	}
	return r.AddRPMs(ctx, rpmPaths, repo.AddOptions{
		DryRun:       opts.dryRun,
		SignRPMs:     opts.signRPMs,
		SignRepodata: opts.signRepodata,
		GPGKey:       opts.gpgKey,
	})
}

func runRemove(ctx context.Context, opts cliOptions, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var keepFiles bool
	fs.BoolVar(&keepFiles, "keep-files", false, "leave package objects in storage; only metadata forgets them")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	names := fs.Args()
	if len(names) == 0 {
		return fmt.Errorf("remove requires at least one package file name")
	}
	r, err := newRepo(ctx, opts)
	if err != nil {
		return err
	}
	return r.RemoveRPMs(ctx, names, repo.RemoveOptions{
		KeepFiles:    keepFiles,
		DryRun:       opts.dryRun,
		SignRepodata: opts.signRepodata,
		GPGKey:       opts.gpgKey,
	})
}

func runValidate(ctx context.Context, opts cliOptions, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var full bool
	fs.BoolVar(&full, "full", false, "also cross-check SQLite databases and package objects")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("validate requires exactly one repository path (e.g. el9/x86_64)")
	}
	r, err := newRepo(ctx, opts)
	if err != nil {
		return err
	}
	repoPath := strings.Trim(fs.Arg(0), "/")
	rep := r.Validate(ctx, repoPath, full)

	switch opts.outputFormat {
	case "text":
		for _, f := range rep.Findings {
			fmt.Fprintf(os.Stdout, "%s: %s\n", f.Severity, f.Message)
		}
		if err := rep.Err(); err != nil {
			return fmt.Errorf("%s failed validation", repoPath)
		}
		fmt.Fprintf(os.Stdout, "%s ok (%d packages)\n", repoPath, rep.Packages)
	case "json":
		if err := json.NewEncoder(os.Stdout).Encode(rep); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		if rep.Err() != nil {
			return fmt.Errorf("%s failed validation", repoPath)
		}
	default:
		return fmt.Errorf("unknown output format %q", opts.outputFormat)
	}
	return nil
}

func runConfig(opts cliOptions, args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	out, err := opts.cfg.Dump()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func newRepo(ctx context.Context, opts cliOptions) (*repo.Repo, error) {
	if err := opts.cfg.Validate(); err != nil {
		return nil, err
	}
	b, err := buildBackend(ctx, opts.cfg)
	if err != nil {
		return nil, err
	}
	r := repo.New(b)
	r.CacheDir = opts.cfg.CacheDir()
	if err := os.MkdirAll(r.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	r.Checksum = opts.cfg.Repo.Checksum
	r.SkipValidation = opts.skipValidate || !opts.cfg.Validation.Enabled
	r.SkipBackup = opts.skipBackup || !opts.cfg.Behavior.Backup
	switch strings.ToLower(opts.logLevel) {
	case "error":
		r.WithLogger(io.Discard)
	case "info":
	default:
		return nil, fmt.Errorf("unknown log level %q", opts.logLevel)
	}
	return r, nil
}

func buildBackend(ctx context.Context, cfg config.Config) (backend.Backend, error) {
	switch cfg.Backend.Type {
	case "local":
		return backend.NewFSBackend(cfg.StorageRoot()), nil
	case "s3":
		return backend.NewS3Backend(ctx, cfg.StorageRoot(), backend.S3Options{
			Endpoint: cfg.Backend.S3.Endpoint,
			Profile:  cfg.Backend.S3.Profile,
		})
	default:
		return nil, fmt.Errorf("backend %q not implemented", cfg.Backend.Type)
	}
}
