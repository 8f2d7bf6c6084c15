package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yumsync/yumsync/pkg/metadata"
)

func TestInitRepo(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)

	if err := r.InitRepo(ctx, "el9/x86_64", false); err != nil {
		t.Fatalf("InitRepo: %v", err)
	}
	raw, err := mb.ReadFile(ctx, "el9/x86_64/repodata/repomd.xml")
	if err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	md, err := metadata.ParseRepoMD(raw)
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if len(md.Data) != 6 {
		t.Fatalf("expected 6 manifest entries, got %d", len(md.Data))
	}
	for _, typ := range []string{"primary", "filelists", "other", "primary_db", "filelists_db", "other_db"} {
		d := metadata.FindData(md, typ)
		if d == nil {
			t.Fatalf("manifest missing %s entry", typ)
		}
		if exists, _ := mb.Exists(ctx, "el9/x86_64/"+d.Location.Href); !exists {
			t.Fatalf("%s object missing at %s", typ, d.Location.Href)
		}
	}

	if err := r.InitRepo(ctx, "el9/x86_64", false); err == nil {
		t.Fatalf("expected error re-initializing without force")
	}
	if err := r.InitRepo(ctx, "el9/x86_64", true); err != nil {
		t.Fatalf("InitRepo force: %v", err)
	}
}

func TestRemoveRPMsDropsMetadataAndObject(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	beta := testPackage("beta", "2.0.0", "el9", "x86_64", "bbb222")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha, beta})

	if err := r.RemoveRPMs(ctx, []string{alpha.Location}, RemoveOptions{}); err != nil {
		t.Fatalf("RemoveRPMs: %v", err)
	}

	names := publishedNames(t, r, "el9/x86_64")
	if len(names) != 1 || names[0] != "beta" {
		t.Fatalf("expected only beta published, got %v", names)
	}
	if exists, _ := mb.Exists(ctx, "el9/x86_64/"+alpha.Location); exists {
		t.Fatalf("expected %s deleted from storage", alpha.Location)
	}
	if exists, _ := mb.Exists(ctx, "el9/x86_64/"+beta.Location); !exists {
		t.Fatalf("expected %s retained in storage", beta.Location)
	}
	if backups := mb.backupPaths(); len(backups) != 0 {
		t.Fatalf("expected backup discarded after commit, found %v", backups)
	}
}

func TestRemoveRPMsKeepFiles(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha})

	if err := r.RemoveRPMs(ctx, []string{alpha.Location}, RemoveOptions{KeepFiles: true}); err != nil {
		t.Fatalf("RemoveRPMs: %v", err)
	}
	if exists, _ := mb.Exists(ctx, "el9/x86_64/"+alpha.Location); !exists {
		t.Fatalf("expected %s kept in storage", alpha.Location)
	}
	if names := publishedNames(t, r, "el9/x86_64"); len(names) != 0 {
		t.Fatalf("expected empty metadata, got %v", names)
	}
}

func TestRemoveRPMsNotFound(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)

	err := r.RemoveRPMs(ctx, []string{"ghost-1.0-1.el9.x86_64.rpm"}, RemoveOptions{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing repository, got %v", err)
	}

	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha})
	err = r.RemoveRPMs(ctx, []string{"ghost-1.0-1.el9.x86_64.rpm"}, RemoveOptions{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing package, got %v", err)
	}
}

func TestRemoveRPMsMixedTargets(t *testing.T) {
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	err := r.RemoveRPMs(context.Background(), []string{
		"alpha-1.0.0-1.el9.x86_64.rpm",
		"beta-1.0.0-1.el8.x86_64.rpm",
	}, RemoveOptions{})
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestRemoveRPMsDryRun(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha})
	before := append([]byte(nil), mb.files[manifestPath("el9/x86_64")]...)

	if err := r.RemoveRPMs(ctx, []string{alpha.Location}, RemoveOptions{DryRun: true}); err != nil {
		t.Fatalf("RemoveRPMs dry run: %v", err)
	}
	if !bytes.Equal(before, mb.files[manifestPath("el9/x86_64")]) {
		t.Fatalf("dry run must not touch the manifest")
	}
	if exists, _ := mb.Exists(ctx, "el9/x86_64/"+alpha.Location); !exists {
		t.Fatalf("dry run must not delete objects")
	}
}

func TestTargetFromFilename(t *testing.T) {
	cases := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"alpha-1.0.0-1.el9.x86_64.rpm", "el9/x86_64", false},
		{"beta-2.1-3.el8.noarch.rpm", "el8/noarch", false},
		{"gamma-1.2-12.el8_9.2.aarch64.rpm", "el8/aarch64", false},
		{"delta-1.0-1.fc39.x86_64.rpm", "", true},
		{"not-an-rpm.txt", "", true},
	}
	for _, tc := range cases {
		got, err := targetFromFilename(tc.name)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestWithBackupRestoresOnFailure(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha})
	before := append([]byte(nil), mb.files[manifestPath("el9/x86_64")]...)

	boom := errors.New("mutation exploded")
	now := time.Unix(1700000100, 0).UTC()
	err := r.withBackup(ctx, "el9/x86_64", now, func() error {
		// Corrupt the live manifest, then fail.
		if err := mb.WriteFile(ctx, manifestPath("el9/x86_64"), []byte("garbage")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	if !bytes.Equal(before, mb.files[manifestPath("el9/x86_64")]) {
		t.Fatalf("manifest not restored after failed mutation")
	}
	backups := mb.backupPaths()
	if len(backups) == 0 {
		t.Fatalf("expected backup retained after failed mutation")
	}
	for _, b := range backups {
		if !strings.HasPrefix(b, "el9/x86_64/repodata.backup-") {
			t.Fatalf("unexpected backup path %s", b)
		}
	}
}

func TestWithBackupRestoreFailure(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha})

	boom := errors.New("mutation exploded")
	restoreFail := errors.New("copy refused")
	now := time.Unix(1700000100, 0).UTC()
	err := r.withBackup(ctx, "el9/x86_64", now, func() error {
		// Snapshot is done; make the restore path fail.
		mb.failCopy = func(src, dst string) error {
			if strings.Contains(src, "repodata.backup-") {
				return restoreFail
			}
			return nil
		}
		return boom
	})
	var re *RestoreError
	if !errors.As(err, &re) {
		t.Fatalf("expected RestoreError, got %v", err)
	}
	if !errors.Is(re.Op, boom) || !errors.Is(re.Restore, restoreFail) {
		t.Fatalf("RestoreError should carry both causes: %v", re)
	}
	if !strings.HasPrefix(re.BackupPath, "el9/x86_64/repodata.backup-") {
		t.Fatalf("unexpected backup path %s", re.BackupPath)
	}
}

func TestWithBackupSkip(t *testing.T) {
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	r.SkipBackup = true
	called := false
	err := r.withBackup(context.Background(), "el9/x86_64", time.Now(), func() error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected direct mutate call, err=%v called=%v", err, called)
	}
	if backups := mb.backupPaths(); len(backups) != 0 {
		t.Fatalf("expected no backup with SkipBackup, found %v", backups)
	}
}

type conflictBackend struct {
	memBackend
}

func (c *conflictBackend) CheckUnchanged(ctx context.Context, path string) error {
	return fmt.Errorf("etag conflict on %s", path)
}

func TestPublishMetadataConflict(t *testing.T) {
	cb := &conflictBackend{memBackend{files: make(map[string][]byte)}}
	r := newTestRepo(t, &cb.memBackend)
	r.backend = cb
	err := r.publishMetadata(context.Background(), "el9/x86_64", nil, metadata.RepoMD{}, nil)
	if err == nil || !strings.Contains(err.Error(), "etag conflict") {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestPublishMetadataCleansStaleFiles(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha})

	stale := "el9/x86_64/repodata/deadbeef-primary.xml.gz"
	mb.files[stale] = []byte("old descriptor")

	if err := r.RemoveRPMs(ctx, []string{alpha.Location}, RemoveOptions{}); err != nil {
		t.Fatalf("RemoveRPMs: %v", err)
	}
	if exists, _ := mb.Exists(ctx, stale); exists {
		t.Fatalf("expected stale metadata file deleted")
	}
}

func TestMutationPreservesUnknownManifestTypes(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	beta := testPackage("beta", "2.0.0", "el9", "x86_64", "bbb222")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha, beta})

	// Graft a modules entry onto the seeded manifest, the way a
	// modularity-aware publisher would have left it.
	raw := mb.files[manifestPath("el9/x86_64")]
	md, err := metadata.ParseRepoMD(raw)
	if err != nil {
		t.Fatalf("parse seeded manifest: %v", err)
	}
	md.Data = append(md.Data, metadata.RepoData{
		Type:     "modules",
		Checksum: metadata.Checksum{Type: "sha256", Value: "743fecf679604340c375ea33af70e0b71bfe1389bd2f0be8eb0e9d9c390497fd"},
		Location: metadata.Location{Href: "repodata/743fecf679604340c375ea33af70e0b71bfe1389bd2f0be8eb0e9d9c390497fd-modules.yaml.gz"},
	})
	raw, err = metadata.MarshalRepoMD(md)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	mb.files[manifestPath("el9/x86_64")] = raw
	mb.files["el9/x86_64/repodata/743fecf679604340c375ea33af70e0b71bfe1389bd2f0be8eb0e9d9c390497fd-modules.yaml.gz"] = []byte("modules payload")

	if err := r.RemoveRPMs(ctx, []string{alpha.Location}, RemoveOptions{}); err != nil {
		t.Fatalf("RemoveRPMs: %v", err)
	}
	after, err := metadata.ParseRepoMD(mb.files[manifestPath("el9/x86_64")])
	if err != nil {
		t.Fatalf("parse rewritten manifest: %v", err)
	}
	if metadata.FindData(after, "modules") == nil {
		t.Fatalf("modules entry dropped by rewrite")
	}
	if exists, _ := mb.Exists(ctx, "el9/x86_64/repodata/743fecf679604340c375ea33af70e0b71bfe1389bd2f0be8eb0e9d9c390497fd-modules.yaml.gz"); !exists {
		t.Fatalf("modules payload deleted by cleanup")
	}
}

func TestAssembleRepoMDReplacesCoreWholesale(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	old := metadata.RepoMD{
		Xmlns: metadata.RepoNamespace,
		Data: []metadata.RepoData{
			{Type: "primary"},
			{Type: "filelists"},
			{Type: "other"},
			{Type: "primary_db"},
			{Type: "prestodelta"},
			{Type: "modules"},
		},
	}
	core := []metadata.CoreFile{
		{Type: "primary", Checksum: "a", OpenChecksum: "b", Path: "repodata/a-primary.xml.gz"},
	}
	md, warnings := assembleRepoMD(old, core, "sha256", now)
	if len(md.Data) != 2 {
		t.Fatalf("expected primary + modules, got %d entries", len(md.Data))
	}
	if metadata.FindData(md, "prestodelta") != nil {
		t.Fatalf("prestodelta must not survive a rewrite")
	}
	if metadata.FindData(md, "modules") == nil {
		t.Fatalf("modules entry should carry over")
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
	if md.Revision != fmt.Sprintf("%d", now.Unix()) {
		t.Fatalf("revision %s, want %d", md.Revision, now.Unix())
	}
}

func TestClassify(t *testing.T) {
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	beta := testPackage("beta", "2.0.0", "el9", "x86_64", "bbb222")
	rec := ChecksumRecord{
		alpha.Location: "aaa111",
		beta.Location:  "old-checksum",
	}
	gamma := testPackage("gamma", "3.0.0", "el9", "x86_64", "ccc333")

	cls := rec.Classify([]metadata.Package{alpha, beta, gamma})
	if len(cls.Duplicates) != 1 || cls.Duplicates[0].Name != "alpha" {
		t.Fatalf("alpha should classify as duplicate: %+v", cls)
	}
	if len(cls.Updates) != 1 || cls.Updates[0].Name != "beta" {
		t.Fatalf("beta should classify as update: %+v", cls)
	}
	if len(cls.New) != 1 || cls.New[0].Name != "gamma" {
		t.Fatalf("gamma should classify as new: %+v", cls)
	}
	changed := cls.Changed()
	if len(changed) != 2 {
		t.Fatalf("expected 2 changed packages, got %d", len(changed))
	}
}

func TestRemoveEntriesCascades(t *testing.T) {
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	beta := testPackage("beta", "2.0.0", "el9", "x86_64", "bbb222")
	set, err := metadata.RenderDescriptors([]metadata.Package{alpha, beta})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	out, err := removeEntries(set, map[string]bool{alpha.Location: true})
	if err != nil {
		t.Fatalf("removeEntries: %v", err)
	}
	doc, err := metadata.ParsePrimary(out.Primary)
	if err != nil {
		t.Fatalf("parse primary: %v", err)
	}
	if len(doc.Packages) != 1 || doc.Packages[0].Name != "beta" {
		t.Fatalf("expected only beta in primary, got %+v", doc.Packages)
	}
	fl, err := metadata.ParseFilelists(out.Filelists)
	if err != nil {
		t.Fatalf("parse filelists: %v", err)
	}
	if len(fl.Packages) != 1 || fl.Packages[0].PkgID != "bbb222" {
		t.Fatalf("filelists should only keep beta, got %+v", fl.Packages)
	}
	o, err := metadata.ParseOther(out.Other)
	if err != nil {
		t.Fatalf("parse other: %v", err)
	}
	if len(o.Packages) != 1 || o.Packages[0].PkgID != "bbb222" {
		t.Fatalf("other should only keep beta, got %+v", o.Packages)
	}
}

func TestAddPackagesIdempotentDedup(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha})
	before := append([]byte(nil), mb.files[manifestPath("el9/x86_64")]...)

	var writes []string
	mb.failWrite = func(path string) error {
		writes = append(writes, path)
		return nil
	}
	payloads := map[string][]byte{alpha.Location: []byte("rpmdata-alpha")}
	if err := r.addPackages(ctx, []metadata.Package{alpha}, payloads, AddOptions{}); err != nil {
		t.Fatalf("re-adding identical content should succeed as a no-op: %v", err)
	}
	if len(writes) != 0 {
		t.Fatalf("no-op add wrote to storage: %v", writes)
	}
	if !bytes.Equal(mb.files[manifestPath("el9/x86_64")], before) {
		t.Fatalf("no-op add changed the manifest")
	}
	if got := mb.backupPaths(); len(got) != 0 {
		t.Fatalf("no-op add took a backup: %v", got)
	}
}

func TestAddPackagesChecksumUpdate(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	beta := testPackage("beta", "2.0.0", "el9", "x86_64", "bbb222")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha, beta})

	rebuilt := testPackage("alpha", "1.0.0", "el9", "x86_64", "ccc333")
	payloads := map[string][]byte{rebuilt.Location: []byte("rpmdata-alpha-v2")}
	if err := r.addPackages(ctx, []metadata.Package{rebuilt}, payloads, AddOptions{}); err != nil {
		t.Fatalf("update add failed: %v", err)
	}

	names := publishedNames(t, r, "el9/x86_64")
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Fatalf("package set changed on update: %v", names)
	}
	_, set, _, err := r.loadMetadata(ctx, "el9/x86_64")
	if err != nil {
		t.Fatalf("load metadata: %v", err)
	}
	doc, err := metadata.ParsePrimary(set.Primary)
	if err != nil {
		t.Fatalf("parse primary: %v", err)
	}
	for _, p := range doc.Packages {
		if p.Name == "alpha" && p.PkgID != "ccc333" {
			t.Errorf("alpha pkgId = %s, want ccc333", p.PkgID)
		}
	}
	if got := string(mb.files["el9/x86_64/"+rebuilt.Location]); got != "rpmdata-alpha-v2" {
		t.Errorf("package object not overwritten: %q", got)
	}
	if got := mb.backupPaths(); len(got) != 0 {
		t.Errorf("backup retained after committed update: %v", got)
	}
}

func TestAddRPMsRejectsDuplicateBasenames(t *testing.T) {
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	paths := []string{
		filepath.Join("a", "dup-1.0.0-1.el9.x86_64.rpm"),
		filepath.Join("b", "dup-1.0.0-1.el9.x86_64.rpm"),
	}
	err := r.AddRPMs(context.Background(), paths, AddOptions{})
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected mismatch error for duplicate basenames, got %v", err)
	}
}

func TestBackendFailureIsTyped(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	beta := testPackage("beta", "2.0.0", "el9", "x86_64", "bbb222")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha, beta})

	boom := errors.New("socket closed")
	mb.failWrite = func(path string) error {
		if strings.Contains(path, "repodata/") {
			return boom
		}
		return nil
	}
	err := r.RemoveRPMs(ctx, []string{beta.Location}, RemoveOptions{})
	if !errors.Is(err, ErrBackendFailure) {
		t.Fatalf("publish write failure should carry the backend kind: %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("underlying error lost from the chain: %v", err)
	}

	mb.failWrite = nil
	mb.failCopy = func(src, dst string) error { return boom }
	err = r.RemoveRPMs(ctx, []string{beta.Location}, RemoveOptions{})
	if !errors.Is(err, ErrBackendFailure) {
		t.Fatalf("snapshot copy failure should carry the backend kind: %v", err)
	}
}
