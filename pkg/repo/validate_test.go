package repo

import (
	"context"
	"strings"
	"testing"

	"github.com/yumsync/yumsync/pkg/metadata"
)

func findingMessages(rep *Report, sev Severity) []string {
	var out []string
	for _, f := range rep.Findings {
		if f.Severity == sev {
			out = append(out, f.Message)
		}
	}
	return out
}

func TestValidateCleanRepo(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	beta := testPackage("beta", "2.0.0", "el9", "x86_64", "bbb222")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha, beta})

	rep := r.Validate(ctx, "el9/x86_64", true)
	if err := rep.Err(); err != nil {
		t.Fatalf("clean repository should validate: %v", err)
	}
	if rep.Packages != 2 {
		t.Fatalf("expected 2 packages, got %d", rep.Packages)
	}
	if warns := findingMessages(rep, SeverityWarning); len(warns) != 0 {
		t.Fatalf("unexpected warnings: %v", warns)
	}
}

func TestValidateMissingManifest(t *testing.T) {
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	rep := r.Validate(context.Background(), "el9/x86_64", false)
	if rep.Err() == nil {
		t.Fatalf("expected error for missing manifest")
	}
}

func TestValidateDetectsTamperedDescriptor(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha})

	md, err := metadata.ParseRepoMD(mb.files[manifestPath("el9/x86_64")])
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	primary := metadata.FindData(md, "primary")
	mb.files["el9/x86_64/"+primary.Location.Href] = []byte("tampered")

	rep := r.Validate(ctx, "el9/x86_64", false)
	err = rep.Err()
	if err == nil {
		t.Fatalf("expected checksum finding for tampered descriptor")
	}
	if !strings.Contains(err.Error(), "checksum") {
		t.Fatalf("finding should mention the checksum: %v", err)
	}
}

func TestValidateFullFlagsOrphans(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha})

	mb.files["el9/x86_64/orphan-9.9-1.el9.x86_64.rpm"] = []byte("unreferenced")
	mb.files["el9/x86_64/repodata/cafe42-primary.xml.gz"] = []byte("stale")

	rep := r.Validate(ctx, "el9/x86_64", true)
	warns := strings.Join(findingMessages(rep, SeverityWarning), "\n")
	if !strings.Contains(warns, "orphan-9.9-1.el9.x86_64.rpm") {
		t.Fatalf("expected orphan package warning, got: %s", warns)
	}
	if !strings.Contains(warns, "cafe42-primary.xml.gz") {
		t.Fatalf("expected stale metadata warning, got: %s", warns)
	}
}

func TestHasPrefixedRoot(t *testing.T) {
	prefixed := []byte(`<?xml version="1.0"?>` + "\n" + `<ns0:metadata xmlns:ns0="x"><ns0:package/></ns0:metadata>`)
	if !hasPrefixedRoot(prefixed) {
		t.Fatalf("expected prefixed root detection")
	}
	plain := []byte(`<?xml version="1.0"?>` + "\n" + `<metadata xmlns="x"/>`)
	if hasPrefixedRoot(plain) {
		t.Fatalf("default-namespace document flagged as prefixed")
	}
}

func TestValidateFullDetectsMissingObject(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	r := newTestRepo(t, mb)
	alpha := testPackage("alpha", "1.0.0", "el9", "x86_64", "aaa111")
	seedRepo(t, r, mb, "el9/x86_64", []metadata.Package{alpha})

	if err := mb.DeleteFile(ctx, "el9/x86_64/"+alpha.Location); err != nil {
		t.Fatalf("delete object: %v", err)
	}
	rep := r.Validate(ctx, "el9/x86_64", true)
	err := rep.Err()
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected missing-object finding, got %v", err)
	}
}
