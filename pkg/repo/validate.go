package repo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yumsync/yumsync/pkg/checksum"
	"github.com/yumsync/yumsync/pkg/metadata"
	"github.com/yumsync/yumsync/pkg/sqlite"
)

// Severity ranks a validation finding.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Finding is one validation observation.
type Finding struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Report collects the findings of one validation run.
type Report struct {
	RepoPath string    `json:"repo_path"`
	Findings []Finding `json:"findings"`
	Packages int       `json:"packages"`
}

func (rep *Report) errorf(format string, args ...interface{}) {
	rep.Findings = append(rep.Findings, Finding{Severity: SeverityError, Message: fmt.Sprintf(format, args...)})
}

func (rep *Report) warnf(format string, args ...interface{}) {
	rep.Findings = append(rep.Findings, Finding{Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)})
}

// Err folds the error-severity findings into one error, or nil when the
// repository is consistent.
func (rep *Report) Err() error {
	var errs []error
	for _, f := range rep.Findings {
		if f.Severity == SeverityError {
			errs = append(errs, errors.New(f.Message))
		}
	}
	return errors.Join(errs...)
}

// quickCheck runs the post-mutation validation tier, logging warnings
// and returning the error-severity findings.
func (r *Repo) quickCheck(ctx context.Context, repoPath string) error {
	rep := r.Validate(ctx, repoPath, false)
	for _, f := range rep.Findings {
		if f.Severity == SeverityWarning {
			r.logger.Printf("warn: %s", f.Message)
		}
	}
	return rep.Err()
}

// Validate audits a repository. The quick tier re-downloads every
// manifest entry, verifies checksums and counts, diffs metadata against
// the storage listing, and cross-checks the primary database's name set
// against the XML. Full additionally runs SQLite structural checks on
// all three databases and hunts for stale metadata files and prefixed
// serializations.
func (r *Repo) Validate(ctx context.Context, repoPath string, full bool) *Report {
	rep := &Report{RepoPath: repoPath}

	raw, err := r.backend.ReadFile(ctx, manifestPath(repoPath))
	if err != nil {
		rep.errorf("load repomd.xml: %v", err)
		return rep
	}
	md, err := metadata.ParseRepoMD(raw)
	if err != nil {
		rep.errorf("%v", err)
		return rep
	}

	// Every manifest entry gets a fresh download and checksum check.
	payloads := make(map[string][]byte, len(md.Data))
	seen := make(map[string]bool, len(md.Data))
	for _, d := range md.Data {
		if seen[d.Type] {
			rep.errorf("repomd.xml has multiple %s entries", d.Type)
			continue
		}
		seen[d.Type] = true
		if want := "repodata/" + d.Checksum.Value + "-" + d.Type; !strings.HasPrefix(d.Location.Href, want) {
			rep.errorf("%s location %s does not carry its checksum prefix", d.Type, d.Location.Href)
		}
		if metadata.IsDBType(d.Type) && d.DatabaseVersion != metadata.DBVersion {
			rep.errorf("%s declares database_version %d, want %d", d.Type, d.DatabaseVersion, metadata.DBVersion)
		}
		data, err := r.backend.ReadFile(ctx, joinRepo(repoPath, d.Location.Href))
		if err != nil {
			rep.errorf("read %s: %v", d.Location.Href, err)
			continue
		}
		sum, err := checksum.Sum(data, d.Checksum.Type)
		if err != nil {
			rep.errorf("%s: %v", d.Type, err)
			continue
		}
		if sum != d.Checksum.Value {
			rep.errorf("%s checksum mismatch: repomd=%s actual=%s", d.Type, d.Checksum.Value, sum)
			continue
		}
		payloads[d.Type] = data
	}
	if !seen["primary"] {
		rep.errorf("repomd.xml has no primary entry")
		return rep
	}

	doc, ok := r.checkDescriptors(md, payloads, rep)
	if !ok {
		return rep
	}
	rep.Packages = len(doc.Packages)

	basenames := make(map[string]bool, len(doc.Packages))
	for _, p := range doc.Packages {
		base := path.Base(p.Location)
		if basenames[base] {
			rep.errorf("duplicate package file name %s in primary", base)
		}
		basenames[base] = true
	}

	r.checkObjects(ctx, repoPath, doc, basenames, rep)

	stage, err := os.MkdirTemp(r.CacheDir, "yumsync-validate-*")
	if err != nil {
		rep.errorf("create staging dir: %v", err)
		return rep
	}
	defer os.RemoveAll(stage)

	r.checkPrimaryDB(md, payloads, doc, stage, rep)
	if full {
		r.checkDatabaseStructure(md, payloads, stage, rep)
		r.checkSerialization(md, payloads, rep)
		r.checkStaleMetadata(ctx, repoPath, md, rep)
	}
	return rep
}

// checkDescriptors decompresses and parses the three XML descriptors,
// verifying open checksums and count attributes.
func (r *Repo) checkDescriptors(md metadata.RepoMD, payloads map[string][]byte, rep *Report) (metadata.PrimaryDoc, bool) {
	open := make(map[string][]byte, 3)
	for _, typ := range []string{"primary", "filelists", "other"} {
		data, ok := payloads[typ]
		if !ok {
			continue
		}
		d := metadata.FindData(md, typ)
		out, err := metadata.Decompress(d.Location.Href, data)
		if err != nil {
			rep.errorf("decompress %s: %v", typ, err)
			continue
		}
		if d.OpenChecksum != nil {
			sum, err := checksum.Sum(out, d.OpenChecksum.Type)
			if err != nil {
				rep.errorf("%s: %v", typ, err)
				continue
			}
			if sum != d.OpenChecksum.Value {
				rep.errorf("%s open-checksum mismatch: repomd=%s actual=%s", typ, d.OpenChecksum.Value, sum)
				continue
			}
		}
		open[typ] = out
	}

	if open["primary"] == nil {
		return metadata.PrimaryDoc{}, false
	}
	doc, err := metadata.ParsePrimary(open["primary"])
	if err != nil {
		rep.errorf("%v", err)
		return metadata.PrimaryDoc{}, false
	}
	if doc.Count != len(doc.Packages) {
		rep.errorf("primary declares %d packages but contains %d", doc.Count, len(doc.Packages))
	}
	if data := open["filelists"]; data != nil {
		fl, err := metadata.ParseFilelists(data)
		if err != nil {
			rep.errorf("%v", err)
		} else if fl.Count != len(fl.Packages) {
			rep.errorf("filelists declares %d packages but contains %d", fl.Count, len(fl.Packages))
		}
	}
	if data := open["other"]; data != nil {
		o, err := metadata.ParseOther(data)
		if err != nil {
			rep.errorf("%v", err)
		} else if o.Count != len(o.Packages) {
			rep.errorf("other declares %d packages but contains %d", o.Count, len(o.Packages))
		}
	}
	return doc, true
}

// checkObjects diffs the primary descriptor against the storage
// listing, both directions.
func (r *Repo) checkObjects(ctx context.Context, repoPath string, doc metadata.PrimaryDoc, basenames map[string]bool, rep *Report) {
	for _, p := range doc.Packages {
		exists, err := r.backend.Exists(ctx, joinRepo(repoPath, p.Location))
		if err != nil {
			rep.errorf("check %s: %v", p.Location, err)
			continue
		}
		if !exists {
			rep.errorf("package object missing for %s (%s)", p.NEVRA(), p.Location)
		}
	}

	rpms, err := r.backend.ListFiles(ctx, repoPath, ".rpm")
	if err != nil {
		rep.errorf("list packages: %v", err)
		return
	}
	for _, f := range rpms {
		if strings.Contains(f, "repodata.backup-") {
			continue
		}
		if !basenames[path.Base(f)] {
			rep.warnf("package object not referenced by metadata: %s", f)
		}
	}
}

// stageDB decompresses a database payload into the staging directory
// and returns the local file path.
func stageDB(md metadata.RepoMD, payloads map[string][]byte, typ, dir string) (string, error) {
	d := metadata.FindData(md, typ)
	data, ok := payloads[typ]
	if d == nil || !ok {
		return "", nil
	}
	raw, err := metadata.Decompress(d.Location.Href, data)
	if err != nil {
		return "", fmt.Errorf("decompress %s: %w", d.Location.Href, err)
	}
	p := filepath.Join(dir, typ+".sqlite")
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		return "", err
	}
	return p, nil
}

// checkPrimaryDB diffs the primary database's package-name set against
// the XML. A mismatch is a hard failure: clients using the database
// would see a different repository than clients using the XML.
func (r *Repo) checkPrimaryDB(md metadata.RepoMD, payloads map[string][]byte, doc metadata.PrimaryDoc, stage string, rep *Report) {
	dbPath, err := stageDB(md, payloads, "primary_db", stage)
	if err != nil {
		rep.errorf("%v", err)
		return
	}
	if dbPath == "" {
		return
	}
	names, err := sqlite.PackageNames(dbPath)
	if err != nil {
		rep.errorf("primary_db: %v", err)
		return
	}
	inDB := make(map[string]bool, len(names))
	for _, n := range names {
		inDB[n] = true
	}
	inXML := make(map[string]bool, len(doc.Packages))
	for _, p := range doc.Packages {
		inXML[p.Name] = true
		if !inDB[p.Name] {
			rep.errorf("package %s present in XML but missing from primary_db", p.Name)
		}
	}
	for _, n := range names {
		if !inXML[n] {
			rep.errorf("package %s present in primary_db but missing from XML", n)
		}
	}
}

// checkDatabaseStructure verifies schema version, required tables, and
// row counts for all three databases.
func (r *Repo) checkDatabaseStructure(md metadata.RepoMD, payloads map[string][]byte, stage string, rep *Report) {
	required := map[string][]string{
		"primary_db":   {"packages", "provides", "requires", "conflicts", "obsoletes", "files"},
		"filelists_db": {"packages", "filelist"},
		"other_db":     {"packages", "changelog"},
	}
	for _, typ := range []string{"primary_db", "filelists_db", "other_db"} {
		if metadata.FindData(md, typ) == nil {
			rep.warnf("repomd.xml has no %s entry", typ)
			continue
		}
		dbPath, err := stageDB(md, payloads, typ, stage)
		if err != nil {
			rep.errorf("%v", err)
			continue
		}
		if dbPath == "" {
			continue
		}
		version, err := sqlite.SchemaVersion(dbPath)
		if err != nil {
			rep.errorf("%s: %v", typ, err)
			continue
		}
		if version != metadata.DBVersion {
			rep.errorf("%s schema version %d, want %d", typ, version, metadata.DBVersion)
		}
		for _, table := range required[typ] {
			ok, err := sqlite.HasTable(dbPath, table)
			if err != nil {
				rep.errorf("%s: %v", typ, err)
				continue
			}
			if !ok {
				rep.errorf("%s is missing table %s", typ, table)
			}
		}
		count, err := sqlite.PackageCount(dbPath)
		if err != nil {
			rep.errorf("%s: %v", typ, err)
			continue
		}
		if count != rep.Packages {
			rep.errorf("%s has %d packages, primary XML has %d", typ, count, rep.Packages)
		}
	}
}

// checkSerialization flags prefixed serializations (<ns0:metadata>):
// they parse fine here but trip up stricter consumers.
func (r *Repo) checkSerialization(md metadata.RepoMD, payloads map[string][]byte, rep *Report) {
	for _, typ := range []string{"primary", "filelists", "other"} {
		d := metadata.FindData(md, typ)
		data, ok := payloads[typ]
		if d == nil || !ok {
			continue
		}
		out, err := metadata.Decompress(d.Location.Href, data)
		if err != nil {
			continue
		}
		if hasPrefixedRoot(out) {
			rep.warnf("%s is serialized with a namespace prefix on its root element", typ)
		}
	}
}

// checkStaleMetadata warns about repodata objects the manifest does not
// reference.
func (r *Repo) checkStaleMetadata(ctx context.Context, repoPath string, md metadata.RepoMD, rep *Report) {
	referenced := make(map[string]bool)
	referenced[manifestPath(repoPath)] = true
	referenced[joinRepo(repoPath, "repodata/repomd.xml.asc")] = true
	for _, d := range md.Data {
		referenced[joinRepo(repoPath, d.Location.Href)] = true
	}
	files, err := r.backend.ListFiles(ctx, joinRepo(repoPath, "repodata"), "")
	if err != nil {
		rep.errorf("list repodata: %v", err)
		return
	}
	for _, f := range files {
		if !referenced[f] && !strings.Contains(f, "/.tmp") {
			rep.warnf("stale metadata file: %s", f)
		}
	}
}

// hasPrefixedRoot reports whether the document's root element name
// carries a namespace prefix, e.g. <ns0:metadata>. The decoder strips
// prefixes, so this reads the raw bytes.
func hasPrefixedRoot(data []byte) bool {
	for i := 0; i < len(data); i++ {
		if data[i] != '<' {
			continue
		}
		if i+1 < len(data) && (data[i+1] == '?' || data[i+1] == '!') {
			continue
		}
		name := data[i+1:]
		if end := bytes.IndexAny(name, " \t\r\n>/"); end >= 0 {
			name = name[:end]
		}
		return bytes.ContainsRune(name, ':')
	}
	return false
}
