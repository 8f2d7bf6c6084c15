package repo

import (
	"path"

	"github.com/yumsync/yumsync/pkg/metadata"
)

// ChecksumRecord maps package file basenames to their currently
// published content checksums, derived from the primary descriptor. It
// exists only for deduplication decisions and is never persisted.
type ChecksumRecord map[string]string

// NewChecksumRecord builds the record from a parsed primary document.
func NewChecksumRecord(doc metadata.PrimaryDoc) ChecksumRecord {
	rec := make(ChecksumRecord, len(doc.Packages))
	for _, p := range doc.Packages {
		rec[path.Base(p.Location)] = p.PkgID
	}
	return rec
}

// Classification splits candidate packages by how they relate to the
// published repository.
type Classification struct {
	New        []metadata.Package // basename not yet published
	Updates    []metadata.Package // basename published with a different checksum
	Duplicates []metadata.Package // identical content already published
}

// Changed returns the packages that require a metadata mutation.
func (c Classification) Changed() []metadata.Package {
	return append(append([]metadata.Package(nil), c.New...), c.Updates...)
}

// Classify compares each candidate's (basename, checksum) pair against
// the record. Duplicates are skipped entirely: not uploaded, not
// merged. Updates overwrite the published object at the same path.
func (rec ChecksumRecord) Classify(candidates []metadata.Package) Classification {
	var out Classification
	for _, p := range candidates {
		published, ok := rec[path.Base(p.Location)]
		switch {
		case !ok:
			out.New = append(out.New, p)
		case published == p.PkgID:
			out.Duplicates = append(out.Duplicates, p)
		default:
			out.Updates = append(out.Updates, p)
		}
	}
	return out
}
