package metadata

import (
	"fmt"
	"strings"
	"time"

	"github.com/yumsync/yumsync/pkg/checksum"
)

// CoreFile is a fully prepared repodata payload: the uncompressed
// descriptor or database, its compressed form, and the checksums that
// name it under repodata/.
type CoreFile struct {
	Type            string
	Path            string
	Compressed      []byte
	Uncompressed    []byte
	Checksum        string
	OpenChecksum    string
	Size            int64
	OpenSize        int64
	Timestamp       int64
	DatabaseVersion int
}

// BuildCoreFile compresses content, computes checksums, and derives the
// checksum-prefixed location. XML descriptors are gzipped, *_db SQLite
// payloads are bzip2-compressed.
func BuildCoreFile(typ string, content []byte, checksumAlg string, now time.Time) (CoreFile, error) {
	checksumAlg = strings.ToLower(checksumAlg)
	if !checksum.Supported(checksumAlg) {
		return CoreFile{}, fmt.Errorf("unsupported checksum algorithm %q", checksumAlg)
	}

	var compressed []byte
	var ext string
	var err error
	if IsDBType(typ) {
		compressed, err = Bzip2(content)
		ext = "sqlite.bz2"
	} else {
		compressed, err = Gzip(content)
		ext = "xml.gz"
	}
	if err != nil {
		return CoreFile{}, err
	}

	sum, err := checksum.Sum(compressed, checksumAlg)
	if err != nil {
		return CoreFile{}, err
	}
	openSum, err := checksum.Sum(content, checksumAlg)
	if err != nil {
		return CoreFile{}, err
	}

	cf := CoreFile{
		Type:         typ,
		Path:         fmt.Sprintf("repodata/%s-%s.%s", sum, typ, ext),
		Compressed:   compressed,
		Uncompressed: content,
		Checksum:     sum,
		OpenChecksum: openSum,
		Size:         int64(len(compressed)),
		OpenSize:     int64(len(content)),
		Timestamp:    now.Unix(),
	}
	if IsDBType(typ) {
		cf.DatabaseVersion = DBVersion
	}
	return cf, nil
}

// BuildEmptyCoreFiles creates empty primary/filelists/other descriptors,
// compresses them, and prepares the repomd definition for a fresh repository.
func BuildEmptyCoreFiles(checksumAlg string, now time.Time) ([]CoreFile, RepoMD, error) {
	primary, err := RenderPrimary(nil)
	if err != nil {
		return nil, RepoMD{}, err
	}
	filelists, err := RenderFilelists(nil)
	if err != nil {
		return nil, RepoMD{}, err
	}
	other, err := RenderOther(nil)
	if err != nil {
		return nil, RepoMD{}, err
	}

	payloads := []struct {
		typ     string
		content []byte
	}{
		{"primary", primary},
		{"filelists", filelists},
		{"other", other},
	}

	var coreFiles []CoreFile
	for _, p := range payloads {
		cf, err := BuildCoreFile(p.typ, p.content, checksumAlg, now)
		if err != nil {
			return nil, RepoMD{}, err
		}
		coreFiles = append(coreFiles, cf)
	}
	return coreFiles, BuildRepoMD(coreFiles, checksumAlg, now), nil
}

// BuildRepoMD assembles a manifest covering the given core files. The
// revision is the epoch second of the mutation.
func BuildRepoMD(coreFiles []CoreFile, checksumAlg string, now time.Time) RepoMD {
	repomd := RepoMD{
		Revision: fmt.Sprintf("%d", now.Unix()),
	}
	for _, f := range coreFiles {
		repomd.Data = append(repomd.Data, RepoData{
			Type:            f.Type,
			Checksum:        Checksum{Type: checksumAlg, Value: f.Checksum},
			OpenChecksum:    &Checksum{Type: checksumAlg, Value: f.OpenChecksum},
			Location:        Location{Href: f.Path},
			Timestamp:       f.Timestamp,
			Size:            f.Size,
			OpenSize:        f.OpenSize,
			DatabaseVersion: f.DatabaseVersion,
		})
	}
	return repomd
}
