package metadata

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	RepoNamespace      = "http://linux.duke.edu/metadata/repo"
	CommonNamespace    = "http://linux.duke.edu/metadata/common"
	FilelistsNamespace = "http://linux.duke.edu/metadata/filelists"
	OtherNamespace     = "http://linux.duke.edu/metadata/other"
	RpmNamespace       = "http://linux.duke.edu/metadata/rpm"
)

// DBVersion is the SQLite metadata schema version DNF clients expect.
const DBVersion = 10

// RepoMD models repodata/repomd.xml, the manifest of descriptor and
// database files. Field tags carry no namespace so both namespaced and
// stripped manifests parse identically.
type RepoMD struct {
	XMLName  xml.Name   `xml:"repomd"`
	Xmlns    string     `xml:"xmlns,attr,omitempty"`
	Revision string     `xml:"revision"`
	Data     []RepoData `xml:"data"`
}

// RepoData is one <data type=...> manifest entry.
type RepoData struct {
	Type            string    `xml:"type,attr"`
	Checksum        Checksum  `xml:"checksum"`
	OpenChecksum    *Checksum `xml:"open-checksum,omitempty"`
	Location        Location  `xml:"location"`
	Timestamp       int64     `xml:"timestamp"`
	Size            int64     `xml:"size"`
	OpenSize        int64     `xml:"open-size,omitempty"`
	DatabaseVersion int       `xml:"database_version,omitempty"`
}

type Checksum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type Location struct {
	Href string `xml:"href,attr"`
}

// IsDBType reports whether a manifest entry type names a SQLite index.
func IsDBType(t string) bool {
	return strings.HasSuffix(t, "_db")
}

// ParseRepoMD unmarshals manifest XML from raw bytes.
func ParseRepoMD(data []byte) (RepoMD, error) {
	var md RepoMD
	if err := xml.Unmarshal(data, &md); err != nil {
		return RepoMD{}, fmt.Errorf("%w: parse repomd.xml: %v", ErrCorrupt, err)
	}
	return md, nil
}

// MarshalRepoMD serializes the manifest in the default-namespace form
// that DNF accepts (no element prefixes).
func MarshalRepoMD(md RepoMD) ([]byte, error) {
	if md.Xmlns == "" {
		md.Xmlns = RepoNamespace
	}
	output, err := xml.MarshalIndent(md, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

// FindData returns the entry for the given type, or nil.
func FindData(md RepoMD, typ string) *RepoData {
	for i := range md.Data {
		if md.Data[i].Type == typ {
			return &md.Data[i]
		}
	}
	return nil
}

// GetCoreData returns the entries for the three XML descriptors.
func GetCoreData(md RepoMD) (primary, filelists, other *RepoData) {
	return FindData(md, "primary"), FindData(md, "filelists"), FindData(md, "other")
}
