package metadata

import (
	"encoding/xml"
	"fmt"
	"strconv"
)

// Parsing structures. Tags deliberately carry no namespace qualifier:
// encoding/xml then matches elements by local name regardless of
// namespace, so namespaced and stripped documents normalize to the same
// internal representation in a single pass.

// PrimaryDoc is the parsed primary descriptor.
type PrimaryDoc struct {
	Count    int
	Packages []Package
}

// FilelistsDoc is the parsed filelists descriptor.
type FilelistsDoc struct {
	Count    int
	Packages []FilelistsEntry
}

// OtherDoc is the parsed other descriptor.
type OtherDoc struct {
	Count    int
	Packages []OtherEntry
}

type versionAttrs struct {
	Epoch string `xml:"epoch,attr"`
	Ver   string `xml:"ver,attr"`
	Rel   string `xml:"rel,attr"`
}

type checksumIn struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type locationIn struct {
	Href string `xml:"href,attr"`
}

type depEntryIn struct {
	Name  string `xml:"name,attr"`
	Flags string `xml:"flags,attr"`
	Epoch string `xml:"epoch,attr"`
	Ver   string `xml:"ver,attr"`
	Rel   string `xml:"rel,attr"`
	Pre   string `xml:"pre,attr"`
}

type fileIn struct {
	Type string `xml:"type,attr"`
	Path string `xml:",chardata"`
}

type headerRangeIn struct {
	Start int `xml:"start,attr"`
	End   int `xml:"end,attr"`
}

type formatIn struct {
	License     string         `xml:"license"`
	Vendor      string         `xml:"vendor"`
	Group       string         `xml:"group"`
	BuildHost   string         `xml:"buildhost"`
	SourceRPM   string         `xml:"sourcerpm"`
	HeaderRange *headerRangeIn `xml:"header-range"`
	Provides    []depEntryIn   `xml:"provides>entry"`
	Requires    []depEntryIn   `xml:"requires>entry"`
	Conflicts   []depEntryIn   `xml:"conflicts>entry"`
	Obsoletes   []depEntryIn   `xml:"obsoletes>entry"`
}

type primaryPkgIn struct {
	Name        string       `xml:"name"`
	Arch        string       `xml:"arch"`
	Version     versionAttrs `xml:"version"`
	Checksum    checksumIn   `xml:"checksum"`
	Summary     string       `xml:"summary"`
	Description string       `xml:"description"`
	Packager    string       `xml:"packager"`
	URL         string       `xml:"url"`
	Time        struct {
		File  int64 `xml:"file,attr"`
		Build int64 `xml:"build,attr"`
	} `xml:"time"`
	Size struct {
		Package   uint64 `xml:"package,attr"`
		Installed uint64 `xml:"installed,attr"`
		Archive   uint64 `xml:"archive,attr"`
	} `xml:"size"`
	Location locationIn `xml:"location"`
	Format   formatIn   `xml:"format"`
}

type primaryDocIn struct {
	XMLName  xml.Name       `xml:"metadata"`
	Count    int            `xml:"packages,attr"`
	Packages []primaryPkgIn `xml:"package"`
}

type filelistsPkgIn struct {
	PkgID   string       `xml:"pkgid,attr"`
	Name    string       `xml:"name,attr"`
	Arch    string       `xml:"arch,attr"`
	Version versionAttrs `xml:"version"`
	Files   []fileIn     `xml:"file"`
}

type filelistsDocIn struct {
	XMLName  xml.Name         `xml:"filelists"`
	Count    int              `xml:"packages,attr"`
	Packages []filelistsPkgIn `xml:"package"`
}

type changelogIn struct {
	Author string `xml:"author,attr"`
	Date   int64  `xml:"date,attr"`
	Text   string `xml:",chardata"`
}

type otherPkgIn struct {
	PkgID      string        `xml:"pkgid,attr"`
	Name       string        `xml:"name,attr"`
	Arch       string        `xml:"arch,attr"`
	Version    versionAttrs  `xml:"version"`
	Changelogs []changelogIn `xml:"changelog"`
}

type otherDocIn struct {
	XMLName  xml.Name     `xml:"otherdata"`
	Count    int          `xml:"packages,attr"`
	Packages []otherPkgIn `xml:"package"`
}

// ParsePrimary parses an uncompressed primary descriptor.
func ParsePrimary(data []byte) (PrimaryDoc, error) {
	var in primaryDocIn
	if err := xml.Unmarshal(data, &in); err != nil {
		return PrimaryDoc{}, fmt.Errorf("%w: parse primary: %v", ErrCorrupt, err)
	}
	doc := PrimaryDoc{Count: in.Count, Packages: make([]Package, 0, len(in.Packages))}
	for _, p := range in.Packages {
		doc.Packages = append(doc.Packages, packageFromPrimary(p))
	}
	return doc, nil
}

// ParseFilelists parses an uncompressed filelists descriptor.
func ParseFilelists(data []byte) (FilelistsDoc, error) {
	var in filelistsDocIn
	if err := xml.Unmarshal(data, &in); err != nil {
		return FilelistsDoc{}, fmt.Errorf("%w: parse filelists: %v", ErrCorrupt, err)
	}
	doc := FilelistsDoc{Count: in.Count, Packages: make([]FilelistsEntry, 0, len(in.Packages))}
	for _, p := range in.Packages {
		e := FilelistsEntry{
			PkgID:   p.PkgID,
			Name:    p.Name,
			Arch:    p.Arch,
			Epoch:   parseEpoch(p.Version.Epoch),
			Version: p.Version.Ver,
			Release: p.Version.Rel,
		}
		for _, f := range p.Files {
			e.Files = append(e.Files, File{Path: f.Path, Type: f.Type})
		}
		doc.Packages = append(doc.Packages, e)
	}
	return doc, nil
}

// ParseOther parses an uncompressed other descriptor.
func ParseOther(data []byte) (OtherDoc, error) {
	var in otherDocIn
	if err := xml.Unmarshal(data, &in); err != nil {
		return OtherDoc{}, fmt.Errorf("%w: parse other: %v", ErrCorrupt, err)
	}
	doc := OtherDoc{Count: in.Count, Packages: make([]OtherEntry, 0, len(in.Packages))}
	for _, p := range in.Packages {
		e := OtherEntry{
			PkgID:   p.PkgID,
			Name:    p.Name,
			Arch:    p.Arch,
			Epoch:   parseEpoch(p.Version.Epoch),
			Version: p.Version.Ver,
			Release: p.Version.Rel,
		}
		for _, c := range p.Changelogs {
			e.Changelogs = append(e.Changelogs, Changelog{Author: c.Author, Date: c.Date, Text: c.Text})
		}
		doc.Packages = append(doc.Packages, e)
	}
	return doc, nil
}

// ParsePackages joins the three descriptors into Package values, using
// pkgId as the cross-document key. Filelists/other payloads may be nil.
func ParsePackages(set DescriptorSet) ([]Package, error) {
	doc, err := ParsePrimary(set.Primary)
	if err != nil {
		return nil, err
	}
	pkgs := doc.Packages
	index := make(map[string]*Package, len(pkgs))
	for i := range pkgs {
		index[pkgs[i].PkgID] = &pkgs[i]
	}
	if len(set.Filelists) > 0 {
		fl, err := ParseFilelists(set.Filelists)
		if err != nil {
			return nil, err
		}
		for _, e := range fl.Packages {
			if pkg := index[e.PkgID]; pkg != nil {
				pkg.Files = append(pkg.Files, e.Files...)
			}
		}
	}
	if len(set.Other) > 0 {
		o, err := ParseOther(set.Other)
		if err != nil {
			return nil, err
		}
		for _, e := range o.Packages {
			if pkg := index[e.PkgID]; pkg != nil {
				pkg.Changelogs = append(pkg.Changelogs, e.Changelogs...)
			}
		}
	}
	return pkgs, nil
}

func packageFromPrimary(p primaryPkgIn) Package {
	headerStart, headerEnd := 0, 0
	if p.Format.HeaderRange != nil {
		headerStart = p.Format.HeaderRange.Start
		headerEnd = p.Format.HeaderRange.End
	}
	return Package{
		Name:          p.Name,
		Arch:          p.Arch,
		Epoch:         parseEpoch(p.Version.Epoch),
		Version:       p.Version.Ver,
		Release:       p.Version.Rel,
		Summary:       p.Summary,
		Description:   p.Description,
		License:       p.Format.License,
		Vendor:        p.Format.Vendor,
		Group:         p.Format.Group,
		BuildHost:     p.Format.BuildHost,
		SourceRPM:     p.Format.SourceRPM,
		URL:           p.URL,
		Packager:      p.Packager,
		TimeBuild:     p.Time.Build,
		TimeFile:      p.Time.File,
		SizePackage:   p.Size.Package,
		SizeInstalled: p.Size.Installed,
		SizeArchive:   p.Size.Archive,
		Location:      p.Location.Href,
		PkgID:         p.Checksum.Value,
		ChecksumType:  p.Checksum.Type,
		HeaderStart:   headerStart,
		HeaderEnd:     headerEnd,
		Provides:      relationsFromEntries(p.Format.Provides),
		Requires:      relationsFromEntries(p.Format.Requires),
		Conflicts:     relationsFromEntries(p.Format.Conflicts),
		Obsoletes:     relationsFromEntries(p.Format.Obsoletes),
	}
}

func relationsFromEntries(entries []depEntryIn) []Relation {
	var rels []Relation
	for _, e := range entries {
		rels = append(rels, Relation{
			Name:  e.Name,
			Flags: e.Flags,
			Epoch: parseEpoch(e.Epoch),
			Ver:   e.Ver,
			Rel:   e.Rel,
			Pre:   e.Pre == "1",
		})
	}
	return rels
}

func parseEpoch(s string) int {
	if s == "" {
		return 0
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return i
}
