package metadata

import (
	"encoding/xml"
	"strconv"
)

// Serialization structures. Output always uses the namespaced form with
// the rpm: prefix on format children, matching what client tooling and
// createrepo_c produce.

type primaryXML struct {
	XMLName  xml.Name         `xml:"metadata"`
	Xmlns    string           `xml:"xmlns,attr"`
	XmlnsRpm string           `xml:"xmlns:rpm,attr"`
	Count    int              `xml:"packages,attr"`
	Packages []primaryPackage `xml:"package"`
}

type primaryPackage struct {
	Type        string         `xml:"type,attr"`
	Name        string         `xml:"name"`
	Arch        string         `xml:"arch"`
	Version     rpmVersion     `xml:"version"`
	Checksum    rpmPkgChecksum `xml:"checksum"`
	Summary     string         `xml:"summary"`
	Description string         `xml:"description"`
	Packager    string         `xml:"packager,omitempty"`
	URL         string         `xml:"url,omitempty"`
	Time        primaryTime    `xml:"time"`
	Size        primarySize    `xml:"size"`
	Location    Location       `xml:"location"`
	Format      primaryFormat  `xml:"format"`
}

type primaryTime struct {
	File  int64 `xml:"file,attr,omitempty"`
	Build int64 `xml:"build,attr,omitempty"`
}

type primarySize struct {
	Package   uint64 `xml:"package,attr"`
	Installed uint64 `xml:"installed,attr,omitempty"`
	Archive   uint64 `xml:"archive,attr,omitempty"`
}

type rpmPkgChecksum struct {
	Type  string `xml:"type,attr"`
	PkgID string `xml:"pkgid,attr"`
	Value string `xml:",chardata"`
}

type rpmVersion struct {
	Epoch string `xml:"epoch,attr,omitempty"`
	Ver   string `xml:"ver,attr"`
	Rel   string `xml:"rel,attr"`
}

type primaryFormat struct {
	License     string       `xml:"rpm:license,omitempty"`
	Vendor      string       `xml:"rpm:vendor,omitempty"`
	Group       string       `xml:"rpm:group,omitempty"`
	BuildHost   string       `xml:"rpm:buildhost,omitempty"`
	SourceRPM   string       `xml:"rpm:sourcerpm,omitempty"`
	HeaderRange *headerRange `xml:"rpm:header-range,omitempty"`
	Provides    []depEntry   `xml:"rpm:provides>rpm:entry,omitempty"`
	Requires    []depEntry   `xml:"rpm:requires>rpm:entry,omitempty"`
	Conflicts   []depEntry   `xml:"rpm:conflicts>rpm:entry,omitempty"`
	Obsoletes   []depEntry   `xml:"rpm:obsoletes>rpm:entry,omitempty"`
}

type headerRange struct {
	Start int `xml:"start,attr"`
	End   int `xml:"end,attr"`
}

type depEntry struct {
	Name  string `xml:"name,attr"`
	Flags string `xml:"flags,attr,omitempty"`
	Epoch string `xml:"epoch,attr,omitempty"`
	Ver   string `xml:"ver,attr,omitempty"`
	Rel   string `xml:"rel,attr,omitempty"`
	Pre   string `xml:"pre,attr,omitempty"`
}

type filelistsXML struct {
	XMLName  xml.Name           `xml:"filelists"`
	Xmlns    string             `xml:"xmlns,attr"`
	Count    int                `xml:"packages,attr"`
	Packages []filelistsPackage `xml:"package"`
}

type filelistsPackage struct {
	PkgID   string      `xml:"pkgid,attr"`
	Name    string      `xml:"name,attr"`
	Arch    string      `xml:"arch,attr"`
	Version rpmVersion  `xml:"version"`
	Files   []fileEntry `xml:"file"`
}

type fileEntry struct {
	Type string `xml:"type,attr,omitempty"`
	Path string `xml:",chardata"`
}

type otherXML struct {
	XMLName  xml.Name       `xml:"otherdata"`
	Xmlns    string         `xml:"xmlns,attr"`
	Count    int            `xml:"packages,attr"`
	Packages []otherPackage `xml:"package"`
}

type otherPackage struct {
	PkgID      string           `xml:"pkgid,attr"`
	Name       string           `xml:"name,attr"`
	Arch       string           `xml:"arch,attr"`
	Version    rpmVersion       `xml:"version"`
	Changelogs []changelogEntry `xml:"changelog"`
}

type changelogEntry struct {
	Author string `xml:"author,attr"`
	Date   int64  `xml:"date,attr"`
	Text   string `xml:",chardata"`
}

// RenderPrimary serializes packages as an uncompressed primary descriptor.
// The packages attribute always equals the number of package elements.
func RenderPrimary(pkgs []Package) ([]byte, error) {
	out := primaryXML{
		Xmlns:    CommonNamespace,
		XmlnsRpm: RpmNamespace,
		Count:    len(pkgs),
	}
	for _, p := range pkgs {
		pkg := primaryPackage{
			Type: "rpm",
			Name: p.Name,
			Arch: p.Arch,
			Version: rpmVersion{
				Epoch: strconv.Itoa(p.Epoch),
				Ver:   p.Version,
				Rel:   p.Release,
			},
			Checksum: rpmPkgChecksum{
				Type:  p.ChecksumType,
				PkgID: "YES",
				Value: p.PkgID,
			},
			Summary:     p.Summary,
			Description: p.Description,
			Packager:    p.Packager,
			URL:         p.URL,
			Time: primaryTime{
				File:  p.TimeFile,
				Build: p.TimeBuild,
			},
			Size: primarySize{
				Package:   p.SizePackage,
				Installed: p.SizeInstalled,
				Archive:   p.SizeArchive,
			},
			Location: Location{Href: p.Location},
			Format: primaryFormat{
				License:   p.License,
				Vendor:    p.Vendor,
				Group:     p.Group,
				BuildHost: p.BuildHost,
				SourceRPM: p.SourceRPM,
			},
		}
		if p.HeaderStart > 0 || p.HeaderEnd > 0 {
			pkg.Format.HeaderRange = &headerRange{Start: p.HeaderStart, End: p.HeaderEnd}
		}
		pkg.Format.Provides = entriesFromRelations(p.Provides)
		pkg.Format.Requires = entriesFromRelations(p.Requires)
		pkg.Format.Conflicts = entriesFromRelations(p.Conflicts)
		pkg.Format.Obsoletes = entriesFromRelations(p.Obsoletes)
		out.Packages = append(out.Packages, pkg)
	}
	return marshalWithHeader(out)
}

// RenderFilelists serializes entries as an uncompressed filelists descriptor.
func RenderFilelists(entries []FilelistsEntry) ([]byte, error) {
	out := filelistsXML{
		Xmlns: FilelistsNamespace,
		Count: len(entries),
	}
	for _, e := range entries {
		pkg := filelistsPackage{
			PkgID: e.PkgID,
			Name:  e.Name,
			Arch:  e.Arch,
			Version: rpmVersion{
				Epoch: strconv.Itoa(e.Epoch),
				Ver:   e.Version,
				Rel:   e.Release,
			},
		}
		for _, f := range e.Files {
			pkg.Files = append(pkg.Files, fileEntry{Type: f.Type, Path: f.Path})
		}
		out.Packages = append(out.Packages, pkg)
	}
	return marshalWithHeader(out)
}

// RenderOther serializes entries as an uncompressed other descriptor.
func RenderOther(entries []OtherEntry) ([]byte, error) {
	out := otherXML{
		Xmlns: OtherNamespace,
		Count: len(entries),
	}
	for _, e := range entries {
		pkg := otherPackage{
			PkgID: e.PkgID,
			Name:  e.Name,
			Arch:  e.Arch,
			Version: rpmVersion{
				Epoch: strconv.Itoa(e.Epoch),
				Ver:   e.Version,
				Rel:   e.Release,
			},
		}
		for _, c := range e.Changelogs {
			pkg.Changelogs = append(pkg.Changelogs, changelogEntry{
				Author: c.Author,
				Date:   c.Date,
				Text:   c.Text,
			})
		}
		out.Packages = append(out.Packages, pkg)
	}
	return marshalWithHeader(out)
}

// RenderDescriptors builds all three descriptors from joined packages.
func RenderDescriptors(pkgs []Package) (DescriptorSet, error) {
	primary, err := RenderPrimary(pkgs)
	if err != nil {
		return DescriptorSet{}, err
	}
	fl := make([]FilelistsEntry, 0, len(pkgs))
	other := make([]OtherEntry, 0, len(pkgs))
	for _, p := range pkgs {
		fl = append(fl, FilelistsEntryFor(p))
		other = append(other, OtherEntryFor(p))
	}
	filelists, err := RenderFilelists(fl)
	if err != nil {
		return DescriptorSet{}, err
	}
	otherOut, err := RenderOther(other)
	if err != nil {
		return DescriptorSet{}, err
	}
	return DescriptorSet{Primary: primary, Filelists: filelists, Other: otherOut}, nil
}

func entriesFromRelations(rels []Relation) []depEntry {
	var entries []depEntry
	for _, r := range rels {
		e := depEntry{
			Name:  r.Name,
			Flags: r.Flags,
			Ver:   r.Ver,
			Rel:   r.Rel,
		}
		if r.Ver != "" {
			e.Epoch = strconv.Itoa(r.Epoch)
		}
		if r.Pre {
			e.Pre = "1"
		}
		entries = append(entries, e)
	}
	return entries
}

func marshalWithHeader(v interface{}) ([]byte, error) {
	body, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
