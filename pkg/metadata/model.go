package metadata

import (
	"errors"
	"fmt"
)

// ErrCorrupt marks a manifest or descriptor that fails to parse or is
// missing required fields. Callers match it with errors.Is.
var ErrCorrupt = errors.New("corrupt metadata")

// Package represents a single package's metadata as described by the
// primary descriptor, joined with filelists/other content by pkgId.
type Package struct {
	Name          string
	Arch          string
	Epoch         int
	Version       string
	Release       string
	Summary       string
	Description   string
	License       string
	Vendor        string
	Group         string
	BuildHost     string
	SourceRPM     string
	URL           string
	Packager      string
	TimeBuild     int64
	TimeFile      int64
	SizePackage   uint64
	SizeInstalled uint64
	SizeArchive   uint64
	Location      string
	PkgID         string // content checksum of the package file
	ChecksumType  string
	HeaderStart   int
	HeaderEnd     int
	Provides      []Relation
	Requires      []Relation
	Conflicts     []Relation
	Obsoletes     []Relation
	Files         []File
	Changelogs    []Changelog
}

func (p Package) NEVRA() string {
	epochPart := ""
	if p.Epoch > 0 {
		epochPart = fmt.Sprintf("%d:", p.Epoch)
	}
	return fmt.Sprintf("%s-%s%s-%s.%s", p.Name, epochPart, p.Version, p.Release, p.Arch)
}

type Relation struct {
	Name  string
	Flags string
	Epoch int
	Ver   string
	Rel   string
	Pre   bool
}

type File struct {
	Path string
	Type string // dir, ghost, or empty
}

type Changelog struct {
	Author string
	Date   int64
	Text   string
}

// FilelistsEntry is one package element of the filelists descriptor.
// The filelists and other documents stand alone: they merge and strip
// independently of primary, joined only by PkgID.
type FilelistsEntry struct {
	PkgID   string
	Name    string
	Arch    string
	Epoch   int
	Version string
	Release string
	Files   []File
}

// OtherEntry is one package element of the other descriptor.
type OtherEntry struct {
	PkgID      string
	Name       string
	Arch       string
	Epoch      int
	Version    string
	Release    string
	Changelogs []Changelog
}

// FilelistsEntryFor derives the filelists view of a package.
func FilelistsEntryFor(p Package) FilelistsEntry {
	return FilelistsEntry{
		PkgID:   p.PkgID,
		Name:    p.Name,
		Arch:    p.Arch,
		Epoch:   p.Epoch,
		Version: p.Version,
		Release: p.Release,
		Files:   p.Files,
	}
}

// OtherEntryFor derives the other-descriptor view of a package.
func OtherEntryFor(p Package) OtherEntry {
	return OtherEntry{
		PkgID:      p.PkgID,
		Name:       p.Name,
		Arch:       p.Arch,
		Epoch:      p.Epoch,
		Version:    p.Version,
		Release:    p.Release,
		Changelogs: p.Changelogs,
	}
}

// DescriptorSet carries the uncompressed XML payloads of a repository's
// descriptors. A nil slice means the repository does not publish that
// descriptor, which is a valid degenerate case for minimal packages.
type DescriptorSet struct {
	Primary   []byte
	Filelists []byte
	Other     []byte
}
