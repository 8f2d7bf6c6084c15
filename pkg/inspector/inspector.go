package inspector

import (
	"bytes"
	"fmt"
	"io/fs"

	"github.com/cavaliergopher/rpm"

	"github.com/yumsync/yumsync/pkg/checksum"
	"github.com/yumsync/yumsync/pkg/metadata"
)

// RPM header tag IDs for the changelog triple.
const (
	tagChangelogTime = 1080
	tagChangelogName = 1081
	tagChangelogText = 1082
)

// InspectRPM reads a package file's header and returns the
// metadata.Package that represents it in the primary, filelists and
// other documents. destRelPath becomes location.href; the checksum of
// rpmData under checksumAlg becomes the pkgId.
func InspectRPM(rpmPath string, rpmData []byte, info fs.FileInfo, checksumAlg, destRelPath string) (metadata.Package, error) {
	hdr, err := rpm.Read(bytes.NewReader(rpmData))
	if err != nil {
		return metadata.Package{}, fmt.Errorf("parse rpm %s: %w", rpmPath, err)
	}
	pkgID, err := checksum.Sum(rpmData, checksumAlg)
	if err != nil {
		return metadata.Package{}, fmt.Errorf("checksum rpm %s: %w", rpmPath, err)
	}

	out := metadata.Package{
		Name:         hdr.Name(),
		Arch:         hdr.Architecture(),
		Epoch:        hdr.Epoch(),
		Version:      hdr.Version(),
		Release:      hdr.Release(),
		Summary:      hdr.Summary(),
		Description:  hdr.Description(),
		License:      hdr.License(),
		Vendor:       hdr.Vendor(),
		BuildHost:    hdr.BuildHost(),
		SourceRPM:    hdr.SourceRPM(),
		URL:          hdr.URL(),
		Packager:     hdr.Packager(),
		Location:     destRelPath,
		PkgID:        pkgID,
		ChecksumType: checksumAlg,
	}
	if groups := hdr.Groups(); len(groups) > 0 {
		out.Group = groups[0]
	}
	out.HeaderStart, out.HeaderEnd = hdr.HeaderRange()
	out.TimeBuild = hdr.BuildTime().Unix()
	out.TimeFile = info.ModTime().Unix()
	out.SizePackage = uint64(info.Size())
	out.SizeInstalled = hdr.Size()
	out.SizeArchive = hdr.ArchiveSize()

	out.Provides = relations(hdr.Provides())
	out.Requires = relations(hdr.Requires())
	out.Conflicts = relations(hdr.Conflicts())
	out.Obsoletes = relations(hdr.Obsoletes())
	out.Files = fileEntries(hdr.Files())
	out.Changelogs = changelogEntries(hdr)
	return out, nil
}

func relations(deps []rpm.Dependency) []metadata.Relation {
	out := make([]metadata.Relation, 0, len(deps))
	for _, d := range deps {
		flags, pre := depFlagsToString(d.Flags())
		out = append(out, metadata.Relation{
			Name:  d.Name(),
			Flags: flags,
			Epoch: d.Epoch(),
			Ver:   d.Version(),
			Rel:   d.Release(),
			Pre:   pre,
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// fileEntries maps the header file list to metadata entries. Only
// directories and ghost files carry an explicit type attribute.
func fileEntries(files []rpm.FileInfo) []metadata.File {
	out := make([]metadata.File, 0, len(files))
	for _, f := range files {
		entry := metadata.File{Path: f.Name()}
		switch {
		case f.Flags()&rpm.FileFlagGhost != 0:
			entry.Type = "ghost"
		case f.IsDir():
			entry.Type = "dir"
		}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func changelogEntries(hdr *rpm.Package) []metadata.Changelog {
	times := hdr.Header.GetTag(tagChangelogTime).Int64Slice()
	names := hdr.Header.GetTag(tagChangelogName).StringSlice()
	texts := hdr.Header.GetTag(tagChangelogText).StringSlice()
	n := len(times)
	if len(names) < n {
		n = len(names)
	}
	if len(texts) < n {
		n = len(texts)
	}
	if n == 0 {
		return nil
	}
	out := make([]metadata.Changelog, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, metadata.Changelog{
			Author: names[i],
			Date:   times[i],
			Text:   texts[i],
		})
	}
	return out
}

// depFlagsToString renders a dependency's comparison flags in the form
// the descriptors use (EQ, LT, LE, GT, GE) plus its prereq bit. The
// OrEqual masks include the bare comparison bit, so they are tested
// first.
func depFlagsToString(flags int) (string, bool) {
	pre := flags&rpm.DepFlagPrereq != 0
	switch {
	case flags&rpm.DepFlagLesserOrEqual == rpm.DepFlagLesserOrEqual:
		return "LE", pre
	case flags&rpm.DepFlagGreaterOrEqual == rpm.DepFlagGreaterOrEqual:
		return "GE", pre
	case flags&rpm.DepFlagLesser == rpm.DepFlagLesser:
		return "LT", pre
	case flags&rpm.DepFlagGreater == rpm.DepFlagGreater:
		return "GT", pre
	case flags&rpm.DepFlagEqual == rpm.DepFlagEqual:
		return "EQ", pre
	default:
		return "", pre
	}
}
