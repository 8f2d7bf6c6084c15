package metadata

import (
	"fmt"
	"path"
)

// MergePrimary appends every package from the delta descriptor to the
// existing one and re-serializes with an updated packages count. A
// malformed existing document is fatal; no partial merge is attempted.
func MergePrimary(existing, delta []byte) ([]byte, int, error) {
	base, err := ParsePrimary(existing)
	if err != nil {
		return nil, 0, fmt.Errorf("existing primary: %w", err)
	}
	add, err := ParsePrimary(delta)
	if err != nil {
		return nil, 0, fmt.Errorf("delta primary: %w", err)
	}
	merged := append(base.Packages, add.Packages...)
	out, err := RenderPrimary(merged)
	if err != nil {
		return nil, 0, err
	}
	return out, len(add.Packages), nil
}

// MergeFilelists appends delta filelists entries to the existing document.
func MergeFilelists(existing, delta []byte) ([]byte, int, error) {
	base, err := ParseFilelists(existing)
	if err != nil {
		return nil, 0, fmt.Errorf("existing filelists: %w", err)
	}
	add, err := ParseFilelists(delta)
	if err != nil {
		return nil, 0, fmt.Errorf("delta filelists: %w", err)
	}
	merged := append(base.Packages, add.Packages...)
	out, err := RenderFilelists(merged)
	if err != nil {
		return nil, 0, err
	}
	return out, len(add.Packages), nil
}

// MergeOther appends delta changelog entries to the existing document.
func MergeOther(existing, delta []byte) ([]byte, int, error) {
	base, err := ParseOther(existing)
	if err != nil {
		return nil, 0, fmt.Errorf("existing other: %w", err)
	}
	add, err := ParseOther(delta)
	if err != nil {
		return nil, 0, fmt.Errorf("delta other: %w", err)
	}
	merged := append(base.Packages, add.Packages...)
	out, err := RenderOther(merged)
	if err != nil {
		return nil, 0, err
	}
	return out, len(add.Packages), nil
}

// MergeDescriptors merges each descriptor present in both sets. A side
// missing filelists or other is a valid degenerate case; that descriptor
// is passed through unchanged from whichever side has it.
func MergeDescriptors(existing, delta DescriptorSet) (DescriptorSet, int, error) {
	out := existing
	var added int

	if existing.Primary != nil && delta.Primary != nil {
		merged, n, err := MergePrimary(existing.Primary, delta.Primary)
		if err != nil {
			return DescriptorSet{}, 0, err
		}
		out.Primary = merged
		added = n
	} else if delta.Primary != nil {
		out.Primary = delta.Primary
		doc, err := ParsePrimary(delta.Primary)
		if err != nil {
			return DescriptorSet{}, 0, err
		}
		added = len(doc.Packages)
	}

	if existing.Filelists != nil && delta.Filelists != nil {
		merged, _, err := MergeFilelists(existing.Filelists, delta.Filelists)
		if err != nil {
			return DescriptorSet{}, 0, err
		}
		out.Filelists = merged
	} else if delta.Filelists != nil {
		out.Filelists = delta.Filelists
	}

	if existing.Other != nil && delta.Other != nil {
		merged, _, err := MergeOther(existing.Other, delta.Other)
		if err != nil {
			return DescriptorSet{}, 0, err
		}
		out.Other = merged
	} else if delta.Other != nil {
		out.Other = delta.Other
	}

	return out, added, nil
}

// RemoveFromPrimary drops every package whose location basename is in
// names. It returns the updated document, the pkgIds of the removed
// packages, and how many were dropped. The pkgIds drive removal from
// the filelists and other descriptors, which key packages by checksum
// rather than file name.
func RemoveFromPrimary(existing []byte, names map[string]bool) ([]byte, map[string]bool, int, error) {
	doc, err := ParsePrimary(existing)
	if err != nil {
		return nil, nil, 0, err
	}
	removedIDs := make(map[string]bool)
	kept := doc.Packages[:0]
	for _, p := range doc.Packages {
		if names[path.Base(p.Location)] {
			removedIDs[p.PkgID] = true
			continue
		}
		kept = append(kept, p)
	}
	removed := len(doc.Packages) - len(kept)
	out, err := RenderPrimary(kept)
	if err != nil {
		return nil, nil, 0, err
	}
	return out, removedIDs, removed, nil
}

// RemoveFromFilelists drops entries whose pkgid is in removedIDs.
func RemoveFromFilelists(existing []byte, removedIDs map[string]bool) ([]byte, int, error) {
	doc, err := ParseFilelists(existing)
	if err != nil {
		return nil, 0, err
	}
	kept := doc.Packages[:0]
	for _, e := range doc.Packages {
		if removedIDs[e.PkgID] {
			continue
		}
		kept = append(kept, e)
	}
	removed := len(doc.Packages) - len(kept)
	out, err := RenderFilelists(kept)
	if err != nil {
		return nil, 0, err
	}
	return out, removed, nil
}

// RemoveFromOther drops entries whose pkgid is in removedIDs.
func RemoveFromOther(existing []byte, removedIDs map[string]bool) ([]byte, int, error) {
	doc, err := ParseOther(existing)
	if err != nil {
		return nil, 0, err
	}
	kept := doc.Packages[:0]
	for _, e := range doc.Packages {
		if removedIDs[e.PkgID] {
			continue
		}
		kept = append(kept, e)
	}
	removed := len(doc.Packages) - len(kept)
	out, err := RenderOther(kept)
	if err != nil {
		return nil, 0, err
	}
	return out, removed, nil
}
