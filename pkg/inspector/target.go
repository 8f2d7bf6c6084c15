package inspector

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/yumsync/yumsync/pkg/metadata"
)

// ErrMismatch reports a batch of packages that do not all target the
// same distribution/architecture pair.
var ErrMismatch = errors.New("package target mismatch")

// Target identifies which repository path a package belongs to.
type Target struct {
	Dist string // e.g. "el9"
	Arch string // e.g. "x86_64"
}

func (t Target) RepoPath() string {
	return t.Dist + "/" + t.Arch
}

func (t Target) String() string {
	return t.Dist + "/" + t.Arch
}

var distRe = regexp.MustCompile(`el\d+`)

// DetectTarget derives the target from a parsed package's architecture
// and the distribution tag embedded in its release (e.g. "1.el9").
func DetectTarget(pkg metadata.Package) (Target, error) {
	if pkg.Arch == "" {
		return Target{}, fmt.Errorf("package %s has no architecture", pkg.Name)
	}
	dist := distRe.FindString(pkg.Release)
	if dist == "" {
		return Target{}, fmt.Errorf("could not determine distribution from release %q of %s", pkg.Release, pkg.Name)
	}
	return Target{Dist: dist, Arch: pkg.Arch}, nil
}

// ValidateBatch detects the target of the first package and verifies
// every other package matches it. Mixed batches fail before any upload
// or metadata mutation happens.
func ValidateBatch(pkgs []metadata.Package) (Target, error) {
	if len(pkgs) == 0 {
		return Target{}, errors.New("no packages to validate")
	}
	want, err := DetectTarget(pkgs[0])
	if err != nil {
		return Target{}, err
	}
	for _, p := range pkgs[1:] {
		got, err := DetectTarget(p)
		if err != nil {
			return Target{}, err
		}
		if got != want {
			return Target{}, fmt.Errorf("%w: expected %s, found %s in %s",
				ErrMismatch, want, got, p.NEVRA())
		}
	}
	return want, nil
}
