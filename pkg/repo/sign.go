package repo

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/yumsync/yumsync/pkg/metadata"
)

// signRepomd writes a detached ASCII-armored signature for the manifest
// as repodata/repomd.xml.asc.
func (r *Repo) signRepomd(ctx context.Context, repoPath string, md metadata.RepoMD, gpgKey string) error {
	raw, err := metadata.MarshalRepoMD(md)
	if err != nil {
		return fmt.Errorf("marshal repomd.xml for signing: %w", err)
	}
	cmd := exec.CommandContext(ctx, "gpg", "--detach-sign", "--armor", "--batch", "--yes")
	if gpgKey != "" {
		cmd.Args = append(cmd.Args, "--local-user", gpgKey)
	}
	cmd.Args = append(cmd.Args, "-o", "-")
	cmd.Stdin = bytes.NewReader(raw)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("%w: gpg sign failed: %s", ErrExternalTool, strings.TrimSpace(string(ee.Stderr)))
		}
		return fmt.Errorf("%w: gpg sign failed: %v", ErrExternalTool, err)
	}
	return r.backend.WriteFile(ctx, joinRepo(repoPath, "repodata/repomd.xml.asc"), out)
}
