// Package gitfetch is the concrete clustersync.FetchExecutor: it shells out
// to the system git binary. No retrieved example repo carries a git
// wire-protocol client library, so this is the one component that reaches
// for os/exec rather than a third-party package, in the style of the
// teacher's own CommandRunner (lake/pkg/agent/tools/command_runner.go).
package gitfetch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/originforge/reposync/internal/clustersync"
)

// Executor runs `git fetch --prune` against a peer's working copy over SSH.
type Executor struct {
	// SSHCommand, if set, is exported as GIT_SSH_COMMAND for the duration
	// of the fetch (e.g. to pin an identity file or strict host checking
	// policy). Empty means git's own default.
	SSHCommand string

	// Timeout bounds a single fetch invocation. Zero means no timeout
	// beyond ctx's own deadline, matching spec §5's "long, unbounded in
	// principle" classification of fetch execution.
	Timeout time.Duration
}

// Fetch runs `git -C <workingCopyPath> fetch --prune <sourceURI> +refs/*:refs/*`.
func (e *Executor) Fetch(ctx context.Context, req clustersync.FetchRequest) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "git",
		"-C", req.WorkingCopyPath,
		"fetch", "--prune", req.SourceURI, "+refs/*:refs/*")
	if e.SSHCommand != "" {
		cmd.Env = append(cmd.Environ(), "GIT_SSH_COMMAND="+e.SSHCommand)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("gitfetch: fetch %s into %s: %w: %s", req.SourceURI, req.WorkingCopyPath, err, stderr.String())
	}
	return nil
}
