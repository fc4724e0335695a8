package gitfetch_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/originforge/reposync/internal/clustersync"
	"github.com/originforge/reposync/internal/gitfetch"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	require.NoError(t, cmd.Run(), "git %v: %s", args, out.String())
	return out.String()
}

func TestExecutor_Fetch(t *testing.T) {
	source := t.TempDir()
	runGit(t, source, "init", "-q", "-b", "main")
	runGit(t, source, "config", "user.email", "test@example.com")
	runGit(t, source, "config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(source, "README"), []byte("hello\n"), 0o644))
	runGit(t, source, "add", "README")
	runGit(t, source, "commit", "-q", "-m", "initial")

	workingCopy := t.TempDir()
	runGit(t, workingCopy, "init", "-q", "--bare")

	e := &gitfetch.Executor{}
	err := e.Fetch(context.Background(), clustersync.FetchRequest{
		WorkingCopyPath: workingCopy,
		SourceURI:       source,
	})
	require.NoError(t, err)

	refs := runGit(t, workingCopy, "for-each-ref", "--format=%(refname)")
	require.Contains(t, refs, "refs/heads/main")
}

func TestExecutor_Fetch_InvalidSource(t *testing.T) {
	workingCopy := t.TempDir()
	runGit(t, workingCopy, "init", "-q", "--bare")

	e := &gitfetch.Executor{}
	err := e.Fetch(context.Background(), clustersync.FetchRequest{
		WorkingCopyPath: workingCopy,
		SourceURI:       filepath.Join(t.TempDir(), "does-not-exist"),
	})
	require.Error(t, err)
}
