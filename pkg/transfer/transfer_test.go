package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-spool/pkg/spool"
	"github.com/paulschiretz/pgl-spool/pkg/target"
	"github.com/paulschiretz/pgl-spool/pkg/translog"
)

// TestHelperProcess is a helper for testing exec.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	code, _ := strconv.Atoi(os.Getenv("HELPER_EXIT_CODE"))
	fmt.Println("receiving incremental file list")
	fmt.Println("etc/hosts")
	if code != 0 {
		fmt.Fprintf(os.Stderr, "rsync error: simulated failure (code %d)\n", code)
	}
	os.Exit(code)
}

func mockCommandContext(exitCode int, calls *[][]string) func(ctx context.Context, name string, arg ...string) *exec.Cmd {
	return func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		if calls != nil {
			*calls = append(*calls, append([]string{name}, arg...))
		}
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, arg...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_EXIT_CODE=" + strconv.Itoa(exitCode)}
		return cmd
	}
}

func newTarget(t *testing.T) target.Target {
	return target.Target{
		Name:        "web1",
		Remote:      target.Remote{User: "root", Host: "web1", Path: "/"},
		Destination: t.TempDir(),
		Excludes:    []string{"/proc/*", "/tmp/*"},
	}
}

func TestBuildArgsFirstRun(t *testing.T) {
	tg := newTarget(t)
	args := BuildArgs(tg, Options{SSHCommand: "ssh -o BatchMode=yes", TimeoutSeconds: 600})

	want := []string{
		"--archive", "--hard-links", "--numeric-ids", "--delete", "--delete-excluded", "--compress",
		"-e", "ssh -o BatchMode=yes",
		"--timeout=600",
		"--exclude=/proc/*", "--exclude=/tmp/*",
		"root@web1:/", filepath.Join(tg.Destination, "web1", "current") + "/",
	}
	assert.Equal(t, want, args)
}

func TestBuildArgsDeterministic(t *testing.T) {
	tg := newTarget(t)
	tg.RsyncArgs = []string{"--bwlimit=10m"}
	opts := Options{ExtraArgs: []string{"--one-file-system"}, DryRun: true}
	first := BuildArgs(tg, opts)
	assert.Equal(t, first, BuildArgs(tg, opts))
	assert.Contains(t, first, "--dry-run")

	extra := indexOf(first, "--one-file-system")
	perTarget := indexOf(first, "--bwlimit=10m")
	require.True(t, extra >= 0 && perTarget >= 0)
	assert.Less(t, extra, perTarget, "global extra args come before target args")
}

func TestBuildArgsLinkDest(t *testing.T) {
	tg := newTarget(t)
	layout := tg.Layout()

	// A snapshot without current is not used.
	require.NoError(t, os.MkdirAll(layout.GenerationPath(tg.Name, spool.Weekly, 0), 0o755))
	assert.Empty(t, linkDest(BuildArgs(tg, Options{})))

	require.NoError(t, os.MkdirAll(layout.CurrentPath(tg.Name), 0o755))
	assert.Equal(t, layout.GenerationPath(tg.Name, spool.Weekly, 0), linkDest(BuildArgs(tg, Options{})))

	require.NoError(t, os.MkdirAll(layout.GenerationPath(tg.Name, spool.Daily, 0), 0o755))
	args := BuildArgs(tg, Options{})
	assert.Equal(t, layout.GenerationPath(tg.Name, spool.Daily, 0), linkDest(args))
	assert.Equal(t, layout.CurrentPath(tg.Name)+"/", args[len(args)-1])
}

func TestTransfer(t *testing.T) {
	tests := []struct {
		name        string
		exitCode    int
		accept      []int
		expectErr   bool
		wantWarning bool
	}{
		{name: "Success", exitCode: 0},
		{name: "Accepted Exit Code", exitCode: 24, accept: []int{24}, wantWarning: true},
		{name: "Partial Transfer", exitCode: 23, accept: []int{24}, expectErr: true},
		{name: "Connection Failure", exitCode: 255, expectErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tg := newTarget(t)
			var calls [][]string
			e := NewExecutor(Settings{AcceptExitCodes: tc.accept}, mockCommandContext(tc.exitCode, &calls))

			res, err := e.Transfer(context.Background(), tg, time.Now())
			require.Len(t, calls, 1)
			assert.Equal(t, "rsync", calls[0][0])

			if tc.expectErr {
				var transferErr *TransferError
				require.ErrorAs(t, err, &transferErr)
				assert.Equal(t, tc.exitCode, transferErr.ExitCode)
				assert.Contains(t, transferErr.Stderr, "simulated failure")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.exitCode, res.ExitCode)
			assert.Equal(t, tc.wantWarning, res.Warning != "")
			_, statErr := os.Stat(tg.Layout().TargetDir(tg.Name))
			assert.NoError(t, statErr)
		})
	}
}

func TestTransferWritesLog(t *testing.T) {
	tg := newTarget(t)
	logDir := filepath.Join(t.TempDir(), "logs")
	e := NewExecutor(Settings{
		Logs: LogSettings{Enabled: true, Dir: logDir, Format: translog.Zstd, Keep: 3},
	}, mockCommandContext(0, nil))

	res, err := e.Transfer(context.Background(), tg, time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotEmpty(t, res.LogPath)

	r, err := translog.Open(res.LogPath)
	require.NoError(t, err)
	defer r.Close()
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(content), "etc/hosts")
}

func TestTransferCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewExecutor(Settings{}, mockCommandContext(0, nil))
	_, err := e.Transfer(ctx, newTarget(t), time.Now())
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(16)
	_, _ = b.Write([]byte("line one\nline two\nline three\n"))
	assert.Equal(t, "line three", b.String())

	b = newTailBuffer(64)
	_, _ = b.Write([]byte("short\n"))
	assert.Equal(t, "short", b.String())
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func linkDest(args []string) string {
	for _, a := range args {
		if strings.HasPrefix(a, "--link-dest=") {
			return strings.TrimPrefix(a, "--link-dest=")
		}
	}
	return ""
}
