package wrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/majorcontext/ringwrap/internal/log"
	"github.com/majorcontext/ringwrap/internal/shm"
	"github.com/majorcontext/ringwrap/internal/system"
)

// RollCommand is the hidden subcommand that runs a RollRequest.
const RollCommand = "_roll"

// RollRequest is the bookkeeping owed after a successful run.
type RollRequest struct {
	Name   string
	ShmDir string
	// OutDir is the run directory to append to the ring, or empty.
	OutDir string
	// Wrapped selects which execution counter to bump.
	Wrapped bool
}

// Args renders r as arguments for RollCommand.
func (r RollRequest) Args() []string {
	args := []string{RollCommand, "--name", r.Name, "--shm-dir", r.ShmDir}
	if r.OutDir != "" {
		args = append(args, "--outdir", r.OutDir)
	}
	if r.Wrapped {
		args = append(args, "--wrapped")
	}
	return args
}

// Spawner starts the bookkeeping for a run without waiting for it.
type Spawner interface {
	Spawn(RollRequest) error
}

// SpawnFunc adapts a function to Spawner.
type SpawnFunc func(RollRequest) error

func (f SpawnFunc) Spawn(r RollRequest) error { return f(r) }

// Roll counts the execution and appends the run directory in one lock hold,
// then removes whatever directory that pushed out of the ring.
func Roll(store *shm.Store, req RollRequest) error {
	h, err := store.Attach(req.Name)
	if err != nil {
		return exitErr(ExitNoShared, fmt.Errorf("attaching %s: %w", req.Name, err))
	}
	defer h.Detach()

	evicted, ok, err := h.Roll(req.Wrapped, req.OutDir)
	if err != nil {
		return fmt.Errorf("rolling %s: %w", req.Name, err)
	}
	if !ok || evicted == "" {
		if req.OutDir != "" {
			log.Debug("appended output directory", "path", req.OutDir)
		}
		return nil
	}

	size, err := system.RemoveOutputDir(evicted)
	if err != nil {
		return exitErr(ExitRemoveOutDir, fmt.Errorf("%s removal failed: %w", evicted, err))
	}
	log.Info("removed evicted output directory",
		"path", evicted,
		"size", system.FormatSize(size),
		"appended", req.OutDir)
	return nil
}

// DetachedSpawner re-executes the ringwrap binary with RollCommand in a new
// session. Output of the child goes to LogPath.
type DetachedSpawner struct {
	LogPath string
}

// Spawn starts the child and releases it.
func (d DetachedSpawner) Spawn(req RollRequest) error {
	exe, err := resolveExecutable()
	if err != nil {
		return err
	}

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return fmt.Errorf("opening /dev/null: %w", err)
	}
	defer devNull.Close()

	out := devNull
	if d.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(d.LogPath), 0755); err == nil {
			if f, err := os.OpenFile(d.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
				defer f.Close()
				out = f
			}
		}
	}

	attr := &os.ProcAttr{
		Dir:   "/",
		Env:   os.Environ(),
		Files: []*os.File{devNull, out, out},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}
	proc, err := os.StartProcess(exe, append([]string{exe}, req.Args()...), attr)
	if err != nil {
		return fmt.Errorf("starting roller: %w", err)
	}
	log.Debug("spawned roller", "pid", proc.Pid)
	return proc.Release()
}

// resolveExecutable returns RINGWRAP_EXECUTABLE or the running binary. Test
// binaries lack RollCommand and are refused.
func resolveExecutable() (string, error) {
	if exe := os.Getenv("RINGWRAP_EXECUTABLE"); exe != "" {
		return exe, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("finding executable: %w", err)
	}
	if strings.HasSuffix(filepath.Base(exe), ".test") {
		return "", errors.New("roller cannot be started from test binary " + exe + "; set RINGWRAP_EXECUTABLE to the ringwrap binary path")
	}
	return exe, nil
}
