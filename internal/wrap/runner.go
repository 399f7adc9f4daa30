// Package wrap drives one ringwrap invocation: it resolves the shared record
// for a command, applies the selected mode and, in execute mode, runs the
// command bare or under the wrapper before handing bookkeeping to a detached
// roller.
package wrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/majorcontext/ringwrap/internal/log"
	"github.com/majorcontext/ringwrap/internal/ring"
	"github.com/majorcontext/ringwrap/internal/shm"
	"github.com/majorcontext/ringwrap/internal/system"
	"github.com/majorcontext/ringwrap/internal/ui"
)

const noSharedHint = "failed to obtain shared data, maybe command or parameters differ from those used at original initialization?"

// Runner applies Options against a Store.
type Runner struct {
	Store   *shm.Store
	Spawner Spawner
	// Report renders a stats snapshot. Stats mode prints nothing without it.
	Report func(Options, shm.Record) error

	Stdin          io.Reader
	Stdout, Stderr io.Writer
	// Shell runs the built command line with -c.
	Shell string
	Now   func() time.Time
	Pid   int
}

// NewRunner returns a Runner wired to the process's stdio.
func NewRunner(store *shm.Store, spawner Spawner) *Runner {
	return &Runner{
		Store:   store,
		Spawner: spawner,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Shell:   "/bin/sh",
		Now:     time.Now,
		Pid:     os.Getpid(),
	}
}

// Run performs opts.Mode. Failures are returned as *ExitError.
func (r *Runner) Run(ctx context.Context, opts Options) error {
	log.SetRecord(opts.Name())
	log.Debug("running", "mode", opts.Mode.String(), "command", opts.Command())

	var err error
	switch opts.Mode {
	case ModeExecute:
		return r.Execute(ctx, opts)
	case ModeStats:
		var rec shm.Record
		if rec, err = r.Stats(opts); err == nil && r.Report != nil {
			err = r.Report(opts, rec)
		}
	case ModeInit:
		err = r.Init(opts)
	case ModeBegin:
		err = r.Begin(opts)
	case ModeEnd:
		err = r.End(opts)
	case ModeFini:
		err = r.Fini(opts)
	default:
		err = usageErr(ExitArgs, fmt.Errorf("unknown mode %v", opts.Mode))
	}
	if err != nil {
		return err
	}
	ui.Info("(no command was executed)")
	return nil
}

func (r *Runner) attach(opts Options) (*shm.Handle, error) {
	h, err := r.Store.Attach(opts.Name())
	if err != nil {
		log.Debug("attach failed", "error", err)
		return nil, exitErr(ExitNoShared, fmt.Errorf("%s: %w", noSharedHint, err))
	}
	return h, nil
}

// warnKeep prints the outcome of CheckKeep without failing.
func warnKeep(opts Options) {
	warning, err := opts.CheckKeep()
	if err != nil {
		ui.Warn(err.Error())
	} else if warning != "" {
		ui.Warn(warning)
	}
}

// Stats returns a snapshot of the record for opts.
func (r *Runner) Stats(opts Options) (shm.Record, error) {
	h, err := r.attach(opts)
	if err != nil {
		return shm.Record{}, err
	}
	defer h.Detach()

	if err := h.Lock(); err != nil {
		return shm.Record{}, exitErr(ExitNoShared, err)
	}
	rec := h.Snapshot()
	if err := h.Unlock(); err != nil {
		return shm.Record{}, exitErr(ExitNoShared, err)
	}
	return rec, nil
}

// Init creates the record for opts. The output base directory is created
// first when the wrapper will write into it.
func (r *Runner) Init(opts Options) error {
	warning, err := opts.CheckKeep()
	if err != nil {
		return usageErr(ExitKeepOutDir, err)
	}
	if err := opts.CheckOutDirLen(); err != nil {
		return exitErr(ExitKeepOutDir, err)
	}
	if warning != "" {
		ui.Warn(warning)
	}

	if opts.OutDir != "" && warning == "" {
		if err := system.EnsureBaseDir(opts.OutDir); err != nil {
			ui.Warn(err.Error())
		}
	}

	h, err := r.Store.Create(opts.Name(), opts.Slots(), opts.OutDir, opts.Wrapper)
	switch {
	case errors.Is(err, shm.ErrExist):
		return exitErr(ExitInit, fmt.Errorf("failed to initialize shared data, maybe it was already initialized? (%w)", err))
	case err != nil:
		return exitErr(ExitInit, fmt.Errorf("failed to initialize shared data: %w", err))
	}
	defer h.Detach()
	if err := h.Unlock(); err != nil {
		return exitErr(ExitInit, err)
	}

	log.Info("created shared record", "slots", h.Slots(), "outdir", opts.OutDir, "wrapper", opts.Wrapper)
	ui.Info("Successfully initialized shared data")
	return nil
}

// Begin switches tracing on.
func (r *Runner) Begin(opts Options) error { return r.toggle(opts, true) }

// End switches tracing off.
func (r *Runner) End(opts Options) error { return r.toggle(opts, false) }

func (r *Runner) toggle(opts Options, on bool) error {
	warnKeep(opts)

	h, err := r.attach(opts)
	if err != nil {
		return err
	}
	defer h.Detach()

	if err := h.Lock(); err != nil {
		return exitErr(ExitNoShared, err)
	}
	changed := h.SetTracing(on)
	if err := h.Unlock(); err != nil {
		return exitErr(ExitNoShared, err)
	}

	if changed {
		log.Info("tracing switched", "on", on)
		if on {
			ui.Info("Switched tracing on")
		} else {
			ui.Info("Switched tracing off")
		}
	}
	return nil
}

// Fini removes the record and its lock. Output directories stay on disk.
func (r *Runner) Fini(opts Options) error {
	h, err := r.attach(opts)
	if err != nil {
		return err
	}
	if err := h.Destroy(); err != nil {
		return exitErr(ExitNoShared, fmt.Errorf("destroying shared data: %w", err))
	}
	log.Info("destroyed shared record")
	ui.Info("Successfully destroyed shared data (preserving any logged output)")
	return nil
}

// Execute runs the command, wrapped when tracing is on. A missing record
// is not an error; the command then runs bare and nothing is counted. After
// a zero exit the bookkeeping is handed to the Spawner.
func (r *Runner) Execute(ctx context.Context, opts Options) error {
	warnKeep(opts)

	command := opts.Command()
	if command == "" {
		return usageErr(ExitNoCommand, errors.New("no command specified"))
	}

	h, err := r.Store.Attach(opts.Name())
	if err != nil {
		log.Debug("running without shared data", "error", err)
		h = nil
	} else {
		defer h.Detach()
	}

	line, runDir, wrapped, err := r.prepare(h, opts)
	if err != nil {
		return err
	}

	log.Debug("executing", "line", line, "wrapped", wrapped)
	if code := r.run(ctx, line); code != 0 {
		log.Info("command failed", "exit_code", code)
		return &ExitError{Code: code}
	}

	if h == nil || r.Spawner == nil {
		return nil
	}
	req := RollRequest{Name: h.Name(), ShmDir: r.Store.Dir, OutDir: runDir, Wrapped: wrapped}
	if err := r.Spawner.Spawn(req); err != nil {
		log.Warn("bookkeeping not started", "error", err)
	}
	return nil
}

// prepare builds the command line under the lock and creates the run
// directory when the wrapper writes into one.
func (r *Runner) prepare(h *shm.Handle, opts Options) (line, runDir string, wrapped bool, err error) {
	command := opts.Command()
	if h == nil {
		return command, "", false, nil
	}

	if err := h.Lock(); err != nil {
		return "", "", false, exitErr(ExitNoShared, err)
	}
	defer h.Unlock()

	if !h.Tracing() {
		return command, "", false, nil
	}

	wrapper := h.Wrapper()
	if h.Ring().Enabled() && strings.Contains(wrapper, Marker) {
		runDir, err = system.CreateOutputDir(h.OutDir(), r.Now(), r.Pid)
		if err != nil {
			return "", "", false, exitErr(ExitOutDir, err)
		}
		if len(runDir) >= ring.SlotSize {
			_ = os.Remove(runDir)
			return "", "", false, exitErr(ExitOutDir, fmt.Errorf("output directory %s is too long to record: %w", runDir, ErrOutDirTooLong))
		}
	}
	return BuildCommand(command, true, wrapper, runDir, opts.BaseName()), runDir, true, nil
}

// run executes line through the shell with inherited stdio and returns its
// exit status. A signal death maps to 128 plus the signal number.
func (r *Runner) run(ctx context.Context, line string) int {
	cmd := exec.CommandContext(ctx, r.Shell, "-c", line)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	err := cmd.Run()
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return ee.ExitCode()
	}
	ui.Errorf("running %s: %v", r.Shell, err)
	return 127
}
