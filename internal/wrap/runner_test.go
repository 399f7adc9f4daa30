package wrap

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/majorcontext/ringwrap/internal/ring"
	"github.com/majorcontext/ringwrap/internal/shm"
	"github.com/majorcontext/ringwrap/internal/ui"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	runner *Runner
	store  *shm.Store
	stdout *bytes.Buffer
	msgs   *bytes.Buffer
	spawns []RollRequest
	now    time.Time
}

// newHarness returns a runner over a private store whose roller runs
// synchronously, and whose clock advances one second per call.
func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:  shm.NewStore(t.TempDir()),
		stdout: &bytes.Buffer{},
		msgs:   &bytes.Buffer{},
		now:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local),
	}
	ui.SetWriter(h.msgs)
	ui.SetColorEnabled(false)
	t.Cleanup(func() { ui.SetWriter(nil) })

	r := NewRunner(h.store, SpawnFunc(func(req RollRequest) error {
		h.spawns = append(h.spawns, req)
		return Roll(h.store, req)
	}))
	r.Stdout = h.stdout
	r.Stderr = h.stdout
	r.Stdin = strings.NewReader("")
	r.Pid = 4242
	r.Now = func() time.Time {
		h.now = h.now.Add(time.Second)
		return h.now
	}
	h.runner = r
	return h
}

func (h *harness) run(t *testing.T, opts Options) error {
	t.Helper()
	return h.runner.Run(context.Background(), opts)
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var ee *ExitError
	require.True(t, errors.As(err, &ee), "expected *ExitError, got %v", err)
	return ee.Code
}

func traceOptions(outDir string) Options {
	return Options{
		Keep:    2,
		OutDir:  outDir + "/",
		Wrapper: "echo @@@",
		Unique:  "X",
		Args:    []string{"true"},
	}
}

func TestKeepTwoEndToEnd(t *testing.T) {
	h := newHarness(t)
	base := filepath.Join(t.TempDir(), "x")
	opts := traceOptions(base)

	opts.Mode = ModeInit
	require.NoError(t, h.run(t, opts))
	assert.DirExists(t, base, "init should create the output base")

	opts.Mode = ModeBegin
	require.NoError(t, h.run(t, opts))

	opts.Mode = ModeExecute
	for i := 0; i < 3; i++ {
		require.NoError(t, h.run(t, opts), "execution %d", i)
	}

	require.Len(t, h.spawns, 3)
	first, second, third := h.spawns[0].OutDir, h.spawns[1].OutDir, h.spawns[2].OutDir
	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasPrefix(first, base+"/2024-01-01_00:00:01_PID-4242"), "first dir %s", first)

	assert.NoDirExists(t, first, "evicted directory should be removed")
	assert.DirExists(t, second)
	assert.DirExists(t, third)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	rec, err := h.runner.Stats(opts)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{second, third}, rec.Ring); diff != "" {
		t.Errorf("ring mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(3), rec.WrappedExecutions)
	assert.Equal(t, uint64(0), rec.UnwrappedExecutions)
	assert.Equal(t, uint64(1), rec.Begins)
	assert.True(t, rec.Tracing)

	// The wrapper saw the substituted path.
	assert.Contains(t, h.stdout.String(), filepath.Join(third, "true")+" true")
}

func TestExecuteUnwrapped(t *testing.T) {
	h := newHarness(t)
	opts := traceOptions(filepath.Join(t.TempDir(), "x"))
	opts.Args = []string{"echo", "hello"}

	opts.Mode = ModeInit
	require.NoError(t, h.run(t, opts))

	opts.Mode = ModeExecute
	require.NoError(t, h.run(t, opts))

	assert.Equal(t, "hello\n", h.stdout.String())
	require.Len(t, h.spawns, 1)
	assert.Empty(t, h.spawns[0].OutDir)
	assert.False(t, h.spawns[0].Wrapped)

	rec, err := h.runner.Stats(opts)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.UnwrappedExecutions)
	assert.Empty(t, rec.Ring)
}

func TestExecuteWithoutSharedData(t *testing.T) {
	h := newHarness(t)
	opts := traceOptions(t.TempDir())
	opts.Args = []string{"echo", "bare"}

	require.NoError(t, h.run(t, opts))
	assert.Equal(t, "bare\n", h.stdout.String())
	assert.Empty(t, h.spawns, "nothing to count without shared data")
}

func TestExecutePassesExitStatus(t *testing.T) {
	h := newHarness(t)
	opts := traceOptions(t.TempDir())
	opts.Args = []string{"exit", "7"}

	opts.Mode = ModeInit
	require.NoError(t, h.run(t, opts))

	opts.Mode = ModeExecute
	err := h.run(t, opts)
	assert.Equal(t, 7, exitCode(t, err))
	assert.Empty(t, h.spawns, "failed runs are not rolled")
}

func TestExecuteNoCommand(t *testing.T) {
	h := newHarness(t)
	opts := traceOptions(t.TempDir())
	opts.Args = nil

	err := h.run(t, opts)
	assert.Equal(t, ExitNoCommand, exitCode(t, err))
}

func TestExecuteOutDirError(t *testing.T) {
	h := newHarness(t)
	base := filepath.Join(t.TempDir(), "x")
	opts := traceOptions(base)
	opts.Args = []string{"echo", "should-not-run"}

	opts.Mode = ModeInit
	require.NoError(t, h.run(t, opts))
	opts.Mode = ModeBegin
	require.NoError(t, h.run(t, opts))
	require.NoError(t, os.RemoveAll(base))

	opts.Mode = ModeExecute
	err := h.run(t, opts)
	assert.Equal(t, ExitOutDir, exitCode(t, err))
	assert.NotContains(t, h.stdout.String(), "should-not-run")
}

func TestTracingToggles(t *testing.T) {
	h := newHarness(t)
	opts := traceOptions(t.TempDir())

	opts.Mode = ModeInit
	require.NoError(t, h.run(t, opts))

	for _, mode := range []Mode{ModeBegin, ModeBegin, ModeEnd, ModeEnd, ModeBegin} {
		opts.Mode = mode
		require.NoError(t, h.run(t, opts))
	}

	rec, err := h.runner.Stats(opts)
	require.NoError(t, err)
	assert.True(t, rec.Tracing)
	assert.Equal(t, uint64(2), rec.Begins)
	assert.Equal(t, uint64(1), rec.Ends)
	assert.Equal(t, 2, strings.Count(h.msgs.String(), "Switched tracing on"))
	assert.Equal(t, 1, strings.Count(h.msgs.String(), "Switched tracing off"))
}

func TestInitTwice(t *testing.T) {
	h := newHarness(t)
	opts := traceOptions(t.TempDir())
	opts.Mode = ModeInit

	require.NoError(t, h.run(t, opts))
	assert.Contains(t, h.msgs.String(), "Successfully initialized shared data")
	assert.Contains(t, h.msgs.String(), "(no command was executed)")

	err := h.run(t, opts)
	assert.Equal(t, ExitInit, exitCode(t, err))
	assert.ErrorIs(t, err, shm.ErrExist)
	var ee *ExitError
	require.ErrorAs(t, err, &ee)
	assert.False(t, ee.Usage, "an existing record is not a usage error")
}

// longBase creates a directory whose path, with a trailing slash, is n bytes.
func longBase(t *testing.T, n int) string {
	t.Helper()
	root := t.TempDir() + "/"
	base := root + strings.Repeat("b", n-len(root)-1) + "/"
	require.NoError(t, os.MkdirAll(base, 0o770))
	return base
}

func TestInitRejectsLongOutDir(t *testing.T) {
	h := newHarness(t)
	opts := traceOptions("")
	opts.OutDir = filepath.Join(t.TempDir(), strings.Repeat("o", MaxOutDirLen)) + "/"
	opts.Mode = ModeInit

	err := h.run(t, opts)
	assert.Equal(t, ExitKeepOutDir, exitCode(t, err))
	assert.ErrorIs(t, err, ErrOutDirTooLong)
	assert.NoDirExists(t, opts.OutDir)
	assert.False(t, h.store.Exists(opts.Name()))

	opts.OutDir = longBase(t, MaxOutDirLen)
	require.NoError(t, h.run(t, opts))
	assert.True(t, h.store.Exists(opts.Name()))
}

func TestExecuteLongOutDirKeepsBase(t *testing.T) {
	h := newHarness(t)
	opts := traceOptions("")
	opts.OutDir = longBase(t, ring.SlotSize-1)

	// A record made by another tool version may carry a base this long.
	rec, err := h.store.Create(opts.Name(), opts.Slots(), opts.OutDir, opts.Wrapper)
	require.NoError(t, err)
	require.NoError(t, rec.Unlock())
	require.NoError(t, rec.Detach())

	opts.Mode = ModeBegin
	require.NoError(t, h.run(t, opts))

	opts.Mode = ModeExecute
	for i := 0; i < 3; i++ {
		err := h.run(t, opts)
		assert.Equal(t, ExitOutDir, exitCode(t, err))
		assert.ErrorIs(t, err, ErrOutDirTooLong)
	}

	assert.DirExists(t, opts.OutDir)
	entries, err := os.ReadDir(opts.OutDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "unrecordable run directories are removed again")
	assert.Empty(t, h.spawns)
}

func TestInitKeepWithoutOutDir(t *testing.T) {
	h := newHarness(t)
	opts := traceOptions(t.TempDir())
	opts.Mode = ModeInit
	opts.OutDir = ""

	err := h.run(t, opts)
	assert.Equal(t, ExitKeepOutDir, exitCode(t, err))
	assert.False(t, h.store.Exists(opts.Name()))
}

func TestModesWithoutSharedData(t *testing.T) {
	for _, mode := range []Mode{ModeStats, ModeBegin, ModeEnd, ModeFini} {
		t.Run(mode.String(), func(t *testing.T) {
			h := newHarness(t)
			opts := traceOptions(t.TempDir())
			opts.Mode = mode

			err := h.run(t, opts)
			assert.Equal(t, ExitNoShared, exitCode(t, err))
			assert.ErrorIs(t, err, shm.ErrNotFound)
		})
	}
}

func TestFiniKeepsOutput(t *testing.T) {
	h := newHarness(t)
	base := filepath.Join(t.TempDir(), "x")
	opts := traceOptions(base)

	for _, mode := range []Mode{ModeInit, ModeBegin, ModeExecute, ModeFini} {
		opts.Mode = mode
		require.NoError(t, h.run(t, opts), mode.String())
	}

	require.Len(t, h.spawns, 1)
	assert.DirExists(t, h.spawns[0].OutDir)
	assert.False(t, h.store.Exists(opts.Name()))

	opts.Mode = ModeStats
	assert.Equal(t, ExitNoShared, exitCode(t, h.run(t, opts)))
}

func TestStatsReport(t *testing.T) {
	h := newHarness(t)
	opts := traceOptions(t.TempDir())
	opts.Mode = ModeInit
	require.NoError(t, h.run(t, opts))

	var got shm.Record
	h.runner.Report = func(_ Options, rec shm.Record) error {
		got = rec
		return nil
	}
	opts.Mode = ModeStats
	require.NoError(t, h.run(t, opts))

	assert.Equal(t, opts.Name(), got.Name)
	assert.Equal(t, uint64(2), got.Keep())
	assert.Equal(t, "echo @@@", got.Wrapper)
}

func TestDifferentUniqueIsIndependent(t *testing.T) {
	h := newHarness(t)
	opts := traceOptions(t.TempDir())
	opts.Mode = ModeInit
	require.NoError(t, h.run(t, opts))

	other := opts
	other.Unique = "Y"
	other.Mode = ModeBegin
	assert.Equal(t, ExitNoShared, exitCode(t, h.run(t, other)))
}
