package wrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/ringwrap/internal/shm"
)

func TestRollRequestArgs(t *testing.T) {
	req := RollRequest{Name: "ringwrap-1.2-makeX", ShmDir: "/dev/shm"}
	assert.Equal(t, []string{"_roll", "--name", "ringwrap-1.2-makeX", "--shm-dir", "/dev/shm"}, req.Args())

	req.OutDir = "/tmp/x/run"
	req.Wrapped = true
	assert.Equal(t, []string{
		"_roll", "--name", "ringwrap-1.2-makeX", "--shm-dir", "/dev/shm",
		"--outdir", "/tmp/x/run", "--wrapped",
	}, req.Args())
}

func TestRollEvictsAndRemoves(t *testing.T) {
	store := shm.NewStore(t.TempDir())
	base := t.TempDir()
	h, err := store.Create("ringwrap-1.2-rollX", 3, base+"/", "echo @@@")
	require.NoError(t, err)
	require.NoError(t, h.Unlock())
	defer h.Detach()

	dirs := make([]string, 3)
	for i := range dirs {
		dirs[i] = filepath.Join(base, string(rune('a'+i)))
		require.NoError(t, os.Mkdir(dirs[i], 0o770))
		require.NoError(t, os.WriteFile(filepath.Join(dirs[i], "trace"), []byte("data"), 0o644))
		require.NoError(t, Roll(store, RollRequest{Name: h.Name(), OutDir: dirs[i], Wrapped: true}))
	}

	assert.NoDirExists(t, dirs[0])
	assert.DirExists(t, dirs[1])
	assert.DirExists(t, dirs[2])

	rec := h.Snapshot()
	assert.Equal(t, []string{dirs[1], dirs[2]}, rec.Ring)
	assert.Equal(t, uint64(3), rec.WrappedExecutions)
}

func TestRollDisabledRingOnlyCounts(t *testing.T) {
	store := shm.NewStore(t.TempDir())
	h, err := store.Create("ringwrap-1.2-offX", 1, "", "echo @@@")
	require.NoError(t, err)
	require.NoError(t, h.Unlock())
	defer h.Detach()

	require.NoError(t, Roll(store, RollRequest{Name: h.Name(), OutDir: "/tmp/never-stored"}))
	rec := h.Snapshot()
	assert.Equal(t, uint64(1), rec.UnwrappedExecutions)
	assert.Empty(t, rec.Ring)
}

func TestRollMissingRecord(t *testing.T) {
	err := Roll(shm.NewStore(t.TempDir()), RollRequest{Name: "ringwrap-1.2-goneX"})
	assert.ErrorIs(t, err, shm.ErrNotFound)
}

func TestResolveExecutable(t *testing.T) {
	t.Setenv("RINGWRAP_EXECUTABLE", "/opt/ringwrap/bin/ringwrap")
	exe, err := resolveExecutable()
	require.NoError(t, err)
	assert.Equal(t, "/opt/ringwrap/bin/ringwrap", exe)

	t.Setenv("RINGWRAP_EXECUTABLE", "")
	_, err = resolveExecutable()
	assert.Error(t, err, "a test binary must not be spawned as the roller")
}
