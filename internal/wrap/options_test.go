package wrap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/majorcontext/ringwrap/internal/config"
	"github.com/majorcontext/ringwrap/internal/ring"
	"github.com/majorcontext/ringwrap/internal/system"
)

func TestFromConfigDefaults(t *testing.T) {
	opts := FromConfig(config.DefaultGlobalConfig())

	assert.Equal(t, ModeExecute, opts.Mode)
	assert.Equal(t, uint64(10), opts.Keep)
	assert.Equal(t, uint64(11), opts.Slots())
	assert.Equal(t, "/tmp/ringwrap-strace/", opts.OutDir)
	assert.Equal(t, "strace -f -ff -t -o @@@", opts.Wrapper)
	assert.Equal(t, "X", opts.Unique)
}

func TestOptionQuirks(t *testing.T) {
	opts := FromConfig(config.DefaultGlobalConfig())

	assert.False(t, opts.SetOutDir("/a"), "two-character outdir should be ignored")
	assert.Equal(t, "/tmp/ringwrap-strace/", opts.OutDir)
	assert.True(t, opts.SetOutDir("/var/tmp/x"))
	assert.Equal(t, "/var/tmp/x/", opts.OutDir)
	assert.True(t, opts.SetOutDir(""))
	assert.Empty(t, opts.OutDir)

	assert.False(t, opts.SetWrapper("ls"))
	assert.True(t, opts.SetWrapper("echo @@@"))
	assert.Equal(t, "echo @@@", opts.Wrapper)

	assert.False(t, opts.SetUnique("a"))
	assert.True(t, opts.SetUnique("night-ly_2"))
	assert.Equal(t, "nightly2", opts.Unique)
}

func TestCommandAndName(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		unique   string
		command  string
		baseName string
		shared   string
	}{
		{"plain", []string{"make", "-j4"}, "X", "make -j4", "make", "ringwrap-1.2-makeX"},
		{"path", []string{"/usr/bin/python3.11", "", "run.py"}, "ci", "/usr/bin/python3.11 run.py", "python311", "ringwrap-1.2-python311ci"},
		{"empty tokens first", []string{"", "ls"}, "X", "ls", "ls", "ringwrap-1.2-lsX"},
		{"no command", nil, "X", "", "command", "ringwrap-1.2-commandX"},
		{"symbols only", []string{"./--"}, "X", "./--", "command", "ringwrap-1.2-commandX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{Args: tt.args, Unique: tt.unique}
			assert.Equal(t, tt.command, opts.Command())
			assert.Equal(t, tt.baseName, opts.BaseName())
			assert.Equal(t, tt.shared, opts.Name())
		})
	}
}

func TestCheckKeep(t *testing.T) {
	tests := []struct {
		name    string
		keep    uint64
		outDir  string
		wrapper string
		warn    bool
		err     bool
	}{
		{"defaults", 10, "/tmp/x/", "strace -o @@@", false, false},
		{"no outdir no keep", 0, "", "strace", false, false},
		{"keep one without outdir", 1, "", "strace", false, false},
		{"keep without outdir", 5, "", "strace -o @@@", false, true},
		{"outdir without keep", 1, "/tmp/x/", "strace -o @@@", false, true},
		{"no marker", 3, "/tmp/x/", "strace -f", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{Keep: tt.keep, OutDir: tt.outDir, Wrapper: tt.wrapper}
			warning, err := opts.CheckKeep()
			if tt.err {
				assert.ErrorIs(t, err, ErrKeepOutDir)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.warn, warning != "", "warning = %q", warning)
		})
	}
}

func TestCheckOutDirLen(t *testing.T) {
	fits := "/" + strings.Repeat("d", MaxOutDirLen-2) + "/"
	assert.NoError(t, Options{OutDir: fits}.CheckOutDirLen())
	assert.NoError(t, Options{}.CheckOutDirLen())

	err := Options{OutDir: "/d" + fits}.CheckOutDirLen()
	assert.ErrorIs(t, err, ErrOutDirTooLong)

	// The longest accepted base still leaves room for any run directory.
	assert.Less(t, MaxOutDirLen+system.RunDirSuffixLen, ring.SlotSize)
}

func TestAlnum(t *testing.T) {
	assert.Equal(t, "abcXYZ019", Alnum("a-b_c XYZ.0/1\t9"))
	assert.Equal(t, "", Alnum("é--"))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "execute", ModeExecute.String())
	assert.Equal(t, "fini", ModeFini.String())
	assert.Equal(t, "Mode(42)", Mode(42).String())
}
