package wrap

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/majorcontext/ringwrap/internal/config"
	"github.com/majorcontext/ringwrap/internal/ring"
	"github.com/majorcontext/ringwrap/internal/system"
)

// Program and VersionXY make up the prefix of every shared name. Records
// made by a different major.minor are never attached.
const (
	Program   = "ringwrap"
	VersionXY = "1.2"
	Version   = VersionXY + ".1"
)

// Marker is replaced in the wrapper by the output path of the run.
const Marker = config.Marker

// Minimum lengths below which --outdir, --wrapper and --unique are ignored.
const (
	minOutDirLen  = 3
	minWrapperLen = 4
	minUniqueLen  = 2
)

// Mode is the single action an invocation performs.
type Mode int

const (
	ModeExecute Mode = iota
	ModeStats
	ModeInit
	ModeBegin
	ModeEnd
	ModeFini
)

func (m Mode) String() string {
	switch m {
	case ModeExecute:
		return "execute"
	case ModeStats:
		return "stats"
	case ModeInit:
		return "init"
	case ModeBegin:
		return "begin"
	case ModeEnd:
		return "end"
	case ModeFini:
		return "fini"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Options is the parsed invocation.
type Options struct {
	Mode Mode
	// Keep is the number of output directories to retain, as the user gave it.
	Keep uint64
	// OutDir is the output base directory with a trailing slash, or empty.
	OutDir  string
	Wrapper string
	// Unique is the alphanumeric disambiguator.
	Unique string
	// Args is the command to run, one token per element.
	Args []string
}

// FromConfig returns options seeded from the global configuration.
func FromConfig(cfg *config.GlobalConfig) Options {
	return Options{
		Mode:    ModeExecute,
		Keep:    cfg.Keep,
		OutDir:  system.FixPath(cfg.OutDir),
		Wrapper: cfg.Wrapper,
		Unique:  Alnum(cfg.Unique),
	}
}

// SetOutDir sets the output base directory. An empty value disables output
// directories. Values shorter than three characters are ignored and false is
// returned.
func (o *Options) SetOutDir(dir string) bool {
	if dir != "" && len(dir) < minOutDirLen {
		return false
	}
	o.OutDir = system.FixPath(dir)
	return true
}

// SetWrapper sets the wrapper command. Values shorter than four characters
// are ignored and false is returned.
func (o *Options) SetWrapper(wrapper string) bool {
	if len(wrapper) < minWrapperLen {
		return false
	}
	o.Wrapper = wrapper
	return true
}

// SetUnique sets the disambiguator, keeping only its letters and digits.
// Values shorter than two characters are ignored and false is returned.
func (o *Options) SetUnique(unique string) bool {
	if len(unique) < minUniqueLen {
		return false
	}
	o.Unique = Alnum(unique)
	return true
}

// Command joins the non-empty arguments with single spaces.
func (o Options) Command() string {
	parts := make([]string, 0, len(o.Args))
	for _, a := range o.Args {
		if a != "" {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, " ")
}

// BaseName returns the alphanumeric part of the command's file name, or
// "command" when nothing is left.
func (o Options) BaseName() string {
	first := ""
	for _, a := range o.Args {
		if a != "" {
			first = a
			break
		}
	}
	if base := Alnum(filepath.Base(first)); base != "" {
		return base
	}
	return "command"
}

// Name returns the shared name for this command and disambiguator.
func (o Options) Name() string {
	return Program + "-" + VersionXY + "-" + o.BaseName() + o.Unique
}

// Slots returns the physical ring size: one more than Keep.
func (o Options) Slots() uint64 {
	return o.Keep + 1
}

// MaxOutDirLen is the longest output base directory, trailing slash
// included, whose run directories still fit in a ring slot.
const MaxOutDirLen = ring.SlotSize - 1 - system.RunDirSuffixLen

// ErrOutDirTooLong reports an output base directory longer than MaxOutDirLen.
var ErrOutDirTooLong = fmt.Errorf("output directory must be at most %d bytes", MaxOutDirLen)

// CheckOutDirLen fails with ErrOutDirTooLong when run directories under
// OutDir could not be recorded whole.
func (o Options) CheckOutDirLen() error {
	if len(o.OutDir) > MaxOutDirLen {
		return fmt.Errorf("%w, %s is %d", ErrOutDirTooLong, o.OutDir, len(o.OutDir))
	}
	return nil
}

// ErrKeepOutDir reports --keep and --outdir configured inconsistently.
var ErrKeepOutDir = errors.New("you must specify -k/--keep and -o/--outdir parameters together; keep must be more than 1")

// CheckKeep validates that a retention count and an output directory are
// configured together. The returned warning is set when both are present but
// the wrapper has no Marker to receive the output path.
func (o Options) CheckKeep() (warning string, err error) {
	if (o.OutDir == "" && o.Keep > 1) || (o.OutDir != "" && o.Keep < 2) {
		return "", ErrKeepOutDir
	}
	if o.OutDir != "" && !strings.Contains(o.Wrapper, Marker) {
		return fmt.Sprintf("-k/--keep and -o/--outdir specified without %s in wrapper command", Marker), nil
	}
	return "", nil
}

// Alnum returns s with everything but ASCII letters and digits removed.
func Alnum(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}
