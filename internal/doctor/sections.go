package doctor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/majorcontext/ringwrap/internal/shm"
	"github.com/majorcontext/ringwrap/internal/system"
	"github.com/majorcontext/ringwrap/internal/ui"
)

// SharedDataSection lists the records in a store.
type SharedDataSection struct {
	Store *shm.Store
	// Prefix selects which segment names belong to ringwrap.
	Prefix string
}

func (s *SharedDataSection) Name() string { return "Shared Data" }

func (s *SharedDataSection) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Directory:\t%s\n", s.Store.Dir)
	if err := checkWritable(s.Store.Dir); err != nil {
		fmt.Fprintf(tw, "Writable:\t%s %v\n", ui.FailTag(), err)
		tw.Flush()
		return err
	}
	fmt.Fprintf(tw, "Writable:\t%s\n", ui.OKTag())

	names, err := s.Store.List(s.Prefix)
	if err != nil {
		tw.Flush()
		return err
	}
	fmt.Fprintf(tw, "Records:\t%d\n", len(names))
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%s\n", name, s.describe(name))
	}
	return tw.Flush()
}

func (s *SharedDataSection) describe(name string) string {
	h, err := s.Store.Attach(name)
	if err != nil {
		return fmt.Sprintf("%s %v", ui.FailTag(), err)
	}
	defer h.Detach()
	if err := h.Lock(); err != nil {
		return fmt.Sprintf("%s %v", ui.FailTag(), err)
	}
	rec := h.Snapshot()
	h.Unlock()
	return fmt.Sprintf("tracing %s, keep %d, %d retained, %d wrapped / %d unwrapped",
		ui.OnOff(rec.Tracing), rec.Keep(), len(rec.Ring), rec.WrappedExecutions, rec.UnwrappedExecutions)
}

// WrapperSection checks that the wrapper's program can be found.
type WrapperSection struct {
	Wrapper string
}

func (s *WrapperSection) Name() string { return "Wrapper" }

func (s *WrapperSection) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Command:\t%s\n", s.Wrapper)
	fields := strings.Fields(s.Wrapper)
	if len(fields) == 0 {
		tw.Flush()
		return errors.New("no wrapper configured")
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		fmt.Fprintf(tw, "Program:\t%s %s not found in PATH\n", ui.FailTag(), fields[0])
		tw.Flush()
		return err
	}
	fmt.Fprintf(tw, "Program:\t%s %s\n", ui.OKTag(), path)
	return tw.Flush()
}

// OutputSection reports on the output base directory.
type OutputSection struct {
	OutDir string
	// Now defaults to time.Now.
	Now func() time.Time
}

func (s *OutputSection) Name() string { return "Output" }

func (s *OutputSection) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	if s.OutDir == "" {
		fmt.Fprintln(tw, "Directory:\tdisabled")
		return nil
	}
	fmt.Fprintf(tw, "Directory:\t%s\n", s.OutDir)
	entries, err := os.ReadDir(s.OutDir)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(tw, "Exists:\tno (created by --init)")
		return nil
	}
	if err != nil {
		return err
	}
	if err := checkWritable(s.OutDir); err != nil {
		fmt.Fprintf(tw, "Writable:\t%s %v\n", ui.FailTag(), err)
		return err
	}
	fmt.Fprintf(tw, "Writable:\t%s\n", ui.OKTag())

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	runs := 0
	var oldest time.Duration
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		age, ok := system.Age(e.Name(), now())
		if !ok {
			continue
		}
		runs++
		oldest = max(oldest, age)
	}
	size, _ := system.DirSize(s.OutDir)
	fmt.Fprintf(tw, "Run directories:\t%d\n", runs)
	if runs > 0 {
		fmt.Fprintf(tw, "Oldest run:\t%s ago\n", oldest.Round(time.Second))
	}
	fmt.Fprintf(tw, "Size:\t%s\n", system.FormatSize(size))
	return nil
}

// MemorySection reports host memory.
type MemorySection struct {
	Read func() (system.Memory, error)
}

func (s *MemorySection) Name() string { return "Host" }

func (s *MemorySection) Print(w io.Writer) error {
	m, err := s.Read()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Memory: %s\n", m.String())
	return nil
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".ringwrap-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
