package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/majorcontext/ringwrap/internal/log"
	"github.com/majorcontext/ringwrap/internal/metrics"
	"github.com/majorcontext/ringwrap/internal/shm"
	"github.com/majorcontext/ringwrap/internal/system"
	"github.com/majorcontext/ringwrap/internal/ui"
	"github.com/majorcontext/ringwrap/internal/wrap"
)

// readMemory is replaced in tests.
var readMemory = system.ReadMemory

type statsOutput struct {
	Command string `json:"command"`
	shm.Record
	Keep     uint64         `json:"keep"`
	Capacity uint64         `json:"capacity"`
	Memory   *system.Memory `json:"memory,omitempty"`
}

// report prints a stats snapshot. Tables go to the diagnostic stream like
// every other human message; --json and --metrics go to stdout.
func report(cmd *cobra.Command, opts wrap.Options, rec shm.Record) error {
	if metricsOut {
		return metrics.Write(cmd.OutOrStdout(), rec)
	}

	var mem *system.Memory
	if m, err := readMemory(); err != nil {
		log.Debug("memory statistics unavailable", "error", err)
	} else {
		mem = &m
	}

	if jsonOut {
		out := statsOutput{
			Command:  opts.Command(),
			Record:   rec,
			Keep:     rec.Keep(),
			Capacity: rec.Capacity(),
			Memory:   mem,
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return renderStats(ui.Writer(), opts, rec, mem)
}

func renderStats(w io.Writer, opts wrap.Options, rec shm.Record, mem *system.Memory) error {
	fmt.Fprintln(w, ui.Bold("Statistics:"))
	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	table.Append([]string{"Command", opts.Command()})
	table.Append([]string{"Command Hash", opts.BaseName() + opts.Unique})
	table.Append([]string{"Shared Name", rec.Name})
	table.Append([]string{"Wrapping currently", ui.OnOff(rec.Tracing)})
	table.Append([]string{"Unwrapped Executions", strconv.FormatUint(rec.UnwrappedExecutions, 10)})
	table.Append([]string{"Wrapper Command", rec.Wrapper})
	table.Append([]string{"Wrapped Executions", strconv.FormatUint(rec.WrappedExecutions, 10)})
	table.Append([]string{"Outdir", rec.OutDir})
	table.Append([]string{"Keep", strconv.FormatUint(rec.Keep(), 10)})
	table.Append([]string{"Begins", strconv.FormatUint(rec.Begins, 10)})
	table.Append([]string{"Ends", strconv.FormatUint(rec.Ends, 10)})
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, ui.Bold("Logring:"))
	ring := tablewriter.NewWriter(w)
	ring.Header("#", "Output Directory")
	if len(rec.Ring) == 0 {
		ring.Append([]string{"0", "(empty)"})
	}
	for i, dir := range rec.Ring {
		ring.Append([]string{strconv.Itoa(i), dir})
	}
	if err := ring.Render(); err != nil {
		return err
	}

	if mem != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s %s\n", ui.Bold("Memory:"), mem.String())
	}
	return nil
}
