package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/ringwrap/internal/doctor"
	"github.com/majorcontext/ringwrap/internal/shm"
	"github.com/majorcontext/ringwrap/internal/ui"
	"github.com/majorcontext/ringwrap/internal/wrap"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnostic information about the ringwrap environment",
	Long: `Displays diagnostic information about the ringwrap environment.

This command shows:
- Shared records present in the shared-data directory
- Whether the configured wrapper program can be found
- The output base directory and the space its runs use
- Host memory`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	opts := wrap.FromConfig(globalCfg)
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, ui.Bold("ringwrap doctor "+wrap.Version))
	fmt.Fprintln(w)

	reg := doctor.NewRegistry()
	reg.Register(&doctor.SharedDataSection{Store: shm.NewStore(resolveShmDir()), Prefix: wrap.Program + "-" + wrap.VersionXY + "-"})
	reg.Register(&doctor.WrapperSection{Wrapper: opts.Wrapper})
	reg.Register(&doctor.OutputSection{OutDir: opts.OutDir})
	reg.Register(&doctor.MemorySection{Read: readMemory})

	if failed := reg.Run(w); failed > 0 {
		return &wrap.ExitError{Code: 1, Err: fmt.Errorf("%d doctor check(s) failed", failed)}
	}
	return nil
}
