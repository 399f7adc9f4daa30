// Package cli implements the ringwrap command line using Cobra.
package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/majorcontext/ringwrap/internal/config"
	"github.com/majorcontext/ringwrap/internal/log"
	"github.com/majorcontext/ringwrap/internal/shm"
	"github.com/majorcontext/ringwrap/internal/ui"
	"github.com/majorcontext/ringwrap/internal/wrap"
)

var (
	verbose    bool
	jsonOut    bool
	metricsOut bool
	shmDir     string

	statsMode bool
	initMode  bool
	beginMode bool
	endMode   bool
	finiMode  bool

	keep    uint64
	outDir  string
	wrapper string
	unique  string
)

// globalCfg is loaded once per process by PersistentPreRunE.
var globalCfg = config.DefaultGlobalConfig()

// newSpawner builds the roller launcher; tests replace it.
var newSpawner = func() wrap.Spawner {
	return wrap.DetachedSpawner{LogPath: filepath.Join(config.GlobalConfigDir(), "roller.log")}
}

var rootCmd = &cobra.Command{
	Use:   "ringwrap [flags] /path/to/command [arguments]",
	Short: "Conditionally wrap a command with a tracer",
	Long: `Wraps "/path/to/command [arguments]" when triggered with --begin/-b.
Otherwise, executes it normally.

Parameters specified at initialization must also be used during execution.
If desired, --keep/-k and --outdir/-o must be specified together. The
--unique/-u parameter is optional.`,
	Version:       wrap.Version,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg, err := config.LoadGlobal(); err == nil {
			globalCfg = cfg
		}

		component := "cli"
		if cmd == rollCmd {
			component = "roller"
		}
		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			DebugDir:      filepath.Join(config.GlobalConfigDir(), "debug"),
			RetentionDays: globalCfg.Debug.RetentionDays,
			Component:     component,
			Stderr:        cmd.ErrOrStderr(),
		}); err != nil {
			// Non-fatal: keep the default logger.
			ui.Warnf("failed to initialize debug logging: %v", err)
		}
		return nil
	},
	RunE: runRoot,
}

// Execute runs the root command and prints any error it returns.
func Execute() error {
	defer log.Close()
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func printError(err error) {
	var exitErr *wrap.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err == nil {
			return
		}
		if exitErr.Usage {
			fmt.Fprint(ui.Writer(), rootCmd.UsageString())
			fmt.Fprintln(ui.Writer())
		}
	}
	ui.Error(err.Error())
}

func runRoot(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions(cmd, args)
	if err != nil {
		return err
	}

	runner := wrap.NewRunner(shm.NewStore(resolveShmDir()), newSpawner())
	runner.Stdin = cmd.InOrStdin()
	runner.Stdout = cmd.OutOrStdout()
	runner.Stderr = cmd.ErrOrStderr()
	runner.Report = func(opts wrap.Options, rec shm.Record) error {
		return report(cmd, opts, rec)
	}
	return runner.Run(cmd.Context(), opts)
}

// buildOptions layers flags over the global configuration.
func buildOptions(cmd *cobra.Command, args []string) (wrap.Options, error) {
	opts := wrap.FromConfig(globalCfg)

	mode, err := selectedMode()
	if err != nil {
		return opts, err
	}
	opts.Mode = mode

	flags := cmd.Flags()
	if flags.Changed("keep") {
		opts.Keep = keep
	}
	if flags.Changed("outdir") && !opts.SetOutDir(outDir) {
		ui.Warnf("Ignoring outdir %s", outDir)
	}
	if flags.Changed("wrapper") && !opts.SetWrapper(wrapper) {
		ui.Warnf("Ignoring wrapper %s", wrapper)
	}
	if flags.Changed("unique") && !opts.SetUnique(unique) {
		ui.Warnf("Ignoring unique %s", unique)
	}
	opts.Args = args
	return opts, nil
}

func selectedMode() (wrap.Mode, error) {
	modes := []struct {
		set  bool
		mode wrap.Mode
	}{
		{statsMode, wrap.ModeStats},
		{initMode, wrap.ModeInit},
		{beginMode, wrap.ModeBegin},
		{endMode, wrap.ModeEnd},
		{finiMode, wrap.ModeFini},
	}
	selected := wrap.ModeExecute
	count := 0
	for _, m := range modes {
		if m.set {
			selected = m.mode
			count++
		}
	}
	if count > 1 {
		return wrap.ModeExecute, &wrap.ExitError{Code: wrap.ExitArgs, Err: errors.New("multiple modes specified"), Usage: true}
	}
	return selected, nil
}

func resolveShmDir() string {
	if shmDir != "" {
		return shmDir
	}
	if globalCfg.ShmDir != "" {
		return globalCfg.ShmDir
	}
	return shm.DefaultDir()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&shmDir, "shm-dir", "", "directory holding shared data and locks (env: RINGWRAP_SHM_DIR)")

	flags := rootCmd.Flags()
	flags.SetInterspersed(false)
	flags.BoolVarP(&statsMode, "stats", "s", false, "print statistics for the command")
	flags.BoolVarP(&initMode, "init", "i", false, "initialize shared data for the command")
	flags.BoolVarP(&beginMode, "begin", "b", false, "switch wrapping on")
	flags.BoolVarP(&endMode, "end", "e", false, "switch wrapping off")
	flags.BoolVarP(&finiMode, "fini", "f", false, "destroy shared data, keeping output directories")
	flags.Uint64VarP(&keep, "keep", "k", 10, "number of output directories to retain")
	flags.StringVarP(&outDir, "outdir", "o", "/tmp/ringwrap-strace/", "output base directory; empty disables output directories")
	flags.StringVarP(&wrapper, "wrapper", "w", "strace -f -ff -t -o "+wrap.Marker, "wrapper command; "+wrap.Marker+" is replaced by the output path")
	flags.StringVarP(&unique, "unique", "u", "X", "disambiguator for independent records of the same command")
	flags.BoolVar(&metricsOut, "metrics", false, "with --stats, print Prometheus text format")

	rootCmd.SetVersionTemplate("ringwrap {{.Version}}\n")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &wrap.ExitError{Code: wrap.ExitArgs, Err: err, Usage: true}
	})
}
