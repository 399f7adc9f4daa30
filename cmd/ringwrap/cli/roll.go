package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/majorcontext/ringwrap/internal/log"
	"github.com/majorcontext/ringwrap/internal/shm"
	"github.com/majorcontext/ringwrap/internal/wrap"
)

var rollReq wrap.RollRequest

var rollCmd = &cobra.Command{
	Use:    wrap.RollCommand,
	Hidden: true,
	Short:  "Record a finished execution (internal use)",
	Args:   cobra.NoArgs,
	RunE:   runRoll,
}

func init() {
	rollCmd.Flags().StringVar(&rollReq.Name, "name", "", "shared name")
	rollCmd.Flags().StringVar(&rollReq.OutDir, "outdir", "", "output directory of the run")
	rollCmd.Flags().BoolVar(&rollReq.Wrapped, "wrapped", false, "the run was wrapped")
	rootCmd.AddCommand(rollCmd)
}

// runRoll is the detached bookkeeping process. Its outcome is only logged;
// nobody waits for it.
func runRoll(_ *cobra.Command, _ []string) error {
	if rollReq.Name == "" {
		return &wrap.ExitError{Code: wrap.ExitArgs, Err: errors.New("--name is required")}
	}
	rollReq.ShmDir = resolveShmDir()
	log.SetRecord(rollReq.Name)

	if err := wrap.Roll(shm.NewStore(rollReq.ShmDir), rollReq); err != nil {
		log.Error("bookkeeping failed", "error", err, "outdir", rollReq.OutDir)
		return err
	}
	log.Debug("bookkeeping done", "outdir", rollReq.OutDir, "wrapped", rollReq.Wrapped)
	return nil
}
