package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/power-mode/power-mode/internal/domain"
)

func init() {
	rootCmd.AddCommand(applyCmd)
}

var applyCmd = &cobra.Command{
	Use:   "apply MODE",
	Short: "Apply a mode, saving the current state as the backup first",
	Long: `Apply validates MODE against the limits this machine reports, saves the
current hardware state as the backup, then writes every core and the GPU
power limit. If any CPU write fails, all cores are rolled back to the
backup. GPU failures are reported as warnings and never roll back.

Requires root.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func runApply(cmd *cobra.Command, args []string) error {
	if err := requireRoot(cmd); err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.Modes()
	if err != nil {
		return err
	}
	m, err := c.Lookup(args[0])
	if err != nil {
		return err
	}

	return locked(s, func() error {
		res, err := s.Applier().Apply(cmd.Context(), m)
		out := cmd.OutOrStdout()

		if res.Rollback != nil {
			fmt.Fprintf(out, "Mode %q failed; rolled back %d cores to the backup.\n", m.Name, res.Rollback.Applied)
			if len(res.Rollback.Failed) > 0 {
				fmt.Fprintf(out, "Cores still misconfigured: %s\n", res.Rollback.Failed)
			}
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "Applied mode %q (%d core writes).\n", m.Name, res.Written)
		switch res.GPU {
		case domain.GPUApplied:
			fmt.Fprintf(out, "GPU power limit set to %s.\n", gpuLimitString(m.GPU))
		case domain.GPUSkipped:
			fmt.Fprintln(out, "Warning: GPU power limit skipped, no GPU tool available.")
		case domain.GPUFailed:
			fmt.Fprintf(out, "Warning: GPU power limit not applied: %v\n", res.GPUErr)
		}
		if res.Backup != nil {
			fmt.Fprintf(out, "Previous state saved to %s; run 'power-mode restore-backup' to undo.\n", s.Store.Path())
		}
		return nil
	})
}
