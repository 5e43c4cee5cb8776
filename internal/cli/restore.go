package cli

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/power-mode/power-mode/internal/domain"
)

func init() {
	rootCmd.AddCommand(restoreCmd)
}

var restoreCmd = &cobra.Command{
	Use:   "restore-backup",
	Short: "Return the machine to the state saved by the last apply",
	Long: `Restore-backup writes back every core and the GPU power limit recorded
in the backup. Every surface is attempted; cores that could not be restored
are listed and the command exits non-zero.

Requires root.`,
	Args: cobra.NoArgs,
	RunE: runRestore,
}

func runRestore(cmd *cobra.Command, args []string) error {
	if err := requireRoot(cmd); err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	return locked(s, func() error {
		b, report, err := s.Applier().Restore(cmd.Context())
		if errors.Is(err, domain.ErrNoBackupFound) || errors.Is(err, domain.ErrStorage) {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Backup taken %s before %q.\n", humanize.Time(b.CreatedAt), b.Mode)
		fmt.Fprintf(out, "Restored %d cores", report.Applied)
		if len(report.Skipped) > 0 {
			fmt.Fprintf(out, ", skipped %s (state unknown at backup time)", report.Skipped)
		}
		fmt.Fprintf(out, "; GPU %s.\n", report.GPU)
		if len(report.Failed) > 0 {
			fmt.Fprintf(out, "Failed to restore: %s\n", report.Failed)
		}
		return err
	})
}
