package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(showParamsCmd)
	rootCmd.AddCommand(dumpParamsCmd)
}

var showParamsCmd = &cobra.Command{
	Use:   "show-current-params",
	Short: "Print the current CPU and GPU settings as JSON",
	Args:  cobra.NoArgs,
	RunE:  runShowParams,
}

var dumpParamsCmd = &cobra.Command{
	Use:   "dump-current-params",
	Short: "Save the current settings as the backup (requires root)",
	Args:  cobra.NoArgs,
	RunE:  runDumpParams,
}

func runShowParams(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	state, err := s.Snap.Capture(cmd.Context())
	if err != nil {
		return err
	}
	return writeJSON(cmd, state)
}

func runDumpParams(cmd *cobra.Command, args []string) error {
	if err := requireRoot(cmd); err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	return locked(s, func() error {
		b, err := s.Applier().Dump(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved current parameters (%d cores) to %s\n", len(b.State.Cores), s.Store.Path())
		return nil
	})
}
