package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/power-mode/power-mode/internal/domain"
	"github.com/power-mode/power-mode/internal/health"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this machine exposes everything power-mode needs",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	checker := health.NewChecker(health.Deps{
		CPU:   s.CPU,
		GPU:   s.GPU,
		Power: s.Power,
		Modes: func() ([]string, error) {
			c, err := s.Modes()
			if err != nil {
				return nil, err
			}
			return c.Names(), nil
		},
		StateDir: s.Config.Dir,
		Journal: func() (health.Pinger, error) {
			db, err := s.Journal()
			if err != nil {
				return nil, err
			}
			return db, nil
		},
	})
	checker.Add(health.Check{
		Name:     "privilege",
		Optional: true,
		CheckFn: func(context.Context) (string, error) {
			if geteuid() != 0 {
				return "", fmt.Errorf("%w for apply and restore-backup", domain.ErrNotPrivileged)
			}
			return "root", nil
		},
	})

	statuses := checker.Run(cmd.Context())

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tRESULT\tDETAIL")
	failed := 0
	for _, st := range statuses {
		result, detail := "ok", st.Detail
		if !st.Healthy {
			result, detail = "FAIL", st.Error
			if st.Optional {
				result = "warn"
			} else {
				failed++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", st.Name, result, detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !checker.IsHealthy() {
		return fmt.Errorf("%d required checks failed", failed)
	}
	return nil
}
