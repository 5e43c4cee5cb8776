package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"

	"github.com/power-mode/power-mode/internal/domain"
	"github.com/power-mode/power-mode/internal/session"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(activeModeCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active mode, power draw and per-core settings",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var activeModeCmd = &cobra.Command{
	Use:   "get-active-mode",
	Short: "Print the mode last applied successfully, or \"none\"",
	Args:  cobra.NoArgs,
	RunE:  runActiveMode,
}

// hostInfo is swapped in tests.
var hostInfo = host.InfoWithContext

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	state, err := s.Snap.Capture(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printHost(ctx, out)
	fmt.Fprintf(out, "Active mode: %s\n", activeModeOrNone(ctx, s))
	fmt.Fprintf(out, "Power:       %s\n", powerSummary(ctx, s))
	fmt.Fprintf(out, "GPU:         %s\n", gpuSummary(state.GPU))
	fmt.Fprintf(out, "Backup:      %s\n", backupSummary(s))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CPU\tSTATUS\tGOVERNOR\tMIN MHz\tMAX MHz")
	for _, c := range state.Cores {
		if !c.Online() {
			fmt.Fprintf(w, "%d\t%s\t-\t-\t-\n", c.ID, c.Status)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n", c.ID, c.Status, c.Governor, c.MinFreqMHz(), c.MaxFreqMHz())
	}
	return w.Flush()
}

func runActiveMode(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	mode, err := s.ActiveMode(cmd.Context())
	if err != nil {
		return err
	}
	if mode == "" {
		mode = "none"
	}
	fmt.Fprintln(cmd.OutOrStdout(), mode)
	return nil
}

func printHost(ctx context.Context, out io.Writer) {
	info, err := hostInfo(ctx)
	if err != nil || info == nil {
		return
	}
	boot := time.Unix(int64(info.BootTime), 0)
	fmt.Fprintf(out, "Host:        %s (%s %s, booted %s)\n",
		info.Hostname, info.Platform, info.KernelVersion, humanize.Time(boot))
}

func activeModeOrNone(ctx context.Context, s *session.Session) string {
	mode, err := s.ActiveMode(ctx)
	switch {
	case err != nil:
		return "unknown (" + err.Error() + ")"
	case mode == "":
		return "none"
	}
	return mode
}

func powerSummary(ctx context.Context, s *session.Session) string {
	if s.Power == nil {
		return "unavailable"
	}
	r, err := s.Power.Read(ctx, domain.SourceBattery)
	switch {
	case err != nil:
		return "unavailable (" + err.Error() + ")"
	case r == nil:
		return "on AC power"
	}
	return r.String() + " on battery"
}

func gpuSummary(g domain.GPUState) string {
	if !g.Available {
		return "not available"
	}
	if g.PowerLimitWatts == nil {
		return "power limit unknown"
	}
	return fmt.Sprintf("power limit %.1f W", *g.PowerLimitWatts)
}

func backupSummary(s *session.Session) string {
	b, err := s.Store.Load()
	switch {
	case errors.Is(err, domain.ErrNoBackupFound):
		return "none"
	case err != nil:
		return "unreadable (" + err.Error() + ")"
	}
	return fmt.Sprintf("taken %s before %q", humanize.Time(b.CreatedAt), b.Mode)
}
