package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/power-mode/power-mode/internal/domain"
	"github.com/power-mode/power-mode/internal/infra/metrics"
)

var (
	powerSource   string
	powerTextfile string
)

func init() {
	getPowerCmd.Flags().StringVar(&powerSource, "source", string(domain.SourceBattery), "reading source: battery or gpu")
	getPowerCmd.Flags().StringVar(&powerTextfile, "textfile", "",
		"also write Prometheus gauges to this node_exporter textfile (default metrics.textfile)")
	rootCmd.AddCommand(getPowerCmd)
}

var getPowerCmd = &cobra.Command{
	Use:   "get-power",
	Short: "Print the current power draw, e.g. \"15.0 W - 120 min\"",
	Long: `Get-power prints the instantaneous draw and, on battery, the estimated
minutes remaining. On AC power the battery reading is empty. Safe to run
unprivileged and often, e.g. from a status bar.`,
	Args: cobra.NoArgs,
	RunE: runGetPower,
}

func runGetPower(cmd *cobra.Command, args []string) error {
	source := domain.PowerSource(powerSource)
	switch source {
	case domain.SourceBattery, domain.SourceGPU:
	default:
		return fmt.Errorf("unknown --source %q (want battery or gpu)", powerSource)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.Power == nil {
		return fmt.Errorf("%w: no power supply class under %s", domain.ErrSensorUnavailable, s.Config.SysfsRoot)
	}
	r, err := s.Power.Read(cmd.Context(), source)
	if err != nil {
		return err
	}

	textfile := powerTextfile
	if textfile == "" {
		textfile = s.Config.Metrics.Textfile
	}
	if textfile != "" {
		var onAC *bool
		if v, err := s.Power.OnACPower(); err == nil {
			onAC = &v
		}
		metrics.ObservePower(r, onAC)
		if mode, err := s.ActiveMode(cmd.Context()); err != nil {
			s.Log.WithError(err).Debug("active mode unavailable for metrics")
		} else {
			metrics.ObserveActiveMode(mode)
		}
		if err := metrics.WriteTextfile(textfile); err != nil {
			return err
		}
	}

	if r != nil {
		fmt.Fprintln(cmd.OutOrStdout(), r.String())
	}
	return nil
}
