package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/power-mode/power-mode/internal/domain"
)

var listModesLong bool

func init() {
	listModesCmd.Flags().BoolVarP(&listModesLong, "long", "l", false, "show each mode's settings")
	rootCmd.AddCommand(listModesCmd)
	rootCmd.AddCommand(showModeCmd)
}

var listModesCmd = &cobra.Command{
	Use:     "list-modes",
	Aliases: []string{"ls"},
	Short:   "List the modes defined in the mode file, in file order",
	Args:    cobra.NoArgs,
	RunE:    runListModes,
}

var showModeCmd = &cobra.Command{
	Use:   "show-mode MODE",
	Short: "Show one mode's settings as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowMode,
}

func runListModes(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.Modes()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !listModesLong {
		for _, name := range c.Names() {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tGOVERNOR\tFREQ MHz\tCORES\tGPU\tDESCRIPTION")
	for _, m := range c.All() {
		fmt.Fprintf(w, "%s\t%s\t%d-%d\t%s\t%s\t%s\n",
			m.Name,
			m.CPU.Governor,
			m.CPU.MinFreqMHz, m.CPU.MaxFreqMHz,
			m.CPU.OnlineCores,
			gpuLimitString(m.GPU),
			m.Description,
		)
	}
	return w.Flush()
}

func runShowMode(cmd *cobra.Command, args []string) error {
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
	return writeJSON(cmd, m)
}

func gpuLimitString(g domain.GPUMode) string {
	if !g.HasPowerLimit() {
		return "-"
	}
	return strconv.FormatFloat(*g.PowerLimitWatts, 'f', -1, 64) + " W"
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
