package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/qarbon/qingest/pkg/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// detectCmd represents the detect command
var detectCmd = &cobra.Command{
	Use:   "detect [files...]",
	Short: "Rank adapters against each input without ingesting it",
	Long: `Scores every registered adapter against each file (or stdin) and prints the
ranked confidence table. With --simple only the first adapter whose quick check
accepts the input is printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		simple, _ := cmd.Flags().GetBool("simple")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		asJSON, _ := cmd.Flags().GetBool("json")

		reg, err := newRegistry(viper.GetViper())
		if err != nil {
			return err
		}
		items, err := readInputs(args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		var opts []registry.DetectOption
		if timeout > 0 {
			opts = append(opts, registry.WithMaxDetectionTime(timeout))
		}

		out := cmd.OutOrStdout()
		for _, it := range items {
			if simple {
				name := reg.DetectSimple(it.Payload)
				if name == "" {
					name = "unknown"
				}
				fmt.Fprintf(out, "%s\t%s\n", it.Source, name)
				continue
			}

			res := reg.DetectFormat(cmd.Context(), it.Payload, opts...)
			if asJSON {
				if err := json.NewEncoder(out).Encode(struct {
					Source string                    `json:"source"`
					Result *registry.DetectionResult `json:"result"`
				}{it.Source, res}); err != nil {
					return err
				}
				continue
			}
			printDetection(out, it.Source, res)
		}
		return nil
	},
}

func printDetection(out io.Writer, source string, res *registry.DetectionResult) {
	best := res.BestMatch
	if best == "" {
		best = "no match"
	}
	flags := ""
	if res.Performance.CacheHit {
		flags += " cached"
	}
	if res.Performance.EarlyExitTriggered {
		flags += " early-exit"
	}
	if res.Performance.TimedOut {
		flags += " timed-out"
	}
	fmt.Fprintf(out, "%s: %s (%s%s)\n", source, best,
		time.Duration(res.Performance.TotalTimeMs*float64(time.Millisecond)).Round(time.Microsecond), flags)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, c := range res.ConfidenceScores {
		fmt.Fprintf(w, "  %s\t%.3f\t%s\n", c.AdapterName, c.Score, strings.Join(c.Evidence, "; "))
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(detectCmd)
	detectCmd.Flags().Bool("simple", false, "Print only the first adapter whose quick check accepts the input")
	detectCmd.Flags().Duration("timeout", 0, "Detection time budget per input (0 = config value)")
	detectCmd.Flags().Bool("json", false, "Print one JSON detection result per line")
}
