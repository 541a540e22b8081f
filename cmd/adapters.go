package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// adaptersCmd represents the adapters command
var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List registered adapters in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := newRegistry(viper.GetViper())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tDECLARED\tFORMATS")
		for _, d := range reg.List() {
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", d.Name, d.Version, d.DeclaredConfidence, strings.Join(d.SupportedFormats, ","))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
