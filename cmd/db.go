package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"
	"time"

	"github.com/qarbon/qingest/internal/utils"
	"github.com/qarbon/qingest/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the qingest database",
}

// existingDBPath resolves --dbpath, then db.path, and fails if the file is missing.
func existingDBPath(cmd *cobra.Command) (string, error) {
	dbPath, _ := cmd.Flags().GetString("dbpath")
	if dbPath == "" {
		dbPath = viper.GetString("db.path")
	}
	absPath, err := utils.GetAbsDBPath(dbPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return "", fmt.Errorf("database file not found: %s", absPath)
	}
	return absPath, nil
}

func openExistingDB(cmd *cobra.Command) (*storage.DB, error) {
	absPath, err := existingDBPath(cmd)
	if err != nil {
		return nil, err
	}
	return storage.Open(absPath)
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := existingDBPath(cmd)
		if err != nil {
			return err
		}

		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
		}

		fmt.Println("--> Database schema:")
		schemaCmd := exec.Command(sqlitePath, dbPath, ".schema")
		schemaCmd.Stdout = os.Stdout
		schemaCmd.Stderr = os.Stderr
		if err := schemaCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: couldn't retrieve schema: %v\n", err)
		}
		fmt.Println("\n--> Starting interactive shell... (Ctrl+D to exit)")

		c := exec.Command(sqlitePath, dbPath)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints per-adapter totals for the stored records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openExistingDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		stats, err := db.GetStats(ctx)
		if err != nil {
			return err
		}
		total, unmatched, err := db.CountDetections(ctx)
		if err != nil {
			return err
		}

		if len(stats) == 0 {
			fmt.Println("No records in the database to generate stats.")
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "ADAPTER\tRECORDS\tEMISSIONS (KG)\tENERGY (KWH)\tAVG CONFIDENCE\t")

			var records int
			var emissions, energy float64
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%d\t%.4f\t%.4f\t%.3f\t\n", s.Adapter, s.Records, s.EmissionsKg, s.EnergyKWh, s.AvgConfidence)
				records += s.Records
				emissions += s.EmissionsKg
				energy += s.EnergyKWh
			}

			fmt.Fprintln(w, " \t \t \t \t \t")
			fmt.Fprintf(w, "TOTAL\t%d\t%.4f\t%.4f\t \t\n", records, emissions, energy)
			w.Flush()
		}

		fmt.Printf("\nDetections logged: %d (%d without a match)\n", total, unmatched)
		return nil
	},
}

// recordsCmd represents the records command
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List stored records, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, _ := cmd.Flags().GetString("adapter")
		source, _ := cmd.Flags().GetString("source")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		db, err := openExistingDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		opts := storage.ListOptions{Adapter: adapter, Source: source, Limit: limit}
		if since > 0 {
			opts.Since = time.Now().Add(-since)
		}
		records, err := db.ListRecords(context.Background(), opts)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			for _, r := range records {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tINGESTED\tADAPTER\tCONFIDENCE\tEMISSIONS (KG)\tENERGY (KWH)\tSOURCE")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.3f\t%s\t%s\t%s\n", r.ID, r.IngestedAt.Local().Format(time.DateTime),
				r.Adapter, r.Confidence, optFloat(r.EmissionsKg), optFloat(r.EnergyKWh), r.Source)
		}
		return w.Flush()
	},
}

// detectionsCmd represents the detections command
var detectionsCmd = &cobra.Command{
	Use:   "detections",
	Short: "Show the most recent entries of the detection audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := openExistingDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		dets, err := db.ListDetections(context.Background(), limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tBEST MATCH\tSCORE\tCANDIDATES\tCACHED\tEARLY EXIT\tTIMED OUT\tMS\tSOURCE")
		for _, d := range dets {
			best := d.BestMatch
			if best == "" {
				best = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%.3f\t%d\t%t\t%t\t%t\t%.2f\t%s\n", d.OccurredAt.Local().Format(time.DateTime),
				best, d.TopScore, d.Candidates, d.CacheHit, d.EarlyExit, d.TimedOut, d.ElapsedMs, d.Source)
		}
		return w.Flush()
	},
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.AddCommand(statsCmd)
	dbCmd.AddCommand(recordsCmd)
	dbCmd.AddCommand(detectionsCmd)
	dbCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default is db.path or ~/.config/qingest/qingest.sqlite)")

	recordsCmd.Flags().String("adapter", "", "Only records produced by this adapter")
	recordsCmd.Flags().String("source", "", "Only records whose source contains this text")
	recordsCmd.Flags().Duration("since", 0, "Only records ingested within this window, e.g. 24h")
	recordsCmd.Flags().IntP("limit", "n", 50, "Maximum records to list (0 = all)")
	recordsCmd.Flags().Bool("json", false, "Print one JSON record per line")

	detectionsCmd.Flags().IntP("limit", "n", 50, "Maximum entries to show")
}
