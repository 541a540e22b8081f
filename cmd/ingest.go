package cmd

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/qarbon/qingest/internal/utils"
	"github.com/qarbon/qingest/pkg/batch"
	"github.com/qarbon/qingest/pkg/registry"
	"github.com/qarbon/qingest/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Detect and normalize inputs, optionally storing them",
	Long: `Runs every file (or stdin) through detection and the winning adapter, and
prints one normalized record per input as JSON. With --db the records and the
detection audit log are written to the sqlite database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		useDB, _ := cmd.Flags().GetBool("db")
		dbPathFlag, _ := cmd.Flags().GetString("dbpath")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		rawFallback, _ := cmd.Flags().GetBool("raw-fallback")

		v := viper.GetViper()
		opts, err := registryOptions(v)
		if err != nil {
			return err
		}
		if rawFallback {
			opts.UnknownHandler = registry.RawFallback{}
		}
		reg, err := newRegistryWith(v, opts)
		if err != nil {
			return err
		}

		items, err := readInputs(args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		var db *storage.DB
		if useDB {
			if dbPathFlag == "" {
				dbPathFlag = v.GetString("db.path")
			}
			var absPath string
			db, absPath, err = openDB(dbPathFlag)
			if err != nil {
				return err
			}
			defer db.Close()

			lock, err := utils.NewDBLock(absPath)
			if err != nil {
				return err
			}
			if err := lock.Lock(cmd.Context()); err != nil {
				return err
			}
			defer lock.Unlock()
		}

		var outMu sync.Mutex
		enc := json.NewEncoder(cmd.OutOrStdout())
		res, err := batch.Run(cmd.Context(), batch.Config{
			Registry:    reg,
			DB:          db,
			Concurrency: concurrency,
			Log:         utils.Log,
			OnItemDone: func(o batch.Outcome) {
				if o.Err != nil {
					utils.Log.Errorf("%s: %v", o.Source, o.Err)
					return
				}
				outMu.Lock()
				defer outMu.Unlock()
				if err := enc.Encode(struct {
					Source   string `json:"source"`
					RecordID string `json:"recordId,omitempty"`
					Data     any    `json:"data"`
				}{o.Source, o.RecordID, o.Data}); err != nil {
					utils.Log.Errorf("writing output: %v", err)
				}
			},
		}, items)
		if err != nil {
			return err
		}

		utils.Log.Infof("Ingested %d of %d inputs", res.Succeeded, len(items))
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d inputs failed", res.Failed, len(items))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().Bool("db", false, "Store records and detections in the database")
	ingestCmd.Flags().String("dbpath", "", "Path to SQLite DB file (default is db.path or ~/.config/qingest/qingest.sqlite)")
	ingestCmd.Flags().IntP("concurrency", "c", batch.DefaultConcurrency, "Number of inputs processed in parallel")
	ingestCmd.Flags().Bool("raw-fallback", false, "Keep unrecognized inputs as raw records instead of failing")
}
