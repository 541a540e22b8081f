package cmd

import (
	"github.com/qarbon/qingest/internal/server"
	"github.com/qarbon/qingest/internal/utils"
	"github.com/qarbon/qingest/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the detection and ingestion HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		noDB, _ := cmd.Flags().GetBool("no-db")

		reg, err := newRegistry(viper.GetViper())
		if err != nil {
			return err
		}

		var db *storage.DB
		if !noDB {
			var absPath string
			db, absPath, err = openDB(viper.GetString("db.path"))
			if err != nil {
				return err
			}
			defer db.Close()
			utils.Log.Infof("Using database %s", absPath)
		}

		srv := server.New(reg, db, viper.GetString("server.username"), viper.GetString("server.password"))
		srv.Log = utils.Log
		return srv.Start(viper.GetString("server.listen"))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("dbpath", "", "Path to SQLite DB file")
	serveCmd.Flags().Bool("no-db", false, "Serve detection only, without storing records")
	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("db.path", serveCmd.Flags().Lookup("dbpath"))
}
