package main

import (
	"github.com/spf13/cobra"

	"github.com/jamesenh/novelgen/internal/httpapi"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the novelgen HTTP API server.

The server exposes project CRUD, state inspection, generate/resume/stop, and
rollback over HTTP, backed by the same orchestrator the CLI uses. Every
project under --home is reachable by name.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectsRoot()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger := newLogger()
		s := httpapi.New(httpapi.Config{
			ProjectsRoot: root,
			Generator:    "novelgen",
			Providers:    resolveProviders(cfg),
			AuditWorkers: 4,
			Logger:       logger,
			Host:         serveHost,
			Port:         servePort,
		})
		logger.Info("serving projects", "root", root, "addr", s.Addr())
		return s.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "port to listen on")
	rootCmd.AddCommand(serveCmd)
}
