package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rfvalente/morada/config"
	srv "github.com/rfvalente/morada/internal/server"
)

func serveCMD() *cobra.Command {
	var serveAddr string
	var envFile string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(envFile)
			return srv.Run(serveAddr, cfg)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from LISTEN_PORT)")
	serve.Flags().StringVar(&envFile, "env-file", "", "env file to preload (default .env if present)")

	return serve
}
