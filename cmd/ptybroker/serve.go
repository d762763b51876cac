package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PiranhaCodes/ptybroker/internal/api"
	"github.com/PiranhaCodes/ptybroker/internal/broker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker daemon on a UNIX socket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup(true)
		if err != nil {
			return err
		}
		defer log.Close()

		if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0755); err != nil {
			return err
		}

		b := broker.New(log.Logger)
		server := api.NewServer(b, log.Logger, api.Options{
			SocketPath:  cfg.SocketPath,
			SessionsDir: cfg.SessionsDir,
			LogDir:      cfg.LogDir,
			Shell:       cfg.Shell,
		})

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Start()
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			server.Stop()
			return nil
		case err := <-errChan:
			return err
		}
	},
}
