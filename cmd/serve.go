package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/notifysync/internal/db"
	"github.com/ziadkadry99/notifysync/internal/logging"
	"github.com/ziadkadry99/notifysync/internal/server"
)

var (
	servePort     int
	serveAllowAll bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reference notification backend",
	Long: `Starts a development backend that implements the notification REST API,
the realtime websocket endpoint and the push worker script, backed by SQLite.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		dbPath := filepath.Join(cfg.Server.DataDir, "notifysync.db")
		database, err := db.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

		srv := server.New(server.Config{
			Port:         port,
			DataDir:      cfg.Server.DataDir,
			WorkerPath:   cfg.Push.WorkerPath,
			PingInterval: cfg.Server.PingInterval,
			AllowAll:     cfg.Server.AllowAll || serveAllowAll,
		}, database, logging.Component(logger, "server"))

		// Graceful shutdown.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "\nShutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		fmt.Fprintf(os.Stderr, "notifysync server %s starting on port %d\n", Version, port)
		fmt.Fprintf(os.Stderr, "  Database: %s\n", dbPath)
		fmt.Fprintf(os.Stderr, "  Worker script: %s\n", cfg.Push.WorkerPath)

		return srv.Start()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on (overrides server.port)")
	serveCmd.Flags().BoolVar(&serveAllowAll, "allow-all-origins", false, "Allow CORS requests from any origin")
	rootCmd.AddCommand(serveCmd)
}
