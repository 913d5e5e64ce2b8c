package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}

		handler, err := a.handler()
		if err != nil {
			a.close(context.Background())
			return err
		}

		server := &http.Server{
			Addr:         listenAddr(cfg),
			Handler:      handler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		a.poller.Start()

		errCh := make(chan error, 1)
		go func() {
			a.logger.Printf("Starting IssueHub on http://localhost%s%s", server.Addr, cfg.BaseURL)
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			a.close(context.Background())
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		a.logger.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Live connections are hijacked and not tracked by Shutdown.
		a.hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Printf("Shutdown error: %v", err)
		}
		a.close(shutdownCtx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
