package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/inlinesvg/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve [dir]",
	Aliases: []string{"s"},
	Short:   "Preview pages with inlined SVG and live reload",
	Long: `Serve the pages below a directory, inlining their SVG images on every
request. Browsers reload when a page or an SVG file changes.

Endpoints:
  /          Pages (inlined) and static files
  /ws        Live reload
  /health    Server and cache status
  /metrics   Prometheus metrics

Examples:
  inlinesvg serve                  # Serve the working directory
  inlinesvg serve site -p 3000     # Serve site/ on port 3000`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	AddFlagValidation(serveCmd, "port", ValidatePort)

	bindFlags(serveCmd.Flags(), map[string]string{
		"port": "server.port",
		"host": "server.host",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, logger, plugin, err := setup(ctx)
	if err != nil {
		return err
	}
	defer plugin.Close()

	srv, err := server.New(plugin, root, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, err, "Error during server shutdown")
		}
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "Serving %s at http://%s\n", root, srv.Addr())

	return srv.Start(ctx)
}
