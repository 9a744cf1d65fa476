package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/jobctl/internal/cli"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control server",
	Long: `Starts the controller and exposes it over HTTP: state, commands, workflow
selection, pending failure decisions, run history, an SSE event stream and
Prometheus metrics. Optionally serves MCP over SSE next to it.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(cmd); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (default from configuration)")
	serveCmd.Flags().String("workflow", "", "Initial workflow: placement or paste")
	serveCmd.Flags().Int("mcp-port", 0, "Also serve MCP over SSE on this port (0 disables)")
}

func serve(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	mcpPort, _ := cmd.Flags().GetInt("mcp-port")

	app, err := cli.Build(cfg, cli.Options{})
	if err != nil {
		return err
	}
	handler := app.HTTPServer()

	sigCtx := cli.NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	g, gctx := errgroup.WithContext(sigCtx)

	// Requests inherit gctx so open event streams end when shutdown starts.
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}
	g.Go(func() error {
		app.Logger.Info("Starting jobctl server", "address", srv.Addr, "machine", cfg.MachineID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if mcpPort > 0 {
		g.Go(func() error {
			return app.MCPServer().ServeSSE(gctx, mcpPort)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if sig := sigCtx.Signal(); sig != nil {
			app.Logger.Info("Start shutdown", "signal", sig)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		handler.Close()
		var errs []error
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("graceful shutdown did not complete: %w", err))
			errs = append(errs, srv.Close())
		}
		errs = append(errs, app.Close(ctx))
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	app.Logger.Info("jobctl server stopped gracefully")
	return nil
}
