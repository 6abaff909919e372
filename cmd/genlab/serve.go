package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/banshee-data/genlab/internal/api"
	"github.com/banshee-data/genlab/internal/assistant"
	"github.com/banshee-data/genlab/internal/comfy"
	"github.com/banshee-data/genlab/internal/config"
	"github.com/banshee-data/genlab/internal/genlab"
	"github.com/banshee-data/genlab/internal/monitoring"
	"github.com/banshee-data/genlab/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sweep panel service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Config file (JSON or YAML, default "+config.DefaultConfigPath+")")
	serveCmd.Flags().String("listen", "", "Override the listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	listen, _ := cmd.Flags().GetString("listen")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if listen == "" {
		listen = cfg.GetListen()
	}

	db, err := store.Open(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ws := comfy.NewWorkspace()
	host := comfy.NewHost(ws, comfy.NewClient(nil, cfg.GetHostURL()))
	runs := store.NewRunStore(db.DB)

	opts := genlab.Options{
		Snapshots:       store.NewSnapshotStore(db.DB),
		Runs:            runs,
		ClientID:        cfg.GetClientID(),
		MaxCombinations: cfg.GetMaxCombinations(),
		PollInterval:    cfg.GetPollInterval(),
		PollTimeout:     cfg.GetPollTimeout(),
		NotifyDuration:  cfg.GetNotifyDuration(),
		DefaultParams:   cfg.GetDefaultParams(),
	}
	if u := cfg.GetAssistantURL(); u != "" {
		client := assistant.NewClient(nil, u, cfg.GetAssistantAPIKey())
		defer client.Wait()
		opts.Assistant = client
	} else {
		pterm.Warning.Println("No assistant_url configured; text variant generation is disabled")
	}

	// The saved panel is kept across restarts. The graph is empty until the
	// browser bridge pushes it, so the bridge restores the panel through
	// POST /api/genlab/restore once a selection exists.
	panel := genlab.New(host, opts)
	defer panel.Wait()
	defer panel.Shutdown()

	handler, err := api.NewServer(panel, ws, runs).Handler(db)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	pterm.Success.Printf("GenLab listening on %s (host %s)\n", listen, cfg.GetHostURL())

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	pterm.Info.Println("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
	}
	return nil
}
