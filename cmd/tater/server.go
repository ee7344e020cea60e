package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/TaterTotterson/Tater/internal/api"
	"github.com/TaterTotterson/Tater/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Tater server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		skipPull, _ := cmd.Flags().GetBool("skip-model-check")
		return runServer(skipPull)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running Tater server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Tater system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the assistant's tools over MCP on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	serveCmd.Flags().Bool("skip-model-check", false, "start without checking that the configured models are available")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tater.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(skipModelCheck bool) error {
	fmt.Fprintf(os.Stderr, "tater version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tater is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tater is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if !skipModelCheck {
		if err := a.ensureModels(ctx); err != nil {
			return err
		}
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Chat:        a.orch,
		Tools:       a.tools,
		Settings:    a.settings,
		ToolTimeout: cfg.Orchestrator.ToolTimeout,
		Version:     version,
	})
	handler := api.NewHandler(api.Deps{
		Chat:          a.orch,
		Feeds:         a.scheduler,
		Tools:         a.tools,
		Settings:      a.settings,
		Conversations: a.memory,
		MCP:           mcpSrv,
		Token:         apiToken,
		Version:       version,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	watcher := config.NewWatcher(config.FilePath(), a.reload)
	if err := watcher.Start(ctx); err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	background := make(chan struct{}, 2)
	go func() {
		a.backfill.Run(ctx)
		background <- struct{}{}
	}()
	go func() {
		a.scheduler.Run(ctx)
		background <- struct{}{}
	}()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "tater listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}

	// In-flight feed polls finish before storage closes.
	for range 2 {
		<-background
	}
	return serveErr
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol; logs go to stderr.
	setupLogging(cfg.Log.Level)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	s := api.NewMCPServer(api.MCPDeps{
		Chat:        a.orch,
		Tools:       a.tools,
		Settings:    a.settings,
		ToolTimeout: cfg.Orchestrator.ToolTimeout,
		Version:     version,
	})
	if err := server.ServeStdio(s); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("tater is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tater (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tater (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model backend", "%s", backendLabel(cfg))
	printStatus("Chat model", "%s", cfg.Model.ChatModel)
	printStatus("Embed model", "%s", cfg.Model.EmbedModel)

	if running {
		c, err := newAPIClient()
		if err == nil {
			var list []feedSummary
			if err := c.getJSON(ctx, "/feeds", &list); err == nil {
				printStatus("Watched feeds", "%d", len(list))
				if failing := countFailing(list); failing > 0 {
					printStatus("Failing feeds", "%d", failing)
				}
			}
			var tools []toolSummary
			if err := c.getJSON(ctx, "/tools", &tools); err == nil {
				printStatus("Tools", "%s", enabledLabel(tools))
			}
		}
	}

	printStatus("Sinks", "%d configured", len(cfg.Notify.Sinks))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	if _, err := os.Stat(filepath.Join(cfg.Storage.DataDir, "tater.db")); errors.Is(err, os.ErrNotExist) {
		printWarning("no database yet; run `tater serve` to create one")
	}
	return nil
}

func backendLabel(cfg config.Config) string {
	switch cfg.Model.Provider {
	case "openai":
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "api.openai.com"
		}
		return "openai at " + base
	default:
		return "ollama at " + cfg.Ollama.BaseURL
	}
}

func countFailing(list []feedSummary) int {
	n := 0
	for _, f := range list {
		if f.Failures > 0 {
			n++
		}
	}
	return n
}

func enabledLabel(tools []toolSummary) string {
	enabled := 0
	for _, t := range tools {
		if t.Enabled {
			enabled++
		}
	}
	return fmt.Sprintf("%d of %d enabled", enabled, len(tools))
}
