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

	"toolgate/internal/config"
	"toolgate/internal/coordinator"
	"toolgate/internal/mcpclient"
	"toolgate/internal/oauth"
	"toolgate/internal/server"
	"toolgate/pkg/logging"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath points at the configuration file. Empty means the
// default location under the user config directory.
var serveConfigPath string

// serveNoConnect skips connecting the configured servers on startup;
// connections are then driven entirely through the HTTP API.
var serveNoConnect bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the toolgate coordination server",
	Long: `Starts the HTTP surface and begins managing the configured
tool-servers: metadata discovery, dynamic client registration, token
refresh, and transport selection all happen here. The configuration file
is watched for changes; edits become visible to subsequent connects
without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(homeDir, ".config", "toolgate", "config.yaml")
}

func runServe(cmd *cobra.Command, args []string) error {
	logLevel := logging.LevelInfo
	if serveDebug {
		logLevel = logging.LevelDebug
	}
	logging.Init(logLevel, os.Stderr)

	configPath := serveConfigPath
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	store, err := config.NewStore(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := store.Config()

	codec, err := oauth.NewStateCodec(cfg.StateSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize state codec: %w", err)
	}

	tokens := oauth.NewTokenClient()
	coord, err := coordinator.New(coordinator.Deps{
		Registry:  coordinator.NewConnectionRegistry(),
		Vault:     oauth.NewTokenVault(tokens),
		Discovery: oauth.NewDiscoveryEngine(),
		Registrar: oauth.NewClientRegistrar(cfg.RedirectURI(), nil),
		Factory:   mcpclient.NewFactory(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize coordinator: %w", err)
	}

	srv, err := server.New(server.Deps{
		Config:    cfg,
		Store:     store,
		Manager:   coord,
		Discovery: oauth.NewDiscoveryEngine(),
		Tokens:    tokens,
		Codec:     codec,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.Watch(ctx); err != nil {
		logging.Warn("Serve", "Config watching unavailable: %v", err)
	}

	if !serveNoConnect {
		go func() {
			results := coord.ConnectAll(ctx, store.Servers(), false)
			for _, state := range results {
				logging.Info("Serve", "Server %s: %s", state.ID, state.Status)
			}
		}()
	}

	// Shut down on the first signal; a second one kills the process the
	// usual way.
	go func() {
		<-ctx.Done()
		stop()
		logging.Info("Serve", "Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Serve", "HTTP shutdown failed: %v", err)
		}
		coord.DisconnectAll()
	}()

	return srv.Start()
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Path to the configuration file")
	serveCmd.Flags().BoolVar(&serveNoConnect, "no-connect", false, "Do not connect configured servers on startup")
}
