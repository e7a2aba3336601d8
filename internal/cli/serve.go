package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge and keep it running",
		Long: `Start the bridge host and keep it running until interrupted.

The bridge listens on the configured host and port (default: an
ephemeral loopback port) and prints the launch environment an engine
process needs to connect.`,
		Example: `  # Start with default configuration
  evolve-bridge serve

  # Pin the port
  evolve-bridge serve --port 8787`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("command context not initialized")
	}

	cfg := cliCtx.Config
	log := cliCtx.Log()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Bridge.Port = port
	}
	if hostFlag, _ := cmd.Flags().GetString("host"); hostFlag != "" {
		cfg.Bridge.Host = hostFlag
	}

	h, err := cliCtx.Host()
	if err != nil {
		return fmt.Errorf("failed to build host: %w", err)
	}

	info, err := h.EnsureBridge()
	if err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	log.Info().
		Str("addr", info.Addr).
		Int("pending", h.Registry().Summary().Count).
		Msg("Bridge started")

	for _, entry := range info.Env() {
		fmt.Println(entry)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down bridge...")
	return nil
}
