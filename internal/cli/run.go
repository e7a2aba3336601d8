package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Run an engine process against a fresh bridge",
		Long: `Start the bridge, launch the given engine command with the bridge
connection environment (EVOLVE_RUN_BRIDGE_ADDR, EVOLVE_RUN_BRIDGE_TOKEN,
EVOLVE_RUN_BRIDGE_SESSION), and tear the bridge down when the engine
exits.`,
		Example: `  evolve-bridge run -- python -m engine.run workflow.json`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    runRun,
	}
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cliCtx := GetContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("command context not initialized")
	}
	log := cliCtx.Log()

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
		Str("command", args[0]).
		Msg("Launching engine")

	engine := exec.CommandContext(cmd.Context(), args[0], args[1:]...)
	engine.Env = append(os.Environ(), info.Env()...)
	engine.Stdin = os.Stdin
	engine.Stdout = os.Stdout
	engine.Stderr = os.Stderr

	if err := engine.Run(); err != nil {
		return fmt.Errorf("engine exited: %w", err)
	}

	log.Info().Msg("Engine finished")
	return nil
}
