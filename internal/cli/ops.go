package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haymant/evolve/internal/bridge"
	"github.com/haymant/evolve/internal/storage"
)

// NewOpsCmd creates the ops command group.
func NewOpsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Inspect pending operations",
	}
	cmd.AddCommand(newOpsListCmd())
	return cmd
}

type opsListFlags struct {
	Addr    string
	Token   string
	Session string
	JSON    bool
}

func newOpsListCmd() *cobra.Command {
	var flags opsListFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending operations",
		Long: `List pending operations. With --addr the list comes live from a
running bridge (requires --token and --session); without it, the last
persisted snapshot is read from local storage.`,
		Example: `  # Live, against a running bridge
  evolve-bridge ops list --addr 127.0.0.1:8787 --token <token> --session <session>

  # Offline, from the last snapshot
  evolve-bridge ops list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.Addr != "" {
				return listLive(flags)
			}
			return listSnapshot(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Addr, "addr", "", "address of a running bridge")
	cmd.Flags().StringVar(&flags.Token, "token", "", "bridge token (required with --addr)")
	cmd.Flags().StringVar(&flags.Session, "session", "", "bridge session id (required with --addr)")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "output as JSON")
	return cmd
}

type listedOperation struct {
	OperationID    string    `json:"operationId"`
	TransitionName string    `json:"transitionName"`
	OperationType  string    `json:"operationType"`
	RunID          string    `json:"runId"`
	CreatedAt      time.Time `json:"createdAt"`
}

func listLive(flags opsListFlags) error {
	if flags.Token == "" || flags.Session == "" {
		return fmt.Errorf("--token and --session are required with --addr")
	}

	req, err := http.NewRequest(http.MethodGet, "http://"+flags.Addr+"/operations", nil)
	if err != nil {
		return err
	}
	req.Header.Set(bridge.HeaderToken, flags.Token)
	req.Header.Set(bridge.HeaderSession, flags.Session)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("query bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge returned %s", resp.Status)
	}

	var body struct {
		Operations []listedOperation `json:"operations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return render(body.Operations, flags.JSON)
}

func listSnapshot(cmd *cobra.Command, flags opsListFlags) error {
	cliCtx := GetContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("command context not initialized")
	}

	path := cliCtx.Config.Storage.Path
	if path == "" {
		return fmt.Errorf("no storage path configured")
	}

	db, err := storage.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer db.Close()

	entries, err := db.LoadPending()
	if err != nil {
		return fmt.Errorf("load pending operations: %w", err)
	}

	listed := make([]listedOperation, 0, len(entries))
	for _, entry := range entries {
		listed = append(listed, listedOperation{
			OperationID:    entry.OperationID,
			TransitionName: entry.TransitionName,
			OperationType:  entry.OperationType,
			RunID:          entry.RunID,
			CreatedAt:      entry.CreatedAt,
		})
	}
	return render(listed, flags.JSON)
}

func render(listed []listedOperation, asJSON bool) error {
	if asJSON {
		data, _ := json.MarshalIndent(listed, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	if len(listed) == 0 {
		fmt.Println("No pending operations.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATION\tTRANSITION\tTYPE\tRUN\tAGE")
	now := time.Now()
	for _, op := range listed {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			op.OperationID,
			op.TransitionName,
			op.OperationType,
			op.RunID,
			now.Sub(op.CreatedAt).Round(time.Second),
		)
	}
	return w.Flush()
}
