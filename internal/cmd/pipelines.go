package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arkova/pipechat/internal/api"
)

// pipelinesCmd lists the pipelines known to the platform.
var pipelinesCmd = &cobra.Command{
	Use:   "pipelines",
	Short: "List pipelines available on the platform",
	Long: `List the bot pipelines the platform knows about, with their UUIDs.

Use a pipeline UUID with the chat command to open a debug session:
  pipechat chat <pipeline-uuid>`,
	RunE: runPipelines,
}

func init() {
	rootCmd.AddCommand(pipelinesCmd)
}

func runPipelines(cmd *cobra.Command, args []string) error {
	token, err := resolveToken(cmd.Context())
	if err != nil {
		return err
	}

	client := api.New(cfg.Server, api.WithToken(token))
	pipelines, err := client.ListPipelines()
	if err != nil {
		return err
	}

	if len(pipelines) == 0 {
		fmt.Println("No pipelines found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tNAME\tADAPTER\tSTATUS")
	for _, p := range pipelines {
		status := "stopped"
		if p.IsStarted {
			status = "running"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.UUID, p.Name, p.AdapterType, status)
	}
	return w.Flush()
}

// resolveToken returns the auth token from config, running token_command
// when one is configured.
func resolveToken(ctx context.Context) (string, error) {
	if cfg.TokenCommand != "" {
		out, err := exec.CommandContext(ctx, "sh", "-c", cfg.TokenCommand).Output()
		if err != nil {
			return "", fmt.Errorf("token_command failed: %w", err)
		}
		token := strings.TrimSpace(string(out))
		if token == "" {
			return "", fmt.Errorf("token_command produced no output")
		}
		return token, nil
	}
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	return "", fmt.Errorf("no auth token configured (set token or token_command in the config, or pass --token)")
}
