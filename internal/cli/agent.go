package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minibot-ai/minibot/internal/daemon"
)

var agentMessage string

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the agent once with a single message",
	Long: `Run one prompt through the agent and print the final response.
The conversation is recorded under the cli session, so follow-up runs keep
context.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "message to send to the agent")
	_ = agentCmd.MarkFlagRequired("message")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log.GetZerolog())
	if err != nil {
		return err
	}
	defer func() { _ = d.Stop(context.Background()) }()

	response, err := d.Loop().RunDirect(cmd.Context(), "cli:direct", agentMessage)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), response)
	return nil
}
