package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgerun/forge/pkg/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status <goal_id>",
	Short: "Report a goal's status and per-task summary",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newAPIClient(orchPort)
		resp, err := client.getGoal(context.Background(), args[0])
		if err != nil {
			die(exitCodeInternal, "failed to query goal", err)
		}

		fmt.Printf("goal_id: %s\nstatus: %s\ndescription: %s\n", resp.GoalID, resp.Status, resp.Description)
		for _, t := range resp.Tasks {
			fmt.Printf("  task %s (%s): %s", t.TaskID, t.Type, t.Status)
			if t.ClaimedBy != "" {
				fmt.Printf(" claimed_by=%s", t.ClaimedBy)
			}
			if t.Error != "" {
				fmt.Printf(" error=%q", t.Error)
			}
			fmt.Println()
		}

		if resp.Status == string(domain.GoalFailed) {
			die(exitCodeFailed, "goal failed", nil)
		}
	},
}
