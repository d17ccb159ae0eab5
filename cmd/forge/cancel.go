package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <goal_id>",
	Short: "Cancel a goal (idempotent)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := newAPIClient(orchPort)
		resp, err := client.cancelGoal(context.Background(), args[0])
		if err != nil {
			die(exitCodeInternal, "failed to cancel goal", err)
		}

		fmt.Printf("goal_id: %s\nstatus: %s\n", resp.GoalID, resp.Status)
	},
}
