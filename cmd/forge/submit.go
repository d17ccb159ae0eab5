package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var submitGoalText string
var submitPriority int

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a goal to a running forge daemon",
	Run: func(cmd *cobra.Command, args []string) {
		if submitGoalText == "" {
			die(exitCodeUsage, "--goal is required", nil)
		}

		client := newAPIClient(orchPort)
		resp, err := client.submitGoal(context.Background(), submitGoalText, submitPriority)
		if err != nil {
			die(exitCodeInternal, "failed to submit goal", err)
		}

		fmt.Printf("goal_id: %s\nstatus: %s\n", resp.GoalID, resp.Status)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitGoalText, "goal", "", "goal description (required)")
	submitCmd.Flags().IntVar(&submitPriority, "priority", 0, "goal priority, higher runs first")
}
