package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/pkg/types"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a task over the HTTP API",
	Long: `Submit one task to a running control plane. Prints the
admitted task, including the generated ID, as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		apiAddr, _ := cmd.Flags().GetString("api")
		taskType, _ := cmd.Flags().GetString("type")
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetString("priority")
		complexity, _ := cmd.Flags().GetInt("complexity")
		workerType, _ := cmd.Flags().GetString("worker-type")
		maxRetries, _ := cmd.Flags().GetInt("max-retries")
		timeout, _ := cmd.Flags().GetInt("timeout")
		dependsOn, _ := cmd.Flags().GetStringSlice("depends-on")

		task := types.Task{
			Type:           types.TaskType(taskType),
			Description:    description,
			Priority:       types.TaskPriority(priority),
			Complexity:     complexity,
			WorkerType:     workerType,
			MaxRetries:     maxRetries,
			TimeoutSeconds: timeout,
			DependsOn:      dependsOn,
		}
		if err := task.Validate(); err != nil {
			return err
		}

		body, err := json.Marshal(&task)
		if err != nil {
			return err
		}

		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Post(apiAddr+"/api/v1/tasks", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to reach API: %w", err)
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("submission rejected (%s): %s", resp.Status, payload)
		}
		fmt.Println(string(payload))
		return nil
	},
}

func init() {
	submitCmd.Flags().String("api", "http://localhost:8000", "Control plane base URL")
	submitCmd.Flags().String("type", "", "Task type (e.g. text_processing, code_generation)")
	submitCmd.Flags().String("description", "", "Human-readable description")
	submitCmd.Flags().String("priority", "", "critical, high, normal, or low")
	submitCmd.Flags().Int("complexity", 5, "Complexity 1-10")
	submitCmd.Flags().String("worker-type", "", "Preferred model profile")
	submitCmd.Flags().Int("max-retries", 0, "Retry budget (0 uses the default)")
	submitCmd.Flags().Int("timeout", 0, "Timeout in seconds (0 = none)")
	submitCmd.Flags().StringSlice("depends-on", nil, "Task IDs this task depends on")
	_ = submitCmd.MarkFlagRequired("type")
}
