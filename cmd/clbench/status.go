package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clbench/internal/report"
	"github.com/cwbudde/clbench/internal/server"
)

var serverURL string

var errNotFound = errors.New("not found")

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Query server runs or a specific run",
	Long: `Queries a running clbench server for run status information.
If no run-id is provided, lists live jobs and stored runs.
If run-id is provided, shows detailed status for that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listServerRuns(serverURL + "/api/v1/runs")
	}
	return getRunStatus(fmt.Sprintf("%s/api/v1/runs/%s/status", serverURL, args[0]), args[0])
}

func getJSON(url string, v any) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func listServerRuns(url string) error {
	var list server.RunList
	if err := getJSON(url, &list); err != nil {
		return err
	}

	if len(list.Jobs) == 0 {
		fmt.Println("No jobs on server")
	} else {
		fmt.Printf("Found %d job(s):\n\n", len(list.Jobs))
		for _, job := range list.Jobs {
			fmt.Printf("Job ID: %s\n", job.ID)
			fmt.Printf("  Kind: %s\n", job.Config.Kind)
			fmt.Printf("  State: %s\n", job.State)
			if job.Step > 0 {
				fmt.Printf("  Step: %d (%.1f steps/s)\n", job.Step, job.StepsPerSec)
			}
			if n := len(job.Measurements); n > 0 {
				fmt.Printf("  Measurements: %d\n", n)
			}
			fmt.Println()
		}
	}

	fmt.Println("Stored runs:")
	report.Runs(os.Stdout, list.Runs)
	return nil
}

func getRunStatus(url, id string) error {
	var status server.StatusResponse
	if err := getJSON(url, &status); err != nil {
		if errors.Is(err, errNotFound) {
			return fmt.Errorf("run not found: %s", id)
		}
		return err
	}

	fmt.Printf("Run: %s\n", status.ID)
	fmt.Printf("Kind: %s\n", status.Kind)
	fmt.Printf("State: %s\n", status.State)
	if status.Device != "" {
		fmt.Printf("Device: %s\n", status.Device)
	}
	fmt.Println()

	fmt.Println("Progress:")
	if status.Step > 0 {
		fmt.Printf("  Step: %d\n", status.Step)
		fmt.Printf("  Simulated time: %.6g\n", status.SimTime)
		fmt.Printf("  Throughput: %.1f steps/sec\n", status.StepsPerSec)
		fmt.Printf("  Total energy: %.6g\n", status.Energy)
	}
	if status.Measurements > 0 {
		fmt.Printf("  Measurements: %d\n", status.Measurements)
	}
	if status.Elapsed > 0 {
		elapsed := time.Duration(status.Elapsed * float64(time.Second))
		fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	}
	if status.Summary != "" {
		fmt.Printf("  Summary: %s\n", status.Summary)
	}

	if status.Error != "" {
		fmt.Printf("\nError: %s\n", status.Error)
	}
	return nil
}
