package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/overmix/planealign/internal/imagealign/align"
	"github.com/overmix/planealign/internal/imagealign/ingest"
	"github.com/overmix/planealign/internal/imagealign/memcontainer"
	"github.com/overmix/planealign/internal/imagealign/plane"
	"github.com/overmix/planealign/internal/store"
	"github.com/spf13/cobra"
)

var (
	resumeServerURL string
	resumeLocalMode bool
	resumeOutputDir string
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume an alignment run from a checkpoint",
	Long: `Resume an alignment job from a saved checkpoint.

Supports two modes:
  1. Server mode (default): POST to server's resume endpoint
  2. Local mode (--local): Load checkpoint and re-enter the aligner locally

Examples:
  # Resume via server
  planealign resume abc123 --server-url http://localhost:8080

  # Resume locally
  planealign resume abc123 --local --output ./results`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeServerURL, "server-url", "http://localhost:8080", "Server URL for remote resume")
	resumeCmd.Flags().BoolVar(&resumeLocalMode, "local", false, "Run resume locally instead of via server")
	resumeCmd.Flags().StringVar(&resumeOutputDir, "output", "./resumed", "Output directory for local mode")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	if resumeLocalMode {
		return runResumeLocal(jobID)
	}
	return runResumeServer(jobID)
}

// runResumeServer sends a resume request to the server
func runResumeServer(jobID string) error {
	url := fmt.Sprintf("%s/api/v1/jobs/%s/resume", resumeServerURL, jobID)

	slog.Info("Resuming job via server", "job_id", jobID, "url", url)

	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("checkpoint not found for job %s", jobID)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var result struct {
		JobID   string `json:"jobId"`
		State   string `json:"state"`
		Message string `json:"message,omitempty"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	fmt.Printf("Job resumed successfully\n")
	fmt.Printf("  Job ID: %s\n", result.JobID)
	fmt.Printf("  State: %s\n", result.State)
	if result.Message != "" {
		fmt.Printf("  Message: %s\n", result.Message)
	}
	fmt.Printf("\nUse 'planealign status %s' to monitor progress\n", result.JobID)

	return nil
}

// buildComparatorFromConfig mirrors the server's buildComparator, duplicated
// here since the server package's helper is unexported.
func buildComparatorFromConfig(cfg store.JobConfig) align.Comparator {
	c := align.NewComparator()
	c.StartLevel = cfg.StartLevel
	if c.StartLevel <= 0 {
		c.StartLevel = 1
	}
	c.MaxLevel = cfg.MaxLevel
	if c.MaxLevel <= 0 {
		c.MaxLevel = 6
	}
	if cfg.Movement > 0 {
		c.Movement = cfg.Movement
	}
	switch cfg.Method {
	case "horizontal":
		c.Method = align.Horizontal
	case "vertical":
		c.Method = align.Vertical
	default:
		c.Method = align.Free
	}
	return c
}

// runResumeLocal loads a checkpoint, seeds the container with its recorded
// positions and reruns the aligner locally over all frames. The aligner
// recomputes every position from frame 0, so the seeded values do not
// shorten the run.
func runResumeLocal(jobID string) error {
	slog.Info("Resuming job locally", "job_id", jobID)

	checkpointStore, err := store.NewFSStore("./data")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	fmt.Printf("Loaded checkpoint:\n")
	fmt.Printf("  Job ID: %s\n", checkpoint.JobID)
	fmt.Printf("  Frames done: %d/%d\n", checkpoint.FramesDone, len(checkpoint.Config.Paths))
	fmt.Printf("  Last error: %f\n", checkpoint.LastError)
	fmt.Printf("  Mode: %s\n", checkpoint.Config.Mode)
	fmt.Printf("  Checkpoint time: %s\n\n", checkpoint.Timestamp.Format(time.RFC3339))

	comparator := buildComparatorFromConfig(checkpoint.Config)
	container := memcontainer.New(comparator)

	for _, path := range checkpoint.Config.Paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open frame %q: %w", path, err)
		}
		img, err := ingest.Decode(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("decode frame %q: %w", path, err)
		}
		container.Add(img, filepath.Dir(path))
	}

	for i, pos := range checkpoint.Positions {
		container.SetPos(i, align.Offset{X: pos.X, Y: pos.Y})
	}

	fmt.Printf("Resuming alignment...\n")
	ctx := context.Background()
	start := time.Now()

	var runErr error
	switch checkpoint.Config.Mode {
	case "animation":
		sep := align.AnimationSeparator{ThresholdFactor: checkpoint.Config.ThresholdFactor}
		runErr = sep.Separate(ctx, container, align.NullWatcher{})
	case "average", "":
		aligner := align.AverageAligner{Comparator: comparator}
		runErr = aligner.Align(ctx, container, memcontainer.AverageRenderer{}, align.NullWatcher{})
	default:
		runErr = fmt.Errorf("unknown mode: %s", checkpoint.Config.Mode)
	}
	if runErr != nil {
		return fmt.Errorf("resume failed: %w", runErr)
	}

	elapsed := time.Since(start)
	fmt.Printf("\nAlignment completed in %s\n", elapsed)

	if err := os.MkdirAll(resumeOutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	result, err := memcontainer.AverageRenderer{}.Render(ctx, container, container.Count())
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}

	outPath := filepath.Join(resumeOutputDir, fmt.Sprintf("%s_resumed.png", jobID))
	if err := savePlaneImage(result, outPath); err != nil {
		return fmt.Errorf("failed to save output image: %w", err)
	}
	fmt.Printf("Output saved to: %s\n", outPath)

	n := container.Count()
	positions := make([]store.FramePosition, n)
	phases := make([]int, n)
	for i := 0; i < n; i++ {
		p := container.Pos(i)
		positions[i] = store.FramePosition{X: p.X, Y: p.Y}
		phases[i] = container.Phase(i)
	}
	var lastError float64
	if n >= 2 {
		if off, err := container.FindOffset(ctx, n-2, n-1); err == nil {
			lastError = off.Error
		}
	}

	updatedCheckpoint := store.NewCheckpoint(jobID, positions, phases, lastError, n, checkpoint.Config)
	if err := checkpointStore.SaveCheckpoint(jobID, updatedCheckpoint); err != nil {
		slog.Warn("Failed to update checkpoint", "error", err)
	} else {
		fmt.Printf("Checkpoint updated\n")
	}

	return nil
}

func savePlaneImage(p *plane.Plane, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, ingest.ToImage(p))
}
