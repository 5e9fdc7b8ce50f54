package main

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/overmix/planealign/internal/imagealign/align"
	"github.com/overmix/planealign/internal/imagealign/ingest"
	"github.com/overmix/planealign/internal/imagealign/memcontainer"
	"github.com/spf13/cobra"
)

var (
	outPath         string
	mode            string
	startLevel      int
	maxLevel        int
	movement        float64
	method          string
	thresholdFactor float64
	cpuProfile      string
	memProfile      string
	configPath      string
)

var runCmd = &cobra.Command{
	Use:   "run [frame...]",
	Short: "Run a single-shot alignment",
	Long: `Aligns the given frames and writes the composite image.

Settings can also be checked into a YAML config file via --config; flags
given on the command line take priority over the file's values.`,
	RunE: runAlignment,
}

func init() {
	runCmd.Flags().StringVar(&outPath, "out", "out.png", "Output image path")
	runCmd.Flags().StringVar(&mode, "mode", "average", "Alignment mode: average, animation")
	runCmd.Flags().IntVar(&startLevel, "start-level", 1, "Pyramid level the recursive search begins at")
	runCmd.Flags().IntVar(&maxLevel, "max-level", 6, "Maximum pyramid depth")
	runCmd.Flags().Float64Var(&movement, "movement", 1.0, "Movement search radius multiplier")
	runCmd.Flags().StringVar(&method, "method", "free", "Search constraint: free, horizontal, vertical")
	runCmd.Flags().Float64Var(&thresholdFactor, "threshold", 0, "Animation phase threshold factor (0 = auto)")
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML file with frames and alignment settings")

	// Profiling flags
	runCmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	runCmd.Flags().StringVar(&memProfile, "memprofile", "", "Write memory profile to file")

	rootCmd.AddCommand(runCmd)
}

func runAlignment(cmd *cobra.Command, args []string) error {
	fileCfg, err := loadAlignConfig(configPath)
	if err != nil {
		return err
	}

	frames := args
	if len(frames) == 0 {
		frames = fileCfg.Frames
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frames given: pass frame paths as arguments or list them under \"frames\" in --config")
	}

	flags := cmd.Flags()
	if !flags.Changed("out") && fileCfg.Out != "" {
		outPath = fileCfg.Out
	}
	if !flags.Changed("mode") && fileCfg.Mode != "" {
		mode = fileCfg.Mode
	}
	if !flags.Changed("start-level") && fileCfg.StartLevel != 0 {
		startLevel = fileCfg.StartLevel
	}
	if !flags.Changed("max-level") && fileCfg.MaxLevel != 0 {
		maxLevel = fileCfg.MaxLevel
	}
	if !flags.Changed("movement") && fileCfg.Movement != 0 {
		movement = fileCfg.Movement
	}
	if !flags.Changed("method") && fileCfg.Method != "" {
		method = fileCfg.Method
	}
	if !flags.Changed("threshold") && fileCfg.ThresholdFactor != 0 {
		thresholdFactor = fileCfg.ThresholdFactor
	}

	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			return fmt.Errorf("failed to create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
		slog.Info("CPU profiling enabled", "output", cpuProfile)
	}

	slog.Info("Starting alignment", "mode", mode, "frames", len(frames))

	comparator := align.NewComparator()
	comparator.StartLevel = startLevel
	comparator.MaxLevel = maxLevel
	if movement > 0 {
		comparator.Movement = movement
	}
	switch method {
	case "horizontal":
		comparator.Method = align.Horizontal
	case "vertical":
		comparator.Method = align.Vertical
	default:
		comparator.Method = align.Free
	}

	container := memcontainer.New(comparator)
	for _, path := range frames {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open frame %q: %w", path, err)
		}
		img, err := ingest.Decode(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to decode frame %q: %w", path, err)
		}
		container.Add(img, path)
	}

	slog.Info("Loaded frames", "count", container.Count())

	ctx := context.Background()
	start := time.Now()

	var runErr error
	switch mode {
	case "animation":
		sep := align.AnimationSeparator{ThresholdFactor: thresholdFactor}
		runErr = sep.Separate(ctx, container, align.NullWatcher{})
	case "average":
		aligner := align.AverageAligner{Comparator: comparator}
		runErr = aligner.Align(ctx, container, memcontainer.AverageRenderer{}, align.NullWatcher{})
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
	if runErr != nil {
		return fmt.Errorf("alignment failed: %w", runErr)
	}

	elapsed := time.Since(start)

	result, err := memcontainer.AverageRenderer{}.Render(ctx, container, container.Count())
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}

	outFile, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer outFile.Close()

	if err := png.Encode(outFile, ingest.ToImage(result)); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	fps := float64(container.Count()) / elapsed.Seconds()

	var lastError float64
	if n := container.Count(); n >= 2 {
		if off, err := container.FindOffset(ctx, n-2, n-1); err == nil {
			lastError = off.Error
		}
	}

	slog.Info("Alignment complete",
		"elapsed", elapsed,
		"frames", container.Count(),
		"last_error", lastError,
		"frames_per_second", fmt.Sprintf("%.1f", fps),
	)

	fmt.Printf("Wrote %s (%d frames, last error %.4f, %.1f frames/sec)\n",
		outPath, container.Count(), lastError, fps)

	if memProfile != "" {
		f, err := os.Create(memProfile)
		if err != nil {
			return fmt.Errorf("failed to create memory profile: %w", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
		slog.Info("Memory profile written", "output", memProfile)
	}

	return nil
}
