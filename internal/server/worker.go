package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/overmix/planealign/internal/imagealign/align"
	"github.com/overmix/planealign/internal/imagealign/ingest"
	"github.com/overmix/planealign/internal/imagealign/memcontainer"
	"github.com/overmix/planealign/internal/store"
)

// jobWatcher bridges a running job's progress to the JobManager and SSE
// broadcaster, and turns context cancellation into ShouldCancel() so the
// align package never needs to know about either.
type jobWatcher struct {
	ctx   context.Context
	jm    *JobManager
	jobID string
	start time.Time
	total int
}

func (w *jobWatcher) SetTotal(n int) { w.total = n }

func (w *jobWatcher) SetCurrent(i int) {
	w.jm.UpdateJob(w.jobID, func(j *Job) {
		j.FramesDone = i
	})
}

func (w *jobWatcher) Add() {
	w.jm.UpdateJob(w.jobID, func(j *Job) {
		j.FramesDone++
	})
}

func (w *jobWatcher) ShouldCancel() bool {
	select {
	case <-w.ctx.Done():
		return true
	default:
		return false
	}
}

// buildComparator constructs an align.Comparator from a job's configuration.
func buildComparator(cfg JobConfig) align.Comparator {
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

// loadFrames decodes every path in cfg.Paths into the container, preserving
// order. A decode failure aborts the whole job: a missing or corrupt frame
// invalidates the frame indices the rest of the configuration refers to.
func loadFrames(cfg JobConfig, container *memcontainer.Container) error {
	for _, path := range cfg.Paths {
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
	return nil
}

// runJob executes an alignment job in the background.
// If checkpointStore is not nil and the job has a positive CheckpointInterval,
// periodic checkpoints are saved.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	}); err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "frames", len(job.Config.Paths), "mode", job.Config.Mode)

	container := memcontainer.New(buildComparator(job.Config))
	if err := loadFrames(job.Config, container); err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	slog.Info("Loaded frames", "job_id", jobID, "count", container.Count())

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	var traceWriter *store.TraceWriter
	if job.Config.CheckpointInterval > 0 {
		tw, err := store.NewTraceWriter("./data", jobID, false)
		if err != nil {
			slog.Warn("Failed to create trace writer", "job_id", jobID, "error", err)
		} else {
			traceWriter = tw
			defer func() {
				if err := traceWriter.Close(); err != nil {
					slog.Warn("Failed to close trace writer", "job_id", jobID, "error", err)
				}
			}()
		}
	}

	start := time.Now()
	watcher := &jobWatcher{ctx: ctx, jm: jm, jobID: jobID, start: start}

	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, start, progressDone)

	traceDone := make(chan struct{})
	traceEnabled := traceWriter != nil
	if traceEnabled {
		go monitorTrace(ctx, jm, traceWriter, jobID, container, traceDone)
	} else {
		close(traceDone)
	}

	checkpointDone := make(chan struct{})
	checkpointEnabled := checkpointStore != nil && job.Config.CheckpointInterval > 0
	if checkpointEnabled {
		go monitorCheckpoints(ctx, jm, checkpointStore, container, jobID, checkpointDone)
	} else {
		close(checkpointDone)
	}

	var runErr error
	switch job.Config.Mode {
	case "animation":
		sep := align.AnimationSeparator{ThresholdFactor: job.Config.ThresholdFactor}
		runErr = sep.Separate(ctx, container, watcher)
	case "average", "":
		aligner := align.AverageAligner{Comparator: buildComparator(job.Config)}
		runErr = aligner.Align(ctx, container, memcontainer.AverageRenderer{}, watcher)
	default:
		runErr = fmt.Errorf("unknown mode: %s", job.Config.Mode)
	}

	close(progressDone)
	if traceEnabled {
		close(traceDone)
	}
	if checkpointEnabled {
		close(checkpointDone)
	}
	elapsed := time.Since(start)

	if runErr != nil {
		markJobFailed(jm, jobID, runErr)
		return runErr
	}

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	positions, phases, lastError := snapshotContainer(container)

	endTime := time.Now()
	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Positions = positions
		j.Phases = phases
		j.LastError = lastError
		j.FramesDone = container.Count()
		j.EndTime = &endTime
	}); err != nil {
		return err
	}

	fps := float64(container.Count()) / elapsed.Seconds()
	slog.Info("Job completed", "job_id", jobID, "elapsed", elapsed, "frames", container.Count(), "fps", fps)

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:      jobID,
		State:      StateCompleted,
		FramesDone: container.Count(),
		FrameTotal: container.Count(),
		LastError:  lastError,
		FPS:        fps,
		Timestamp:  time.Now(),
	})

	return nil
}

// snapshotContainer reads back the positions/phases the aligner assigned,
// and the error of the last frame compared against its predecessor (0 for
// frame 0 or single-frame jobs).
func snapshotContainer(container *memcontainer.Container) ([]store.FramePosition, []int, float64) {
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
		if off, err := container.FindOffset(context.Background(), n-2, n-1); err == nil {
			lastError = off.Error
		}
	}
	return positions, phases, lastError
}

// monitorProgress periodically broadcasts progress events during alignment.
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, startTime time.Time, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}

			elapsed := time.Since(startTime).Seconds()
			var fps float64
			if elapsed > 0 {
				fps = float64(job.FramesDone) / elapsed
			}

			jm.broadcaster.Broadcast(ProgressEvent{
				JobID:      jobID,
				State:      job.State,
				FramesDone: job.FramesDone,
				FrameTotal: len(job.Config.Paths),
				LastError:  job.LastError,
				FPS:        fps,
				Timestamp:  time.Now(),
			})
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

// monitorCheckpoints periodically saves checkpoints during alignment.
func monitorCheckpoints(ctx context.Context, jm *JobManager, checkpointStore store.Store, container *memcontainer.Container, jobID string, done chan struct{}) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}

	interval := time.Duration(job.Config.CheckpointInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveCheckpoint(jm, checkpointStore, container, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveCheckpoint saves a checkpoint for the given job
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, container *memcontainer.Container, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if job.FramesDone == 0 {
		slog.Debug("Skipping checkpoint, no frames placed yet", "job_id", jobID)
		return nil
	}

	positions, phases, lastError := snapshotContainer(container)
	checkpoint := store.NewCheckpoint(jobID, positions, phases, lastError, job.FramesDone, job.Config)

	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved", "job_id", jobID, "frames_done", job.FramesDone, "last_error", lastError)
	return nil
}

// monitorTrace periodically appends a trace entry for the latest placed frame
// with its current position. The entry's Error is the job's LastError at
// write time, which runJob only updates once alignment has finished; it is
// not a per-frame diff.
func monitorTrace(ctx context.Context, jm *JobManager, traceWriter *store.TraceWriter, jobID string, container *memcontainer.Container, done chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	lastFrame := -1

	writeIfAdvanced := func() {
		job, exists := jm.GetJob(jobID)
		if !exists || job.FramesDone <= lastFrame+1 {
			return
		}
		idx := job.FramesDone - 1
		var offset *store.FramePosition
		if idx >= 0 && idx < container.Count() {
			p := container.Pos(idx)
			offset = &store.FramePosition{X: p.X, Y: p.Y}
		}
		entry := store.TraceEntry{
			FrameIndex: idx,
			Error:      job.LastError,
			Timestamp:  time.Now(),
			Offset:     offset,
		}
		if err := traceWriter.Write(entry); err != nil {
			slog.Error("Failed to write trace entry", "job_id", jobID, "error", err)
		}
		lastFrame = idx
	}

	for {
		select {
		case <-done:
			writeIfAdvanced()
			traceWriter.Flush()
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeIfAdvanced()
		}
	}
}
