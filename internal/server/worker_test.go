package server

import (
	"context"
	"testing"
)

func TestRunJob_Success(t *testing.T) {
	tmpDir := t.TempDir()
	paths := createTestFrames(t, tmpDir, 3)

	jm := NewJobManager()
	config := JobConfig{
		Paths:      paths,
		Mode:       "average",
		StartLevel: 1,
		MaxLevel:   3,
		Method:     "free",
	}

	job := jm.CreateJob(config)

	ctx := context.Background()
	err := runJob(ctx, jm, nil, job.ID)

	if err != nil {
		t.Errorf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}

	if updated.FramesDone != len(paths) {
		t.Errorf("Expected %d frames done, got %d", len(paths), updated.FramesDone)
	}

	if len(updated.Positions) != len(paths) {
		t.Errorf("Expected %d positions, got %d", len(paths), len(updated.Positions))
	}

	if updated.Positions[0].X != 0 || updated.Positions[0].Y != 0 {
		t.Errorf("First frame should be the reference position, got %+v", updated.Positions[0])
	}
}

func TestRunJob_AnimationMode(t *testing.T) {
	tmpDir := t.TempDir()
	paths := createTestFrames(t, tmpDir, 4)

	jm := NewJobManager()
	config := JobConfig{
		Paths: paths,
		Mode:  "animation",
	}

	job := jm.CreateJob(config)

	err := runJob(context.Background(), jm, nil, job.ID)
	if err != nil {
		t.Errorf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}

	if len(updated.Phases) != len(paths) {
		t.Errorf("Expected %d phase assignments, got %d", len(paths), len(updated.Phases))
	}
}

func TestRunJob_InvalidPath(t *testing.T) {
	jm := NewJobManager()
	config := JobConfig{
		Paths: []string{"/nonexistent/frame.png"},
		Mode:  "average",
	}

	job := jm.CreateJob(config)

	ctx := context.Background()
	err := runJob(ctx, jm, nil, job.ID)

	if err == nil {
		t.Error("runJob should fail with invalid frame path")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}

	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_UnknownMode(t *testing.T) {
	tmpDir := t.TempDir()
	paths := createTestFrames(t, tmpDir, 2)

	jm := NewJobManager()
	config := JobConfig{
		Paths: paths,
		Mode:  "bogus",
	}

	job := jm.CreateJob(config)

	err := runJob(context.Background(), jm, nil, job.ID)
	if err == nil {
		t.Error("runJob should fail for an unrecognized mode")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	tmpDir := t.TempDir()
	paths := createTestFrames(t, tmpDir, 5)

	jm := NewJobManager()
	config := JobConfig{
		Paths:      paths,
		Mode:       "average",
		StartLevel: 1,
		MaxLevel:   6,
	}

	job := jm.CreateJob(config)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- runJob(ctx, jm, nil, job.ID)
	}()

	cancel()

	err := <-done

	if err == nil {
		t.Error("runJob should return error when cancelled")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning && updated.State != StateCancelled {
		t.Errorf("Job should be running or cancelled, got %s", updated.State)
	}
}

func TestBuildComparator_Defaults(t *testing.T) {
	c := buildComparator(JobConfig{})

	if c.StartLevel != 1 {
		t.Errorf("Expected default StartLevel 1, got %d", c.StartLevel)
	}
	if c.MaxLevel != 6 {
		t.Errorf("Expected default MaxLevel 6, got %d", c.MaxLevel)
	}
}

func TestBuildComparator_Explicit(t *testing.T) {
	c := buildComparator(JobConfig{StartLevel: 2, MaxLevel: 4, Movement: 0.5, Method: "horizontal"})

	if c.StartLevel != 2 || c.MaxLevel != 4 {
		t.Errorf("Expected explicit levels preserved, got start=%d max=%d", c.StartLevel, c.MaxLevel)
	}
	if c.Movement != 0.5 {
		t.Errorf("Expected Movement 0.5, got %f", c.Movement)
	}
}

func TestSnapshotContainer_SingleFrame(t *testing.T) {
	tmpDir := t.TempDir()
	paths := createTestFrames(t, tmpDir, 1)

	jm := NewJobManager()
	config := JobConfig{Paths: paths, Mode: "average"}
	job := jm.CreateJob(config)

	if err := runJob(context.Background(), jm, nil, job.ID); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.LastError != 0 {
		t.Errorf("Single-frame job should report zero LastError, got %f", updated.LastError)
	}
}
