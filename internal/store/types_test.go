package store

import (
	"encoding/json"
	"testing"
	"time"
)

func sampleConfig() JobConfig {
	return JobConfig{
		Paths:      []string{"a.png", "b.png", "c.png"},
		Mode:       "average",
		StartLevel: 1,
		MaxLevel:   6,
		Movement:   1.0,
		Method:     "free",
	}
}

func samplePositions() []FramePosition {
	return []FramePosition{{0, 0}, {-3, 2}, {-5, 4}}
}

func TestCheckpoint_JSONSerialization(t *testing.T) {
	original := &Checkpoint{
		JobID:      "test-job-123",
		Positions:  samplePositions(),
		FramesDone: 2,
		LastError:  0.0234,
		Timestamp:  time.Date(2025, 10, 23, 10, 30, 0, 0, time.UTC),
		Config:     sampleConfig(),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("failed to marshal checkpoint: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("marshaled JSON is empty")
	}

	var restored Checkpoint
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("failed to unmarshal checkpoint: %v", err)
	}

	if restored.JobID != original.JobID {
		t.Errorf("JobID mismatch: expected %s, got %s", original.JobID, restored.JobID)
	}
	if restored.LastError != original.LastError {
		t.Errorf("LastError mismatch: expected %f, got %f", original.LastError, restored.LastError)
	}
	if restored.FramesDone != original.FramesDone {
		t.Errorf("FramesDone mismatch: expected %d, got %d", original.FramesDone, restored.FramesDone)
	}
	if !restored.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp mismatch: expected %v, got %v", original.Timestamp, restored.Timestamp)
	}
	if len(restored.Positions) != len(original.Positions) {
		t.Fatalf("Positions length mismatch: expected %d, got %d", len(original.Positions), len(restored.Positions))
	}
	for i := range original.Positions {
		if restored.Positions[i] != original.Positions[i] {
			t.Errorf("Positions[%d] mismatch: expected %+v, got %+v", i, original.Positions[i], restored.Positions[i])
		}
	}
	if restored.Config.Mode != original.Config.Mode {
		t.Errorf("Config.Mode mismatch: expected %s, got %s", original.Config.Mode, restored.Config.Mode)
	}
	if len(restored.Config.Paths) != len(original.Config.Paths) {
		t.Errorf("Config.Paths length mismatch: expected %d, got %d", len(original.Config.Paths), len(restored.Config.Paths))
	}
}

func TestCheckpoint_JSONIndented(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:      "test-job",
		Positions:  samplePositions(),
		FramesDone: 1,
		LastError:  0.1,
		Timestamp:  time.Now(),
		Config:     sampleConfig(),
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal with indent: %v", err)
	}

	var restored Checkpoint
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("failed to unmarshal indented JSON: %v", err)
	}
	if restored.JobID != checkpoint.JobID {
		t.Errorf("JobID mismatch after indented serialization")
	}
}

func TestCheckpoint_Validate_Valid(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:      "valid-job",
		Positions:  samplePositions(),
		FramesDone: 2,
		LastError:  0.1,
		Timestamp:  time.Now(),
		Config:     sampleConfig(),
	}

	if err := checkpoint.Validate(); err != nil {
		t.Errorf("valid checkpoint should not have validation error: %v", err)
	}
}

func TestCheckpoint_Validate_EmptyJobID(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:      "",
		Positions:  samplePositions(),
		FramesDone: 1,
		Timestamp:  time.Now(),
		Config:     sampleConfig(),
	}

	err := checkpoint.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty JobID")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("expected ValidationError, got %T", err)
	}
}

func TestCheckpoint_Validate_NilPositions(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:     "test",
		Positions: nil,
		Timestamp: time.Now(),
		Config:    sampleConfig(),
	}

	if err := checkpoint.Validate(); err == nil {
		t.Fatal("expected validation error for nil Positions")
	}
}

func TestCheckpoint_Validate_EmptyPositions(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:     "test",
		Positions: []FramePosition{},
		Timestamp: time.Now(),
		Config:    sampleConfig(),
	}

	if err := checkpoint.Validate(); err == nil {
		t.Fatal("expected validation error for empty Positions")
	}
}

func TestCheckpoint_Validate_PositionsLengthMismatch(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:      "test",
		Positions:  []FramePosition{{0, 0}, {1, 1}}, // config has 3 paths
		FramesDone: 1,
		Timestamp:  time.Now(),
		Config:     sampleConfig(),
	}

	if err := checkpoint.Validate(); err == nil {
		t.Fatal("expected validation error for positions/paths length mismatch")
	}
}

func TestCheckpoint_Validate_NegativeValues(t *testing.T) {
	testCases := []struct {
		name       string
		lastError  float64
		framesDone int
	}{
		{"negative last error", -0.1, 1},
		{"negative frames done", 0.1, -10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkpoint := &Checkpoint{
				JobID:      "test",
				Positions:  samplePositions(),
				FramesDone: tc.framesDone,
				LastError:  tc.lastError,
				Timestamp:  time.Now(),
				Config:     sampleConfig(),
			}

			if err := checkpoint.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestCheckpoint_Validate_FramesDoneExceedsPositions(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:      "test",
		Positions:  samplePositions(),
		FramesDone: 99,
		Timestamp:  time.Now(),
		Config:     sampleConfig(),
	}

	if err := checkpoint.Validate(); err == nil {
		t.Fatal("expected validation error for FramesDone exceeding len(Positions)")
	}
}

func TestCheckpoint_Validate_ZeroTimestamp(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:     "test",
		Positions: samplePositions(),
		Timestamp: time.Time{},
		Config:    sampleConfig(),
	}

	if err := checkpoint.Validate(); err == nil {
		t.Fatal("expected validation error for zero timestamp")
	}
}

func TestCheckpoint_Validate_InvalidConfig(t *testing.T) {
	testCases := []struct {
		name   string
		config JobConfig
	}{
		{"empty paths", JobConfig{Paths: nil, Mode: "average", MaxLevel: 6}},
		{"empty mode", JobConfig{Paths: []string{"a.png"}, Mode: "", MaxLevel: 6}},
		{"zero max level", JobConfig{Paths: []string{"a.png"}, Mode: "average", MaxLevel: 0}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			checkpoint := &Checkpoint{
				JobID:     "test",
				Positions: []FramePosition{{0, 0}},
				Timestamp: time.Now(),
				Config:    tc.config,
			}

			if err := checkpoint.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestCheckpoint_IsCompatible_Compatible(t *testing.T) {
	checkpoint := &Checkpoint{Config: sampleConfig()}
	if err := checkpoint.IsCompatible(sampleConfig()); err != nil {
		t.Errorf("compatible configs should not return error: %v", err)
	}
}

func TestCheckpoint_IsCompatible_DifferentPaths(t *testing.T) {
	checkpoint := &Checkpoint{Config: sampleConfig()}
	other := sampleConfig()
	other.Paths = []string{"x.png", "y.png", "z.png"}

	err := checkpoint.IsCompatible(other)
	if err == nil {
		t.Fatal("expected compatibility error for different Paths")
	}
	if _, ok := err.(*CompatibilityError); !ok {
		t.Errorf("expected CompatibilityError, got %T", err)
	}
}

func TestCheckpoint_IsCompatible_DifferentMode(t *testing.T) {
	checkpoint := &Checkpoint{Config: sampleConfig()}
	other := sampleConfig()
	other.Mode = "animation"

	if err := checkpoint.IsCompatible(other); err == nil {
		t.Fatal("expected compatibility error for different Mode")
	}
}

func TestCheckpointInfo_FromCheckpoint(t *testing.T) {
	checkpoint := &Checkpoint{
		JobID:      "test-job",
		LastError:  0.123,
		FramesDone: 2,
		Timestamp:  time.Now(),
		Config:     sampleConfig(),
	}

	info := checkpoint.ToInfo()

	if info.JobID != checkpoint.JobID {
		t.Errorf("JobID mismatch: expected %s, got %s", checkpoint.JobID, info.JobID)
	}
	if info.LastError != checkpoint.LastError {
		t.Errorf("LastError mismatch: expected %f, got %f", checkpoint.LastError, info.LastError)
	}
	if info.FramesDone != checkpoint.FramesDone {
		t.Errorf("FramesDone mismatch: expected %d, got %d", checkpoint.FramesDone, info.FramesDone)
	}
	if !info.Timestamp.Equal(checkpoint.Timestamp) {
		t.Errorf("Timestamp mismatch")
	}
	if info.Mode != checkpoint.Config.Mode {
		t.Errorf("Mode mismatch: expected %s, got %s", checkpoint.Config.Mode, info.Mode)
	}
	if info.FrameCount != len(checkpoint.Config.Paths) {
		t.Errorf("FrameCount mismatch: expected %d, got %d", len(checkpoint.Config.Paths), info.FrameCount)
	}
}

func TestNewCheckpoint(t *testing.T) {
	jobID := "test-job"
	positions := samplePositions()
	phases := []int{0, 0, 1}
	lastError := 0.123
	framesDone := 3
	config := sampleConfig()

	checkpoint := NewCheckpoint(jobID, positions, phases, lastError, framesDone, config)

	if checkpoint.JobID != jobID {
		t.Errorf("JobID mismatch: expected %s, got %s", jobID, checkpoint.JobID)
	}
	if checkpoint.LastError != lastError {
		t.Errorf("LastError mismatch: expected %f, got %f", lastError, checkpoint.LastError)
	}
	if checkpoint.FramesDone != framesDone {
		t.Errorf("FramesDone mismatch: expected %d, got %d", framesDone, checkpoint.FramesDone)
	}
	if checkpoint.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if len(checkpoint.Positions) != len(positions) {
		t.Errorf("Positions length mismatch")
	}
	if len(checkpoint.Phases) != len(phases) {
		t.Errorf("Phases length mismatch")
	}
}
