package store

import (
	"fmt"
	"time"
)

// JobConfig holds the configuration for an alignment job (checkpoint copy).
// This avoids import cycles with the server package.
type JobConfig struct {
	Paths              []string `json:"paths"`
	Mode               string   `json:"mode"` // average, animation
	StartLevel         int      `json:"startLevel"`
	MaxLevel           int      `json:"maxLevel"`
	Movement           float64  `json:"movement"`
	Method             string   `json:"method"` // free, horizontal, vertical
	ThresholdFactor    float64  `json:"thresholdFactor,omitempty"`
	CheckpointInterval int      `json:"checkpointInterval,omitempty"` // checkpoint every N seconds (0 = disabled)
}

// FramePosition is the persisted form of align.Offset, kept independent of
// the align package to avoid tying the checkpoint format to it.
type FramePosition struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Checkpoint represents a saved alignment run that can be resumed later.
// All fields are serialized to JSON for persistence.
//
// State handling:
//
// The checkpoint saves the POSITIONS AND PHASES assigned so far, not any
// internal search state (diff caches, in-flight candidates).
//
// RESUME: both resume paths (the CLI's local resume and the server's resume
// endpoint) run the aligner over the whole frame list again from frame 0.
// The saved Positions/Phases do not let a resumed run skip frames
// [0, FramesDone); the new run recomputes and replaces them.
type Checkpoint struct {
	// JobID is the unique identifier for this alignment job.
	JobID string `json:"jobId"`

	// Positions holds the accepted offset for each frame placed so far,
	// indexed the same as the job's frame list.
	Positions []FramePosition `json:"positions"`

	// Phases holds the animation-phase tag for each frame; outside
	// Mode == "animation" every entry is 0.
	Phases []int `json:"phases,omitempty"`

	// FramesDone is the number of frames placed so far.
	FramesDone int `json:"framesDone"`

	// LastError is the diff value from comparing the last two frames of the
	// job's frame list (0 for a single-frame job).
	LastError float64 `json:"lastError"`

	// Timestamp records when this checkpoint was created.
	Timestamp time.Time `json:"timestamp"`

	// Config holds the job configuration, needed for validation on resume.
	Config JobConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the full
// position/phase data. Used for listing checkpoints efficiently.
type CheckpointInfo struct {
	JobID      string    `json:"jobId"`
	LastError  float64   `json:"lastError"`
	FramesDone int       `json:"framesDone"`
	Timestamp  time.Time `json:"timestamp"`
	Mode       string    `json:"mode"`
	FrameCount int       `json:"frameCount"`
}

// NewCheckpoint creates a checkpoint from job state.
func NewCheckpoint(jobID string, positions []FramePosition, phases []int, lastError float64, framesDone int, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:      jobID,
		Positions:  positions,
		Phases:     phases,
		FramesDone: framesDone,
		LastError:  lastError,
		Timestamp:  time.Now(),
		Config:     config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:      c.JobID,
		LastError:  c.LastError,
		FramesDone: c.FramesDone,
		Timestamp:  c.Timestamp,
		Mode:       c.Config.Mode,
		FrameCount: len(c.Config.Paths),
	}
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if c.Positions == nil {
		return &ValidationError{Field: "Positions", Reason: "cannot be nil"}
	}
	if len(c.Positions) == 0 {
		return &ValidationError{Field: "Positions", Reason: "cannot be empty"}
	}
	if c.FramesDone < 0 {
		return &ValidationError{Field: "FramesDone", Reason: "cannot be negative"}
	}
	if c.FramesDone > len(c.Positions) {
		return &ValidationError{Field: "FramesDone", Reason: "cannot exceed len(Positions)"}
	}
	if c.LastError < 0 {
		return &ValidationError{Field: "LastError", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if len(c.Config.Paths) == 0 {
		return &ValidationError{Field: "Config.Paths", Reason: "cannot be empty"}
	}
	if c.Config.Mode == "" {
		return &ValidationError{Field: "Config.Mode", Reason: "cannot be empty"}
	}
	if c.Config.MaxLevel <= 0 {
		return &ValidationError{Field: "Config.MaxLevel", Reason: "must be positive"}
	}
	if len(c.Positions) != len(c.Config.Paths) {
		return &ValidationError{
			Field:  "Positions",
			Reason: fmt.Sprintf("length mismatch: expected %d entries for %d frames", len(c.Config.Paths), len(c.Positions)),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given
// config. Returns an error if the configs are incompatible.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if len(c.Config.Paths) != len(config.Paths) {
		return &CompatibilityError{
			Field:    "Paths",
			Expected: fmt.Sprintf("%d frames", len(c.Config.Paths)),
			Actual:   fmt.Sprintf("%d frames", len(config.Paths)),
		}
	}
	for i := range c.Config.Paths {
		if c.Config.Paths[i] != config.Paths[i] {
			return &CompatibilityError{
				Field:    fmt.Sprintf("Paths[%d]", i),
				Expected: c.Config.Paths[i],
				Actual:   config.Paths[i],
			}
		}
	}
	if c.Config.Mode != config.Mode {
		return &CompatibilityError{
			Field:    "Mode",
			Expected: c.Config.Mode,
			Actual:   config.Mode,
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
