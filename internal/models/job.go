package models

import (
	"time"
)

type JobStatus string

const (
	JobWaiting   JobStatus = "waiting"
	JobActive    JobStatus = "active"
	JobImporting JobStatus = "importing"
	JobFinished  JobStatus = "finished"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job in this status will never change again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobFinished, JobFailed, JobCancelled:
		return true
	}
	return false
}

// ProgressRate carries the analyzer's frame-rate estimates: the rate over
// the most recent window and the cumulative average for the whole run.
type ProgressRate struct {
	Last    float64 `json:"last"`
	Average float64 `json:"average"`
}

// Progress is one self-contained progress record emitted by the analyzer,
// one JSON object per stdout line.
type Progress struct {
	CurrentFrame int64        `json:"currentFrame"`
	TotalFrames  int64        `json:"totalFrames"`
	Rate         ProgressRate `json:"rate"`
}

type Job struct {
	ID          int        `json:"id"`
	VideoURL    string     `json:"video_url"`
	ModelID     int64      `json:"model_id"`
	Status      JobStatus  `json:"status"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	// ResultPath points at the analyzer's output file. Set only after a
	// successful analysis phase.
	ResultPath string    `json:"result_path,omitempty"`
	Progress   *Progress `json:"progress"`
	Logs       []byte    `json:"-"`
}
