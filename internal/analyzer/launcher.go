// Package analyzer launches and supervises the external analysis process.
// The analyzer itself is opaque: it is invoked by a command-line contract
// (video URL, model artifact path, output file path) and reports progress
// as JSON lines on stdout, diagnostics on stderr, and success as exit 0.
package analyzer

import (
	"context"
	"fmt"
	"io"
	"strconv"
)

type Spec struct {
	VideoURL   string
	ModelPath  string
	OutputPath string
	Confidence float64
	IOU        float64
	ImageSize  int
}

// Args renders the spec into the analyzer's command-line contract.
func (s Spec) Args() []string {
	return []string{
		s.VideoURL,
		"-m", s.ModelPath,
		"-o", s.OutputPath,
		"--json",
		"--conf", strconv.FormatFloat(s.Confidence, 'f', -1, 64),
		"--iou", strconv.FormatFloat(s.IOU, 'f', -1, 64),
		"--imgsz", strconv.Itoa(s.ImageSize),
	}
}

// ExitStatus describes how a process ended. Err is set for failures that
// precede or replace a real exit code (stream errors, wait errors); Signal
// is the terminating signal name when the process was killed.
type ExitStatus struct {
	Code   int
	Signal string
	Err    error
}

func (e ExitStatus) Success() bool {
	return e.Err == nil && e.Code == 0 && e.Signal == ""
}

func (e ExitStatus) String() string {
	if e.Err != nil {
		return fmt.Sprintf("error=%v", e.Err)
	}
	if e.Signal != "" {
		return fmt.Sprintf("code=%d signal=%s", e.Code, e.Signal)
	}
	return fmt.Sprintf("code=%d", e.Code)
}

// Process is a live analysis run. Stdout and Stderr must be drained before
// Wait returns a meaningful status. Terminate may race with natural exit;
// signalling an already-exited process is a harmless no-op.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() ExitStatus
	// Terminate asks the process to stop and reports whether a signal
	// was actually sent.
	Terminate() bool
}

type Launcher interface {
	Start(ctx context.Context, spec Spec) (Process, error)
}
