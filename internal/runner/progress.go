package runner

import (
	"encoding/json"
	"strings"

	"github.com/mvirta/mobwatch/internal/models"
)

// parseProgress decodes one analyzer stdout line. The result is a sum of
// three cases: a progress record, a plain log line that belongs in the job
// log verbatim, or nothing (blank line).
func parseProgress(line string) (*models.Progress, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, true
	}

	// Pointer fields distinguish "absent" from zero, so JSON that merely
	// parses (`null`, `{}`) cannot clobber a real snapshot with zeros.
	var raw struct {
		CurrentFrame *int64              `json:"currentFrame"`
		TotalFrames  *int64              `json:"totalFrames"`
		Rate         models.ProgressRate `json:"rate"`
	}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		// Stray diagnostic text on the primary stream; not an error.
		return nil, false
	}
	if raw.CurrentFrame == nil || raw.TotalFrames == nil {
		return nil, false
	}
	return &models.Progress{
		CurrentFrame: *raw.CurrentFrame,
		TotalFrames:  *raw.TotalFrames,
		Rate:         raw.Rate,
	}, true
}
