package importer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The analyzer's output file is line-oriented: comment lines start with
// commentMarker, exactly one comment carries a JSON metadata block, the
// first non-comment line is the delimiter-separated header, and every
// following non-comment line is a data row.
const commentMarker = "#"

// requiredFields must all appear in the header or the file is rejected
// before any row is parsed.
var requiredFields = []string{"time", "class", "confidence", "x", "y", "w", "h"}

// Metadata is the structured block the analyzer embeds in a comment line:
// the video's descriptive attributes plus the run's parameters.
type Metadata struct {
	Title         string  `json:"title"`
	ExternalID    string  `json:"id"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	FPS           float64 `json:"fps"`
	Channel       string  `json:"channel"`
	ChannelHandle string  `json:"channel_handle"`
	ChannelID     string  `json:"channel_id"`
	Duration      float64 `json:"duration"`
	Model         string  `json:"model"`
	Confidence    float64 `json:"conf"`
	IOU           float64 `json:"iou"`
}

// Handle returns the channel's natural key, falling back to the opaque
// channel id when no handle was captured.
func (m Metadata) Handle() string {
	if m.ChannelHandle != "" {
		return m.ChannelHandle
	}
	return m.ChannelID
}

func (m Metadata) AspectRatio() float64 {
	if m.Height == 0 {
		return 0
	}
	return float64(m.Width) / float64(m.Height)
}

// rowSchema maps the required field names to their column positions,
// validated once per file.
type rowSchema struct {
	index map[string]int
	width int
}

func parseHeader(line string) (rowSchema, error) {
	fields := splitFields(line)
	schema := rowSchema{index: make(map[string]int, len(fields)), width: len(fields)}
	for i, name := range fields {
		schema.index[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredFields {
		if _, ok := schema.index[name]; !ok {
			return rowSchema{}, fmt.Errorf("header is missing required field %q", name)
		}
	}
	return schema, nil
}

type row struct {
	Time       float64
	Class      string
	Confidence float64
	X, Y, W, H float64
}

func (s rowSchema) parseRow(line string) (row, error) {
	fields := splitFields(line)
	if len(fields) < s.width {
		return row{}, fmt.Errorf("row has %d fields, header has %d", len(fields), s.width)
	}

	var (
		r   row
		err error
	)
	r.Class = strings.TrimSpace(fields[s.index["class"]])
	if r.Class == "" {
		return row{}, fmt.Errorf("row has an empty class name")
	}
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"time", &r.Time},
		{"confidence", &r.Confidence},
		{"x", &r.X},
		{"y", &r.Y},
		{"w", &r.W},
		{"h", &r.H},
	} {
		*f.dst, err = strconv.ParseFloat(strings.TrimSpace(fields[s.index[f.name]]), 64)
		if err != nil {
			return row{}, fmt.Errorf("field %q: %w", f.name, err)
		}
	}
	return r, nil
}

// The analyzer emits either comma- or semicolon-separated values.
func splitFields(line string) []string {
	return strings.Split(strings.ReplaceAll(line, ",", ";"), ";")
}

// filePreamble is the result of the first pass over the file: the metadata
// block, the validated header, and an exact count of data rows used for
// percentage reporting during ingestion.
type filePreamble struct {
	Meta     Metadata
	Schema   rowSchema
	RowCount int64
}

// scanPreamble reads the whole stream once. Missing metadata or an invalid
// header makes the entire file unusable.
func scanPreamble(r io.Reader) (filePreamble, error) {
	var (
		pre       filePreamble
		sawMeta   bool
		sawHeader bool
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, commentMarker) {
			body := strings.TrimSpace(strings.TrimPrefix(line, commentMarker))
			if !sawMeta && strings.HasPrefix(body, "{") {
				if err := json.Unmarshal([]byte(body), &pre.Meta); err != nil {
					return pre, fmt.Errorf("metadata comment: %w", err)
				}
				sawMeta = true
			}
			continue
		}
		if !sawHeader {
			schema, err := parseHeader(line)
			if err != nil {
				return pre, err
			}
			pre.Schema = schema
			sawHeader = true
			continue
		}
		pre.RowCount++
	}
	if err := scanner.Err(); err != nil {
		return pre, err
	}

	if !sawMeta {
		return pre, fmt.Errorf("file has no metadata comment")
	}
	if !sawHeader {
		return pre, fmt.Errorf("file has no header line")
	}
	if pre.Meta.ExternalID == "" {
		return pre, fmt.Errorf("metadata has no video id")
	}
	return pre, nil
}

const maxLineSize = 1024 * 1024
