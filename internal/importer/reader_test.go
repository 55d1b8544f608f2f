package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMeta = `# {"title":"Cave Tour","id":"abc123","width":1920,"height":1080,"fps":30,` +
	`"channel":"Spelunker","channel_handle":"@spelunker","duration":613.4,` +
	`"model":"/models/mobs-v3.pt","conf":0.6,"iou":0.5}`

func sampleFile(rows ...string) string {
	lines := []string{
		"# produced by analyze-video",
		sampleMeta,
		"time;class;confidence;x;y;w;h",
	}
	lines = append(lines, rows...)
	return strings.Join(lines, "\n") + "\n"
}

func TestScanPreamble(t *testing.T) {
	content := sampleFile(
		"0.5;creeper;0.91;0.1;0.2;0.05;0.1",
		"1.0;zombie;0.85;0.4;0.3;0.07;0.2",
		"1.5;creeper;0.77;0.11;0.21;0.05;0.1",
	)

	pre, err := scanPreamble(strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, "abc123", pre.Meta.ExternalID)
	assert.Equal(t, "Cave Tour", pre.Meta.Title)
	assert.Equal(t, "@spelunker", pre.Meta.Handle())
	assert.Equal(t, "/models/mobs-v3.pt", pre.Meta.Model)
	assert.InDelta(t, 613.4, pre.Meta.Duration, 1e-9)
	assert.InDelta(t, 16.0/9.0, pre.Meta.AspectRatio(), 1e-9)
	assert.Equal(t, int64(3), pre.RowCount)
}

func TestScanPreamble_MissingMetadataIsFatal(t *testing.T) {
	content := "time;class;confidence;x;y;w;h\n0.5;creeper;0.9;0;0;1;1\n"
	_, err := scanPreamble(strings.NewReader(content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no metadata comment")
}

func TestScanPreamble_MissingRequiredFieldIsFatal(t *testing.T) {
	content := sampleMeta + "\ntime;class;x;y;w;h\n"
	_, err := scanPreamble(strings.NewReader(content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required field "confidence"`)
}

func TestMetadata_HandleFallsBackToChannelID(t *testing.T) {
	m := Metadata{Channel: "Spelunker", ChannelID: "UCdeadbeef"}
	assert.Equal(t, "UCdeadbeef", m.Handle())

	m.ChannelHandle = "@spelunker"
	assert.Equal(t, "@spelunker", m.Handle())
}

func TestParseRow(t *testing.T) {
	schema, err := parseHeader("time;class;confidence;x;y;w;h")
	require.NoError(t, err)

	t.Run("semicolon separated", func(t *testing.T) {
		r, err := schema.parseRow("1.25;creeper;0.91;0.1;0.2;0.05;0.12")
		require.NoError(t, err)
		assert.Equal(t, "creeper", r.Class)
		assert.InDelta(t, 1.25, r.Time, 1e-9)
		assert.InDelta(t, 0.91, r.Confidence, 1e-9)
		assert.InDelta(t, 0.12, r.H, 1e-9)
	})

	t.Run("comma separated", func(t *testing.T) {
		r, err := schema.parseRow("2.0,zombie,0.8,0.3,0.4,0.1,0.2")
		require.NoError(t, err)
		assert.Equal(t, "zombie", r.Class)
		assert.InDelta(t, 2.0, r.Time, 1e-9)
	})

	t.Run("non-numeric confidence", func(t *testing.T) {
		_, err := schema.parseRow("1.0;creeper;high;0;0;1;1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"confidence"`)
	})

	t.Run("truncated row", func(t *testing.T) {
		_, err := schema.parseRow("1.0;creeper;0.9")
		require.Error(t, err)
	})

	t.Run("empty class", func(t *testing.T) {
		_, err := schema.parseRow("1.0;;0.9;0;0;1;1")
		require.Error(t, err)
	})
}

func TestParseHeader_ExtraColumnsAreAllowed(t *testing.T) {
	schema, err := parseHeader("time,class,confidence,x,y,w,h,frame")
	require.NoError(t, err)
	r, err := schema.parseRow("0.5,skeleton,0.7,0.1,0.1,0.2,0.2,15")
	require.NoError(t, err)
	assert.Equal(t, "skeleton", r.Class)
}
