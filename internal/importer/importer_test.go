package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDetectionFile(t *testing.T, rows ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detections.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile(rows...)), 0o644))
	return path
}

// expectReferences covers the reference-resolution transaction and the
// entity cache snapshot.
func expectReferences(mock sqlmock.Sqlmock, seedEntities map[string]int64) {
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO channels").
		WithArgs("@spelunker", "Spelunker").
		WillReturnRows(sqlmock.NewRows([]string{"channel_id"}).AddRow(3))
	mock.ExpectQuery("INSERT INTO videos").
		WillReturnRows(sqlmock.NewRows([]string{"video_id"}).AddRow(10))
	mock.ExpectExec("INSERT INTO models").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT model_id, model_path, model_name FROM models").
		WillReturnRows(sqlmock.NewRows([]string{"model_id", "model_path", "model_name"}).
			AddRow(5, "/models/mobs-v3.pt", nil))
	mock.ExpectCommit()

	entityRows := sqlmock.NewRows([]string{"entity_id", "entity_name"})
	for name, id := range seedEntities {
		entityRows.AddRow(id, name)
	}
	mock.ExpectQuery("SELECT entity_id, entity_name FROM entities").
		WillReturnRows(entityRows)
}

func TestImporter_BatchFlushCount(t *testing.T) {
	// 10 rows with batch size 4: expect flushes of 4, 4 and 2, and one
	// entity-creation event per distinct class regardless of row order.
	classes := []string{"creeper", "zombie", "skeleton"}
	rows := make([]string, 10)
	for i := range rows {
		rows[i] = fmt.Sprintf("%0.1f;%s;0.9;0.1;0.1;0.2;0.2", float64(i)*0.5, classes[i%3])
	}
	path := writeDetectionFile(t, rows...)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectReferences(mock, nil)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM detections").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// First three rows introduce the three classes, each created once.
	for i, name := range classes {
		mock.ExpectExec("INSERT INTO entities").
			WithArgs(name).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT entity_id FROM entities").
			WithArgs(name).
			WillReturnRows(sqlmock.NewRows([]string{"entity_id"}).AddRow(100 + i))
	}
	for _, size := range []int64{4, 4, 2} {
		mock.ExpectExec("INSERT INTO detections").
			WillReturnResult(sqlmock.NewResult(0, size))
	}
	mock.ExpectCommit()

	summary, err := New(db, 4, zerolog.Nop()).Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, int64(10), summary.Rows)
	assert.Equal(t, 3, summary.Flushes)
	assert.Equal(t, 3, summary.EntitiesCreated)
	assert.Equal(t, int64(10), summary.VideoID)
	assert.Equal(t, int64(5), summary.ModelID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImporter_CachedEntitiesAreNotRecreated(t *testing.T) {
	path := writeDetectionFile(t,
		"0.5;creeper;0.91;0.1;0.2;0.05;0.1",
		"1.0;creeper;0.85;0.4;0.3;0.07;0.2",
	)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectReferences(mock, map[string]int64{"creeper": 1})

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM detections").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO detections").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	summary, err := New(db, 4096, zerolog.Nop()).Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.Rows)
	assert.Equal(t, 1, summary.Flushes)
	assert.Zero(t, summary.EntitiesCreated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImporter_ReimportReplacesPriorRun(t *testing.T) {
	path := writeDetectionFile(t, "0.5;creeper;0.91;0.1;0.2;0.05;0.1")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectReferences(mock, map[string]int64{"creeper": 1})

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM detections").
		WillReturnResult(sqlmock.NewResult(0, 250))
	mock.ExpectExec("INSERT INTO detections").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	summary, err := New(db, 4096, zerolog.Nop()).Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(250), summary.RowsReplaced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImporter_MalformedRowAbortsRun(t *testing.T) {
	path := writeDetectionFile(t, "0.5;creeper;not-a-number;0.1;0.2;0.05;0.1")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expectReferences(mock, map[string]int64{"creeper": 1})
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM detections").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = New(db, 4096, zerolog.Nop()).Run(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data row 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImporter_FileWithoutMetadataFailsBeforeAnySQL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detections.csv")
	content := "time;class;confidence;x;y;w;h\n0.5;creeper;0.9;0;0;1;1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db, 4096, zerolog.Nop()).Run(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no metadata comment")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImporter_NoChannelHandleSkipsChannelUpsert(t *testing.T) {
	meta := `# {"title":"T","id":"vid9","width":1280,"height":720,"fps":30,` +
		`"duration":10,"model":"/models/m.pt"}`
	content := strings.Join([]string{
		meta,
		"time;class;confidence;x;y;w;h",
		"0.5;creeper;0.9;0;0;1;1",
	}, "\n") + "\n"
	path := filepath.Join(t.TempDir(), "detections.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO videos").
		WillReturnRows(sqlmock.NewRows([]string{"video_id"}).AddRow(11))
	mock.ExpectExec("INSERT INTO models").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT model_id, model_path, model_name FROM models").
		WillReturnRows(sqlmock.NewRows([]string{"model_id", "model_path", "model_name"}).
			AddRow(2, "/models/m.pt", nil))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT entity_id, entity_name FROM entities").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "entity_name"}).AddRow(1, "creeper"))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM detections").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO detections").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	summary, err := New(db, 4096, zerolog.Nop()).Run(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(11), summary.VideoID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
