package repository

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detectionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"detection_id", "video_id", "entity_id", "model_id",
		"time", "confidence", "bbox", "entity_name",
	}).AddRow(1, 10, 3, 5, 12.5, 0.91, "{0.1,0.2,0.05,0.1}", "creeper")
}

// The model lookup matches the name column, or the artifact path for
// models that were auto-registered without a name.
const modelLookup = `m\.model_name = \$2 OR \(m\.model_name IS NULL AND m\.model_path = \$2\)`

func TestDetectionQuery_MatchesUnnamedModelByPath(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(modelLookup).
		WithArgs("abc123", "/models/mobs-v3.pt", 0.65).
		WillReturnRows(detectionRows())

	got, err := NewDetectionRepository(db).Query("abc123", "/models/mobs-v3.pt", DetectionFilter{Confidence: 0.65})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "creeper", got[0].EntityName)
	assert.Equal(t, [4]float64{0.1, 0.2, 0.05, 0.1}, got[0].BBox)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDetectionQuery_AppliesFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`d\.time >= \$4 AND d\.time <= \$5 AND e\.entity_name = ANY\(\$6\)`).
		WithArgs("abc123", "mobs-v3", 0.8, 10.0, 20.0, pq.Array([]string{"creeper", "zombie"})).
		WillReturnRows(detectionRows())

	filter := DetectionFilter{
		EntityNames: []string{"creeper", "zombie"},
		Confidence:  0.8,
		TimeStart:   10,
		TimeEnd:     20,
	}
	got, err := NewDetectionRepository(db).Query("abc123", "mobs-v3", filter)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
