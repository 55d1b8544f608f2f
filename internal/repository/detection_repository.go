package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mvirta/mobwatch/internal/models"
)

// DetectionFilter narrows a detection query. Zero values mean "no bound"
// except Confidence, which callers should seed with the configured default.
type DetectionFilter struct {
	EntityNames []string
	Confidence  float64
	TimeStart   float64
	TimeEnd     float64
}

type DetectionRepository interface {
	// InsertBatch appends one batch of detections inside the given
	// transaction. Rows are never updated, only appended.
	InsertBatch(tx *sql.Tx, rows []models.Detection) error
	// DeleteForVideoModel clears prior detections of a (video, model)
	// pair so a re-import replaces instead of duplicating.
	DeleteForVideoModel(tx *sql.Tx, videoID, modelID int64) (int64, error)
	// Query looks the model up by name, falling back to the artifact
	// path for models that were auto-registered without one.
	Query(videoExtID, modelName string, filter DetectionFilter) ([]models.Detection, error)
}

type detectionRepository struct {
	db *sql.DB
}

func NewDetectionRepository(db *sql.DB) DetectionRepository {
	return &detectionRepository{db: db}
}

func (r *detectionRepository) InsertBatch(tx *sql.Tx, rows []models.Detection) error {
	if len(rows) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]interface{}, 0, len(rows)*6)
	)
	sb.WriteString(`INSERT INTO detections (video_id, entity_id, model_id, time, confidence, bbox) VALUES `)
	for i, d := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, d.VideoID, d.EntityID, d.ModelID, d.Time, d.Confidence, pq.Array(d.BBox[:]))
	}

	if _, err := tx.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("insert detection batch of %d: %w", len(rows), err)
	}
	return nil
}

func (r *detectionRepository) DeleteForVideoModel(tx *sql.Tx, videoID, modelID int64) (int64, error) {
	res, err := tx.Exec(`DELETE FROM detections WHERE video_id = $1 AND model_id = $2`, videoID, modelID)
	if err != nil {
		return 0, fmt.Errorf("delete detections for video %d model %d: %w", videoID, modelID, err)
	}
	return res.RowsAffected()
}

func (r *detectionRepository) Query(videoExtID, modelName string, filter DetectionFilter) ([]models.Detection, error) {
	query := `
		SELECT d.detection_id, d.video_id, d.entity_id, d.model_id,
		       d.time, d.confidence, d.bbox, e.entity_name
		FROM detections d
		INNER JOIN videos v ON d.video_id = v.video_id
		INNER JOIN models m ON d.model_id = m.model_id
		INNER JOIN entities e ON d.entity_id = e.entity_id
		WHERE v.video_ext_id = $1
		  AND (m.model_name = $2 OR (m.model_name IS NULL AND m.model_path = $2))
		  AND d.confidence >= $3
	`
	args := []interface{}{videoExtID, modelName, filter.Confidence}

	if filter.TimeStart > 0 {
		args = append(args, filter.TimeStart)
		query += fmt.Sprintf(" AND d.time >= $%d", len(args))
	}
	if filter.TimeEnd > 0 {
		args = append(args, filter.TimeEnd)
		query += fmt.Sprintf(" AND d.time <= $%d", len(args))
	}
	if len(filter.EntityNames) > 0 {
		args = append(args, pq.Array(filter.EntityNames))
		query += fmt.Sprintf(" AND e.entity_name = ANY($%d)", len(args))
	}
	query += " ORDER BY d.time"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	detections := []models.Detection{}
	for rows.Next() {
		var d models.Detection
		var bbox []float64
		if err := rows.Scan(
			&d.ID,
			&d.VideoID,
			&d.EntityID,
			&d.ModelID,
			&d.Time,
			&d.Confidence,
			pq.Array(&bbox),
			&d.EntityName,
		); err != nil {
			return nil, err
		}
		copy(d.BBox[:], bbox)
		detections = append(detections, d)
	}
	return detections, rows.Err()
}
