package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mvirta/mobwatch/internal/models"
)

var ErrNotFound = errors.New("not found")

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// catalog lookups and upserts can run either standalone or inside the
// importer's reference-resolution transaction.
type Querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

type CatalogRepository interface {
	UpsertChannel(handle, name string) (int64, error)
	UpsertVideo(video models.Video) (int64, error)
	// UpsertModel is create-only: an existing row keeps its name.
	UpsertModel(path string, name *string) (models.Model, error)
	GetModel(id int64) (models.Model, error)
	ListModels() ([]models.Model, error)

	EntityMap() (map[string]int64, error)
	EnsureEntity(name string) (int64, error)
	ListEntities() ([]models.Entity, error)

	ListVideos() ([]models.Video, error)
	GetVideo(extID string) (models.Video, error)
}

type catalogRepository struct {
	q Querier
}

func NewCatalogRepository(q Querier) CatalogRepository {
	return &catalogRepository{q: q}
}

func (r *catalogRepository) UpsertChannel(handle, name string) (int64, error) {
	query := `
		INSERT INTO channels (channel_handle, channel_name)
		VALUES ($1, $2)
		ON CONFLICT (channel_handle) DO UPDATE SET channel_name = EXCLUDED.channel_name
		RETURNING channel_id
	`
	var id int64
	if err := r.q.QueryRow(query, handle, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert channel %q: %w", handle, err)
	}
	return id, nil
}

func (r *catalogRepository) UpsertVideo(video models.Video) (int64, error) {
	query := `
		INSERT INTO videos (video_ext_id, video_title, duration, aspect_ratio, channel_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (video_ext_id) DO UPDATE
		SET video_title  = EXCLUDED.video_title,
		    duration     = EXCLUDED.duration,
		    aspect_ratio = EXCLUDED.aspect_ratio,
		    channel_id   = EXCLUDED.channel_id
		RETURNING video_id
	`
	var id int64
	err := r.q.QueryRow(query,
		video.ExternalID,
		video.Title,
		video.Duration,
		video.AspectRatio,
		video.ChannelID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert video %q: %w", video.ExternalID, err)
	}
	return id, nil
}

func (r *catalogRepository) UpsertModel(path string, name *string) (models.Model, error) {
	insert := `
		INSERT INTO models (model_path, model_name)
		VALUES ($1, $2)
		ON CONFLICT (model_path) DO NOTHING
	`
	if _, err := r.q.Exec(insert, path, name); err != nil {
		return models.Model{}, fmt.Errorf("insert model %q: %w", path, err)
	}

	// DO NOTHING returns no row on conflict, so always re-read.
	var model models.Model
	query := `SELECT model_id, model_path, model_name FROM models WHERE model_path = $1`
	if err := r.q.QueryRow(query, path).Scan(&model.ID, &model.Path, &model.Name); err != nil {
		return models.Model{}, fmt.Errorf("select model %q: %w", path, err)
	}
	return model, nil
}

func (r *catalogRepository) GetModel(id int64) (models.Model, error) {
	var model models.Model
	query := `SELECT model_id, model_path, model_name FROM models WHERE model_id = $1`
	err := r.q.QueryRow(query, id).Scan(&model.ID, &model.Path, &model.Name)
	if err == sql.ErrNoRows {
		return model, ErrNotFound
	}
	return model, err
}

func (r *catalogRepository) ListModels() ([]models.Model, error) {
	rows, err := r.q.Query(`SELECT model_id, model_path, model_name FROM models ORDER BY model_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Model{}
	for rows.Next() {
		var m models.Model
		if err := rows.Scan(&m.ID, &m.Path, &m.Name); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (r *catalogRepository) EntityMap() (map[string]int64, error) {
	rows, err := r.q.Query(`SELECT entity_id, entity_name FROM entities`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mapping := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		mapping[name] = id
	}
	return mapping, rows.Err()
}

// EnsureEntity creates the entity if it does not exist yet and returns its
// id. A conflict with a concurrent insert of the same name is treated as
// "someone else created it" and resolved by re-reading.
func (r *catalogRepository) EnsureEntity(name string) (int64, error) {
	insert := `INSERT INTO entities (entity_name) VALUES ($1) ON CONFLICT (entity_name) DO NOTHING`
	if _, err := r.q.Exec(insert, name); err != nil {
		return 0, fmt.Errorf("insert entity %q: %w", name, err)
	}

	var id int64
	query := `SELECT entity_id FROM entities WHERE entity_name = $1`
	if err := r.q.QueryRow(query, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("select entity %q after insert: %w", name, err)
	}
	return id, nil
}

func (r *catalogRepository) ListEntities() ([]models.Entity, error) {
	rows, err := r.q.Query(`SELECT entity_id, entity_name, entity_color FROM entities ORDER BY entity_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Entity{}
	for rows.Next() {
		var e models.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Color); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (r *catalogRepository) ListVideos() ([]models.Video, error) {
	query := `
		SELECT v.video_id, v.video_ext_id, v.video_title, v.duration, v.aspect_ratio, v.channel_id,
		       c.channel_id, c.channel_handle, c.channel_name
		FROM videos v
		LEFT JOIN channels c ON v.channel_id = c.channel_id
		ORDER BY v.video_id
	`
	rows, err := r.q.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

func (r *catalogRepository) GetVideo(extID string) (models.Video, error) {
	query := `
		SELECT v.video_id, v.video_ext_id, v.video_title, v.duration, v.aspect_ratio, v.channel_id,
		       c.channel_id, c.channel_handle, c.channel_name
		FROM videos v
		LEFT JOIN channels c ON v.channel_id = c.channel_id
		WHERE v.video_ext_id = $1
	`
	rows, err := r.q.Query(query, extID)
	if err != nil {
		return models.Video{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return models.Video{}, err
		}
		return models.Video{}, ErrNotFound
	}
	video, err := scanVideo(rows)
	if err != nil {
		return models.Video{}, err
	}
	rows.Close()

	// Models that actually have detections for this video.
	modelQuery := `
		SELECT m.model_id, m.model_path, m.model_name
		FROM detections d
		INNER JOIN models m ON d.model_id = m.model_id
		WHERE d.video_id = $1
		GROUP BY m.model_id
		ORDER BY m.model_id DESC
	`
	modelRows, err := r.q.Query(modelQuery, video.ID)
	if err != nil {
		return models.Video{}, err
	}
	defer modelRows.Close()

	for modelRows.Next() {
		var m models.Model
		if err := modelRows.Scan(&m.ID, &m.Path, &m.Name); err != nil {
			return models.Video{}, err
		}
		video.Models = append(video.Models, m)
	}
	return video, modelRows.Err()
}

func scanVideo(rows *sql.Rows) (models.Video, error) {
	var v models.Video
	var chID sql.NullInt64
	var chHandle, chName sql.NullString
	if err := rows.Scan(
		&v.ID,
		&v.ExternalID,
		&v.Title,
		&v.Duration,
		&v.AspectRatio,
		&v.ChannelID,
		&chID,
		&chHandle,
		&chName,
	); err != nil {
		return v, err
	}
	if chID.Valid {
		v.Channel = &models.Channel{ID: chID.Int64, Handle: chHandle.String, Name: chName.String}
	}
	return v, nil
}
