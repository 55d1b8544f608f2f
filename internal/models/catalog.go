package models

type Channel struct {
	ID     int64  `json:"channel_id" db:"channel_id"`
	Handle string `json:"channel_handle" db:"channel_handle"`
	Name   string `json:"channel_name" db:"channel_name"`
}

type Video struct {
	ID          int64    `json:"video_id" db:"video_id"`
	ExternalID  string   `json:"video_ext_id" db:"video_ext_id"`
	Title       string   `json:"video_title" db:"video_title"`
	Duration    float64  `json:"duration" db:"duration"`
	AspectRatio float64  `json:"aspect_ratio" db:"aspect_ratio"`
	ChannelID   *int64   `json:"channel_id" db:"channel_id"`
	Channel     *Channel `json:"channel,omitempty"`
	// Models that have detections recorded for this video. Populated by
	// the single-video lookup only.
	Models []Model `json:"models,omitempty"`
}

type Model struct {
	ID   int64   `json:"model_id" db:"model_id"`
	Path string  `json:"model_path" db:"model_path"`
	Name *string `json:"model_name" db:"model_name"`
}

type Entity struct {
	ID    int64   `json:"entity_id" db:"entity_id"`
	Name  string  `json:"entity_name" db:"entity_name"`
	Color *string `json:"entity_color" db:"entity_color"`
}

// Detection is one timestamped, confidence-scored, bounding-boxed
// observation of an entity in a video under a model. BBox components are
// normalized [x, y, w, h] as emitted by the analyzer.
type Detection struct {
	ID         int64      `json:"detection_id" db:"detection_id"`
	VideoID    int64      `json:"video_id" db:"video_id"`
	EntityID   int64      `json:"entity_id" db:"entity_id"`
	ModelID    int64      `json:"model_id" db:"model_id"`
	Time       float64    `json:"time" db:"time"`
	Confidence float64    `json:"confidence" db:"confidence"`
	BBox       [4]float64 `json:"bbox" db:"bbox"`
	EntityName string     `json:"entity_name,omitempty"`
}
