// Package importer ingests an analyzer output file into the relational
// store: reference rows are resolved by natural key, detection rows are
// appended in fixed-size batches.
package importer

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mvirta/mobwatch/internal/models"
	"github.com/mvirta/mobwatch/internal/repository"
)

type Importer struct {
	db         *sql.DB
	detections repository.DetectionRepository
	batchSize  int
	logger     zerolog.Logger
}

func New(db *sql.DB, batchSize int, logger zerolog.Logger) *Importer {
	return &Importer{
		db:         db,
		detections: repository.NewDetectionRepository(db),
		batchSize:  batchSize,
		logger:     logger.With().Str("component", "importer").Logger(),
	}
}

type Summary struct {
	VideoID         int64
	ModelID         int64
	Rows            int64
	Flushes         int
	EntitiesCreated int
	RowsReplaced    int64
}

// Run ingests one analyzer output file. Reference resolution happens in
// its own transaction; all detection batches share a second transaction,
// so a crash mid-ingestion loses the whole run, never a partial subset.
func (imp *Importer) Run(ctx context.Context, path string) (Summary, error) {
	var summary Summary

	file, err := os.Open(path)
	if err != nil {
		return summary, pkgerrors.Wrap(err, "open detection file")
	}
	pre, err := scanPreamble(file)
	file.Close()
	if err != nil {
		return summary, pkgerrors.Wrapf(err, "scan %s", path)
	}

	imp.logger.Info().
		Str("video", pre.Meta.ExternalID).
		Str("model", pre.Meta.Model).
		Int64("rows", pre.RowCount).
		Msg("Starting import")

	videoID, modelID, err := imp.resolveReferences(ctx, pre.Meta)
	if err != nil {
		return summary, err
	}
	summary.VideoID = videoID
	summary.ModelID = modelID

	// Entity cache is seeded once per run. Misses create rows on the
	// shared connection so a rolled-back run never orphans the cache.
	catalog := repository.NewCatalogRepository(imp.db)
	entityMap, err := catalog.EntityMap()
	if err != nil {
		return summary, pkgerrors.Wrap(err, "load entity cache")
	}

	file, err = os.Open(path)
	if err != nil {
		return summary, pkgerrors.Wrap(err, "reopen detection file")
	}
	defer file.Close()

	tx, err := imp.db.BeginTx(ctx, nil)
	if err != nil {
		return summary, pkgerrors.Wrap(err, "begin ingestion transaction")
	}
	defer tx.Rollback() // Ensure rollback on error

	// Re-importing the same (video, model) pair replaces the previous
	// run. Delete and insert share the transaction, so the old rows
	// survive any failure of the new run.
	replaced, err := imp.detections.DeleteForVideoModel(tx, videoID, modelID)
	if err != nil {
		return summary, err
	}
	summary.RowsReplaced = replaced
	if replaced > 0 {
		imp.logger.Info().Int64("rows", replaced).Msg("Replacing previous import")
	}

	var (
		batch     = make([]models.Detection, 0, imp.batchSize)
		sawHeader bool
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := imp.detections.InsertBatch(tx, batch); err != nil {
			return err
		}
		summary.Rows += int64(len(batch))
		summary.Flushes++
		batch = batch[:0]

		pct := 100.0
		if pre.RowCount > 0 {
			pct = float64(summary.Rows) / float64(pre.RowCount) * 100.0
		}
		imp.logger.Info().
			Int64("committed", summary.Rows).
			Int64("total", pre.RowCount).
			Msgf("Committed %d/%d rows (%.1f%%)", summary.Rows, pre.RowCount, pct)
		return nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, commentMarker) {
			continue
		}
		if !sawHeader {
			sawHeader = true
			continue
		}

		r, err := pre.Schema.parseRow(line)
		if err != nil {
			return summary, fmt.Errorf("data row %d: %w", summary.Rows+int64(len(batch))+1, err)
		}

		entityID, ok := entityMap[r.Class]
		if !ok {
			imp.logger.Info().Str("entity", r.Class).Msg("Entity not in catalog, creating")
			entityID, err = catalog.EnsureEntity(r.Class)
			if err != nil {
				return summary, err
			}
			entityMap[r.Class] = entityID
			summary.EntitiesCreated++
		}

		batch = append(batch, models.Detection{
			VideoID:    videoID,
			EntityID:   entityID,
			ModelID:    modelID,
			Time:       r.Time,
			Confidence: r.Confidence,
			BBox:       [4]float64{r.X, r.Y, r.W, r.H},
		})
		if len(batch) >= imp.batchSize {
			if err := flush(); err != nil {
				return summary, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, pkgerrors.Wrap(err, "read detection file")
	}

	// Final flush for the remainder; a no-op when the batch is empty.
	if err := flush(); err != nil {
		return summary, err
	}

	if err := tx.Commit(); err != nil {
		return summary, pkgerrors.Wrap(err, "commit ingestion transaction")
	}

	imp.logger.Info().
		Int64("rows", summary.Rows).
		Int("flushes", summary.Flushes).
		Int("entities_created", summary.EntitiesCreated).
		Msg("Import complete")
	return summary, nil
}

// resolveReferences upserts the channel, video and model rows in a single
// transaction and returns the video and model ids. The video's mutable
// descriptive fields are refreshed on every import; the model row is
// create-only.
func (imp *Importer) resolveReferences(ctx context.Context, meta Metadata) (int64, int64, error) {
	if meta.Model == "" {
		return 0, 0, fmt.Errorf("metadata has no model path")
	}

	tx, err := imp.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, pkgerrors.Wrap(err, "begin reference transaction")
	}
	defer tx.Rollback()

	catalog := repository.NewCatalogRepository(tx)

	var channelID *int64
	if handle := meta.Handle(); handle != "" {
		id, err := catalog.UpsertChannel(handle, meta.Channel)
		if err != nil {
			return 0, 0, err
		}
		channelID = &id
	}

	videoID, err := catalog.UpsertVideo(models.Video{
		ExternalID:  meta.ExternalID,
		Title:       meta.Title,
		Duration:    meta.Duration,
		AspectRatio: meta.AspectRatio(),
		ChannelID:   channelID,
	})
	if err != nil {
		return 0, 0, err
	}

	model, err := catalog.UpsertModel(meta.Model, nil)
	if err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, pkgerrors.Wrap(err, "commit reference transaction")
	}
	return videoID, model.ID, nil
}
