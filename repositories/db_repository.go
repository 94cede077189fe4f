package repositories

import (
	"context"
	"fmt"
	"net/url"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vision-adapter-worker/domain"
	"vision-adapter-worker/models"
)

type DBRepository interface {
	SaveRecognition(ctx context.Context, resp domain.RecognitionResponse) error
}

type PostgresDBRepository struct {
	db        *gorm.DB
	batchSize int
}

func NewDBRepository(db *gorm.DB, batchSize int) *PostgresDBRepository {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &PostgresDBRepository{
		db:        db,
		batchSize: batchSize,
	}
}

// SaveRecognition stores the aggregate and one row per shaped image in a
// single transaction. A correlation id that is already stored is left as is.
func (repo *PostgresDBRepository) SaveRecognition(ctx context.Context, resp domain.RecognitionResponse) error {
	agg := resp.Aggregate
	rec := models.Recognition{
		CorrelationID:  resp.CorrelationID,
		ObjectKey:      resp.ObjectKey,
		Brand:          agg.Brand,
		MachineType:    agg.MachineType,
		Model:          agg.Model,
		Confidence:     agg.Confidence,
		IsConfident:    agg.IsConfident,
		TypeConfidence: agg.TypeConfidence,
		TypeSource:     agg.TypeSource,
		Provider:       resp.Provider.Name,
		LatencyMs:      resp.Metrics.LatencyMs,
	}

	return repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Omit("Images").
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "correlation_id"}}, DoNothing: true}).
			Create(&rec)
		if res.Error != nil {
			return fmt.Errorf("failed to insert recognition %s: %w", resp.CorrelationID, res.Error)
		}

		if res.RowsAffected == 0 || len(resp.Compact) == 0 {
			return nil
		}

		images := make([]models.RecognitionImage, 0, len(resp.Compact))
		for _, sr := range resp.Compact {
			images = append(images, models.RecognitionImage{
				RecognitionID: rec.ID,
				ImageRef:      storedImageRef(sr.ImageRef),
				Brand:         sr.Summary.Brand,
				MachineType:   sr.Summary.Type,
				Logo:          sr.Evidence.Logo,
				Confidence:    sr.Summary.Confidence,
				IsConfident:   sr.Summary.IsConfident,
			})
		}
		if err := tx.CreateInBatches(images, repo.batchSize).Error; err != nil {
			return fmt.Errorf("failed to insert recognition images for %s: %w", resp.CorrelationID, err)
		}
		return nil
	})
}

// storedImageRef drops the query and fragment of URL refs so presigned
// signatures are not persisted.
func storedImageRef(ref domain.ImageRef) string {
	u, err := url.Parse(string(ref))
	if err != nil || u.Scheme == "" {
		return string(ref)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
