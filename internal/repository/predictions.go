package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nbapred/pipeline/internal/metrics"
	"nbapred/pipeline/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// SaveOutcome describes what a Save call did to storage.
type SaveOutcome string

const (
	SaveInserted SaveOutcome = "inserted"
	SaveUpdated  SaveOutcome = "updated"
	SaveSkipped  SaveOutcome = "skipped"
)

// StorageError marks a persistence failure for one event's save. The
// remaining events in the batch are still processed.
type StorageError struct {
	GameID string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failed for game %s: %v", e.GameID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// PredictionRepository handles prediction-related database operations.
type PredictionRepository struct {
	db *Database
}

// Save upserts one prediction keyed by game id, inside a single
// transaction. An existing record is only replaced when overwrite is
// set; otherwise the call reports SaveSkipped without mutating storage.
func (r *PredictionRepository) Save(ctx context.Context, pred *models.Prediction, overwrite bool) (SaveOutcome, error) {
	if pred == nil {
		return "", &StorageError{Err: fmt.Errorf("prediction cannot be nil")}
	}
	if err := validatePrediction(pred); err != nil {
		return "", &StorageError{GameID: pred.GameID, Err: fmt.Errorf("prediction validation failed: %w", err)}
	}

	start := time.Now()
	outcome, err := r.save(ctx, pred, overwrite)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordDBQuery("save", "predictions", status, time.Since(start).Seconds())

	if err != nil {
		log.Error().Err(err).Str("game_id", pred.GameID).Msg("Failed to save prediction")
		return "", &StorageError{GameID: pred.GameID, Err: err}
	}

	metrics.RecordSaveOutcome(string(outcome))
	log.Info().
		Str("game_id", pred.GameID).
		Str("outcome", string(outcome)).
		Float64("rating", pred.Rating).
		Msg("Prediction saved")

	return outcome, nil
}

func (r *PredictionRepository) save(ctx context.Context, pred *models.Prediction, overwrite bool) (SaveOutcome, error) {
	featuresJSON, err := json.Marshal(pred.Features)
	if err != nil {
		return "", fmt.Errorf("failed to encode features: %w", err)
	}
	gameJSON, err := json.Marshal(pred.Game)
	if err != nil {
		return "", fmt.Errorf("failed to encode game: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingID int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM predictions WHERE game_id = $1 FOR UPDATE`,
		pred.GameID,
	).Scan(&existingID)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `
			INSERT INTO predictions (
				game_id, game_date, rating, classification,
				probability_good, probability_bad, confidence, confidence_tier,
				features, game, model_version, feature_version, predicted_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			pred.GameID, pred.Game.Date, pred.Rating, pred.Classification,
			pred.Probabilities[models.ClassGood], pred.Probabilities[models.ClassBad],
			pred.Confidence, pred.ConfidenceTier,
			featuresJSON, gameJSON, pred.ModelVersion, pred.FeatureVersion, pred.PredictedAt,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert prediction: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("failed to commit insert: %w", err)
		}
		return SaveInserted, nil

	case err != nil:
		return "", fmt.Errorf("failed to look up existing prediction: %w", err)

	case !overwrite:
		return SaveSkipped, nil

	default:
		_, err = tx.Exec(ctx, `
			UPDATE predictions SET
				game_date = $2, rating = $3, classification = $4,
				probability_good = $5, probability_bad = $6,
				confidence = $7, confidence_tier = $8,
				features = $9, game = $10,
				model_version = $11, feature_version = $12, predicted_at = $13,
				updated_at = now()
			WHERE id = $1
		`,
			existingID, pred.Game.Date, pred.Rating, pred.Classification,
			pred.Probabilities[models.ClassGood], pred.Probabilities[models.ClassBad],
			pred.Confidence, pred.ConfidenceTier,
			featuresJSON, gameJSON, pred.ModelVersion, pred.FeatureVersion, pred.PredictedAt,
		)
		if err != nil {
			return "", fmt.Errorf("failed to update prediction: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return "", fmt.Errorf("failed to commit update: %w", err)
		}
		return SaveUpdated, nil
	}
}

// GetByGameID retrieves the stored prediction for a game, or nil when
// none exists.
func (r *PredictionRepository) GetByGameID(ctx context.Context, gameID string) (*models.Prediction, error) {
	var (
		pred         models.Prediction
		pGood, pBad  float64
		featuresJSON []byte
		gameJSON     []byte
	)

	err := r.db.Pool.QueryRow(ctx, `
		SELECT game_id, rating, classification,
		       probability_good, probability_bad, confidence, confidence_tier,
		       features, game, model_version, feature_version, predicted_at
		FROM predictions
		WHERE game_id = $1
	`, gameID).Scan(
		&pred.GameID, &pred.Rating, &pred.Classification,
		&pGood, &pBad, &pred.Confidence, &pred.ConfidenceTier,
		&featuresJSON, &gameJSON, &pred.ModelVersion, &pred.FeatureVersion, &pred.PredictedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction for game %s: %w", gameID, err)
	}

	pred.Probabilities = map[string]float64{
		models.ClassGood: pGood,
		models.ClassBad:  pBad,
	}
	if err := json.Unmarshal(featuresJSON, &pred.Features); err != nil {
		return nil, fmt.Errorf("failed to decode stored features for game %s: %w", gameID, err)
	}
	if err := json.Unmarshal(gameJSON, &pred.Game); err != nil {
		return nil, fmt.Errorf("failed to decode stored game for game %s: %w", gameID, err)
	}

	return &pred, nil
}

// HasPrediction reports whether a prediction exists for a game.
func (r *PredictionRepository) HasPrediction(ctx context.Context, gameID string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM predictions WHERE game_id = $1)`,
		gameID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check prediction existence: %w", err)
	}
	return exists, nil
}

// StoreStats summarizes stored predictions, for health reporting.
type StoreStats struct {
	TotalPredictions int64  `json:"total_predictions"`
	GoodCount        int64  `json:"good_count"`
	BadCount         int64  `json:"bad_count"`
	LatestGameDate   string `json:"latest_game_date,omitempty"`
}

// Stats returns aggregate counts over the predictions table.
func (r *PredictionRepository) Stats(ctx context.Context) (*StoreStats, error) {
	var (
		stats  StoreStats
		latest *string
	)

	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE classification = $1),
		       COUNT(*) FILTER (WHERE classification = $2),
		       MAX(game_date)::text
		FROM predictions
	`, models.ClassGood, models.ClassBad).Scan(
		&stats.TotalPredictions, &stats.GoodCount, &stats.BadCount, &latest,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction stats: %w", err)
	}

	if latest != nil {
		stats.LatestGameDate = *latest
	}

	return &stats, nil
}

// validatePrediction ensures prediction data is valid before it is
// written.
func validatePrediction(pred *models.Prediction) error {
	if pred.GameID == "" {
		return fmt.Errorf("game_id is required")
	}
	if pred.Rating < 0 || pred.Rating > 100 {
		return fmt.Errorf("rating must be between 0 and 100")
	}
	if pred.Classification != models.ClassGood && pred.Classification != models.ClassBad {
		return fmt.Errorf("classification %q is not valid", pred.Classification)
	}
	if pred.Confidence < 0 || pred.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1")
	}
	if pred.ModelVersion == "" {
		return fmt.Errorf("model_version is required")
	}
	if pred.PredictedAt.IsZero() {
		return fmt.Errorf("predicted_at is required")
	}
	return nil
}
