package predictor

import (
	"fmt"
	"math"
	"time"

	"nbapred/pipeline/internal/models"

	"github.com/rs/zerolog/log"
)

// Config holds classification settings.
type Config struct {
	GoodThreshold    float64 // rating at or above is "good"
	ConfidenceHigh   float64 // winning probability for the high tier
	ConfidenceMedium float64 // winning probability for the medium tier
}

// Adapter turns model scores into complete predictions: a bounded
// rating, a classification against the threshold, a two-class
// probability distribution and a confidence tier.
type Adapter struct {
	source ModelSource
	cfg    Config
}

// NewAdapter creates a prediction adapter over a model source.
func NewAdapter(source ModelSource, cfg Config) *Adapter {
	return &Adapter{source: source, cfg: cfg}
}

// Predict scores one featured event. The model is loaded on first use;
// a load failure is returned as-is and aborts the run.
func (a *Adapter) Predict(event models.FeaturedEvent) (*models.Prediction, error) {
	model, err := a.source.Load()
	if err != nil {
		return nil, err
	}

	raw, err := model.Predict(event.Features)
	if err != nil {
		return nil, fmt.Errorf("prediction failed for game %s: %w", event.GameID, err)
	}

	rating := round2(clamp(raw, 0, 100))

	classification := models.ClassBad
	if rating >= a.cfg.GoodThreshold {
		classification = models.ClassGood
	}

	pGood := round6(a.goodProbability(rating))
	pBad := round6(1 - pGood)
	confidence := math.Max(pGood, pBad)

	pred := &models.Prediction{
		GameID:         event.GameID,
		Rating:         rating,
		Classification: classification,
		Probabilities: map[string]float64{
			models.ClassGood: pGood,
			models.ClassBad:  pBad,
		},
		Confidence:     confidence,
		ConfidenceTier: a.tier(confidence),
		Features:       event.Features,
		Game:           event.Game,
		PredictedAt:    time.Now().UTC(),
		ModelVersion:   model.Version(),
		FeatureVersion: model.FeatureVersion(),
	}

	log.Debug().
		Str("game_id", pred.GameID).
		Float64("rating", pred.Rating).
		Str("classification", pred.Classification).
		Str("confidence_tier", pred.ConfidenceTier).
		Msg("Prediction computed")

	return pred, nil
}

// goodProbability maps a rating to p(good): 0.5 at the threshold,
// scaled linearly so the farther end of the rating range reaches the
// same maximum distance from 0.5 on either side.
func (a *Adapter) goodProbability(rating float64) float64 {
	span := math.Max(a.cfg.GoodThreshold, 100-a.cfg.GoodThreshold)
	return clamp(0.5+(rating-a.cfg.GoodThreshold)/(2*span), 0, 1)
}

func (a *Adapter) tier(confidence float64) string {
	switch {
	case confidence >= a.cfg.ConfidenceHigh:
		return models.TierHigh
	case confidence >= a.cfg.ConfidenceMedium:
		return models.TierMedium
	default:
		return models.TierLow
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
