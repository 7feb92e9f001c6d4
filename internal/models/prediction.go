package models

import "time"

// Classification labels produced by the prediction adapter.
const (
	ClassGood = "good"
	ClassBad  = "bad"
)

// Confidence tiers derived from the winning class probability.
const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

// Prediction is the scored outcome for a single game. It carries the
// feature vector it was computed from and the collected game record,
// so the storage step (possibly on another host) has everything it
// needs in the checkpoint alone.
type Prediction struct {
	GameID         string             `json:"game_id"`
	Rating         float64            `json:"rating"` // 0-100, two decimals
	Classification string             `json:"classification"`
	Probabilities  map[string]float64 `json:"probabilities"`
	Confidence     float64            `json:"confidence"`
	ConfidenceTier string             `json:"confidence_tier"`
	Features       FeatureVector      `json:"features"`
	Game           Game               `json:"game"`
	PredictedAt    time.Time          `json:"predicted_at"`
	ModelVersion   string             `json:"model_version"`
	FeatureVersion string             `json:"feature_version"`
}
