package models

// FeatureVector is the fixed input schema of the prediction model.
// Exactly these seven fields, in this order; the JSON names are part
// of both the checkpoint format and the stored prediction row. Adding
// or dropping a field is a feature_version change.
type FeatureVector struct {
	DiffRanks          int     `json:"diff_ranks"`
	InterConference    bool    `json:"inter_conference"`
	ScoresDiff         int     `json:"scores_diff"`
	PositionScore      float64 `json:"position_score"`
	CompetitiveSeconds float64 `json:"competitive_seconds"`
	LeadChanges        int     `json:"lead_changes"`
	RivalryScore       float64 `json:"rivalry_score"`
}

// FeatureNames lists the schema fields in canonical order.
func FeatureNames() []string {
	return []string{
		"diff_ranks",
		"inter_conference",
		"scores_diff",
		"position_score",
		"competitive_seconds",
		"lead_changes",
		"rivalry_score",
	}
}

// Values returns the vector as numeric values in canonical order,
// with inter_conference encoded as 0/1. This is the exact layout the
// model coefficients are keyed against.
func (fv FeatureVector) Values() map[string]float64 {
	inter := 0.0
	if fv.InterConference {
		inter = 1.0
	}
	return map[string]float64{
		"diff_ranks":          float64(fv.DiffRanks),
		"inter_conference":    inter,
		"scores_diff":         float64(fv.ScoresDiff),
		"position_score":      fv.PositionScore,
		"competitive_seconds": fv.CompetitiveSeconds,
		"lead_changes":        float64(fv.LeadChanges),
		"rivalry_score":       fv.RivalryScore,
	}
}

// FeaturedEvent pairs a collected game with its extracted feature
// vector. It is the unit of the features-step checkpoint payload; the
// game record rides along so prediction and storage never need to
// re-fetch it.
type FeaturedEvent struct {
	GameID   string        `json:"game_id"`
	Game     Game          `json:"game"`
	Features FeatureVector `json:"features"`
}
