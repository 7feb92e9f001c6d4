package features

import (
	"context"
	"fmt"
	"math"

	"nbapred/pipeline/internal/models"

	"github.com/rs/zerolog/log"
)

// SchemaVersion identifies the feature schema produced by the
// engineer. Model artifacts declare the version they were trained
// against; the versions must match for predictions to mean anything.
const SchemaVersion = "1.0"

// NBA conferences seat 15 teams; ranks run 1 (best) to 15.
const teamsPerConference = 15

// ValidationError marks an event whose feature vector failed schema
// validation. The event is skipped; the run continues.
type ValidationError struct {
	GameID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("feature validation failed for game %s: field %s: %s", e.GameID, e.Field, e.Reason)
}

// RivalryScorer scores the historical rivalry of a pairing as of a date.
type RivalryScorer interface {
	Score(ctx context.Context, homeTeamID, awayTeamID int, asOf string) (float64, error)
}

// DurationCalculator measures how long a game stayed competitive.
// A nil duration means the answer is unknown.
type DurationCalculator interface {
	Duration(ctx context.Context, gameID string) (*float64, error)
}

// Engineer derives the fixed feature schema from a collected game and
// a standings snapshot. Extraction either yields a complete, valid
// vector or fails the event; no field is ever silently defaulted.
type Engineer struct {
	rivalry     RivalryScorer
	competitive DurationCalculator
}

// NewEngineer creates a feature engineer.
func NewEngineer(rivalry RivalryScorer, competitive DurationCalculator) *Engineer {
	return &Engineer{rivalry: rivalry, competitive: competitive}
}

// Extract computes the feature vector for one game.
func (e *Engineer) Extract(ctx context.Context, game *models.Game, standings *models.Standings) (models.FeatureVector, error) {
	var fv models.FeatureVector

	home := standings.Team(game.HomeTeamID)
	if home == nil {
		return fv, &ValidationError{GameID: game.GameID, Field: "diff_ranks", Reason: fmt.Sprintf("no standings row for home team %d", game.HomeTeamID)}
	}
	away := standings.Team(game.AwayTeamID)
	if away == nil {
		return fv, &ValidationError{GameID: game.GameID, Field: "diff_ranks", Reason: fmt.Sprintf("no standings row for away team %d", game.AwayTeamID)}
	}

	competitive, err := e.competitive.Duration(ctx, game.GameID)
	if err != nil {
		return fv, err
	}
	if competitive == nil {
		return fv, &ValidationError{GameID: game.GameID, Field: "competitive_seconds", Reason: "no play-by-play data"}
	}

	rivalry, err := e.rivalry.Score(ctx, game.HomeTeamID, game.AwayTeamID, game.Date)
	if err != nil {
		return fv, err
	}

	fv = models.FeatureVector{
		DiffRanks:          abs(home.ConferenceRank - away.ConferenceRank),
		InterConference:    home.Conference != away.Conference,
		ScoresDiff:         abs(game.Margin()),
		PositionScore:      positionScore(home.ConferenceRank, away.ConferenceRank),
		CompetitiveSeconds: *competitive,
		LeadChanges:        game.LeadChanges,
		RivalryScore:       rivalry,
	}

	if err := Validate(game.GameID, fv); err != nil {
		return models.FeatureVector{}, err
	}

	log.Debug().
		Str("game_id", game.GameID).
		Int("diff_ranks", fv.DiffRanks).
		Float64("position_score", fv.PositionScore).
		Float64("competitive_seconds", fv.CompetitiveSeconds).
		Float64("rivalry_score", fv.RivalryScore).
		Msg("Features extracted")

	return fv, nil
}

// positionScore rewards pairings of highly ranked teams: each team
// contributes (16 - rank) and the sum is normalized to (0, 2].
// Rounded to six decimals so checkpointed vectors compare exactly.
func positionScore(homeRank, awayRank int) float64 {
	sum := float64(teamsPerConference+1-homeRank) + float64(teamsPerConference+1-awayRank)
	return round6(sum / teamsPerConference)
}

// Validate checks a feature vector against the schema constraints.
// Violations return a *ValidationError naming the offending field.
func Validate(gameID string, fv models.FeatureVector) error {
	if fv.DiffRanks < 0 || fv.DiffRanks > teamsPerConference-1 {
		return &ValidationError{GameID: gameID, Field: "diff_ranks", Reason: fmt.Sprintf("value %d outside [0, %d]", fv.DiffRanks, teamsPerConference-1)}
	}
	if fv.ScoresDiff < 0 {
		return &ValidationError{GameID: gameID, Field: "scores_diff", Reason: fmt.Sprintf("value %d is negative", fv.ScoresDiff)}
	}
	if fv.PositionScore < 0 || fv.PositionScore > 2 {
		return &ValidationError{GameID: gameID, Field: "position_score", Reason: fmt.Sprintf("value %g outside [0, 2]", fv.PositionScore)}
	}
	if fv.CompetitiveSeconds < 0 {
		return &ValidationError{GameID: gameID, Field: "competitive_seconds", Reason: fmt.Sprintf("value %g is negative", fv.CompetitiveSeconds)}
	}
	if fv.LeadChanges < 0 {
		return &ValidationError{GameID: gameID, Field: "lead_changes", Reason: fmt.Sprintf("value %d is negative", fv.LeadChanges)}
	}
	if fv.RivalryScore < 0 || fv.RivalryScore > 1 {
		return &ValidationError{GameID: gameID, Field: "rivalry_score", Reason: fmt.Sprintf("value %g outside [0, 1]", fv.RivalryScore)}
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
