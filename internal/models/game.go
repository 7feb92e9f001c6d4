package models

import (
	"fmt"
	"time"
)

// Terminal game statuses as reported by the stats API.
const (
	StatusFinal         = "Final"
	StatusFinalOvertime = "F/OT"
)

// Game represents a finished NBA game as collected from the stats API.
// The record is immutable once collection succeeds; downstream steps
// carry it through checkpoints, so the JSON field names are part of
// the checkpoint format.
type Game struct {
	GameID               string `json:"game_id"`
	Date                 string `json:"date"` // YYYY-MM-DD
	SeasonID             string `json:"season_id"`
	HomeTeamID           int    `json:"home_team_id"`
	AwayTeamID           int    `json:"away_team_id"`
	HomeTeamAbbreviation string `json:"home_team_abbreviation"`
	AwayTeamAbbreviation string `json:"away_team_abbreviation"`
	HomeTeamScore        int    `json:"home_team_score"`
	AwayTeamScore        int    `json:"away_team_score"`
	LeadChanges          int    `json:"lead_changes"`
	TimesTied            int    `json:"times_tied"`
	GameStatus           string `json:"game_status"`
	Attendance           int    `json:"attendance"`
}

// IsFinal returns true if the game reached a terminal status.
func (g *Game) IsFinal() bool {
	return g.GameStatus == StatusFinal || g.GameStatus == StatusFinalOvertime
}

// Margin returns the final home-minus-away score difference.
func (g *Game) Margin() int {
	return g.HomeTeamScore - g.AwayTeamScore
}

// Validate checks that every field required by downstream steps is present.
func (g *Game) Validate() error {
	if g.GameID == "" {
		return fmt.Errorf("game_id is required")
	}
	if g.Date == "" {
		return fmt.Errorf("date is required")
	}
	if _, err := time.Parse("2006-01-02", g.Date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	if g.HomeTeamID <= 0 {
		return fmt.Errorf("home_team_id must be positive")
	}
	if g.AwayTeamID <= 0 {
		return fmt.Errorf("away_team_id must be positive")
	}
	if g.HomeTeamID == g.AwayTeamID {
		return fmt.Errorf("home and away team ids must differ")
	}
	if g.HomeTeamAbbreviation == "" || g.AwayTeamAbbreviation == "" {
		return fmt.Errorf("team abbreviations are required")
	}
	if g.HomeTeamScore < 0 || g.AwayTeamScore < 0 {
		return fmt.Errorf("scores must be non-negative")
	}
	if g.LeadChanges < 0 {
		return fmt.Errorf("lead_changes must be non-negative")
	}
	if !g.IsFinal() {
		return fmt.Errorf("game_status %q is not terminal", g.GameStatus)
	}
	return nil
}
