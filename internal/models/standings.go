package models

// TeamStanding is one team's row in a league standings snapshot.
type TeamStanding struct {
	TeamID         int     `json:"team_id"`
	TeamName       string  `json:"team_name"`
	Conference     string  `json:"conference"`
	ConferenceRank int     `json:"conference_rank"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinPct         float64 `json:"win_pct"`
}

// Standings is a read-only snapshot of league standings for a season,
// keyed by team id. Feature extraction looks teams up here and never
// mutates the snapshot.
type Standings struct {
	Season string                `json:"season"`
	Teams  map[int]*TeamStanding `json:"teams"`
}

// NewStandings returns an empty snapshot for a season.
func NewStandings(season string) *Standings {
	return &Standings{
		Season: season,
		Teams:  make(map[int]*TeamStanding),
	}
}

// Team returns the standing row for a team id, or nil when the team
// is not present in the snapshot.
func (s *Standings) Team(teamID int) *TeamStanding {
	if s == nil || s.Teams == nil {
		return nil
	}
	return s.Teams[teamID]
}
