package client

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Season types accepted by the game finder.
const (
	SeasonTypeRegular  = "Regular Season"
	SeasonTypePlayoffs = "Playoffs"
)

// GameFinderRow is one leaguegamefinder row. The finder reports every
// game twice, once from each team's perspective; deduplication is the
// caller's job.
type GameFinderRow struct {
	SeasonID         string
	GameID           string
	GameDate         string // YYYY-MM-DD
	TeamID           int
	TeamAbbreviation string
	Matchup          string // "LAL vs. BOS" (home) or "LAL @ BOS" (away)
	WinLoss          string
	Points           int
	PlusMinus        float64
}

// GameDetail carries the box-score summary fields collection needs.
// LeadChanges and TimesTied are pointers: the upstream omits the
// OtherStats rows for some historical games, and absence must stay
// distinguishable from zero.
type GameDetail struct {
	GameID         string
	GameStatusText string
	HomeTeamID     int
	VisitorTeamID  int
	Attendance     int
	LeadChanges    *int
	TimesTied      *int
	LineScores     []LineScore
}

// LineScore is one team's final scoring line.
type LineScore struct {
	TeamID           int
	TeamAbbreviation string
	Points           int
}

// WinProbSample is one play-by-play probability sample. Rows without
// a score margin are dropped during decoding.
type WinProbSample struct {
	EventNum         int
	Period           int
	SecondsRemaining float64
	HomeScoreMargin  int
}

// StandingRow is one team's row from the league standings endpoint.
type StandingRow struct {
	TeamID         int
	TeamName       string
	Conference     string
	ConferenceRank int
	Wins           int
	Losses         int
	WinPct         float64
}

// FindGamesByDate fetches all league games played on a date (YYYY-MM-DD).
func (c *Client) FindGamesByDate(ctx context.Context, date string) ([]GameFinderRow, error) {
	apiDate, err := toAPIDate(date)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("PlayerOrTeam", "T")
	params.Set("LeagueID", "00")
	params.Set("DateFrom", apiDate)
	params.Set("DateTo", apiDate)

	body, err := c.get(ctx, "leaguegamefinder", params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch games for %s: %w", date, err)
	}

	return parseGameFinder(body, "leaguegamefinder")
}

// FindHeadToHead fetches all meetings between two teams in a date range,
// for one season type (regular season or playoffs).
func (c *Client) FindHeadToHead(ctx context.Context, teamID, vsTeamID int, dateFrom, dateTo, seasonType string) ([]GameFinderRow, error) {
	apiFrom, err := toAPIDate(dateFrom)
	if err != nil {
		return nil, err
	}
	apiTo, err := toAPIDate(dateTo)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("PlayerOrTeam", "T")
	params.Set("LeagueID", "00")
	params.Set("TeamID", fmt.Sprintf("%d", teamID))
	params.Set("VsTeamID", fmt.Sprintf("%d", vsTeamID))
	params.Set("DateFrom", apiFrom)
	params.Set("DateTo", apiTo)
	params.Set("SeasonType", seasonType)

	body, err := c.get(ctx, "leaguegamefinder", params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch head-to-head games: %w", err)
	}

	return parseGameFinder(body, "leaguegamefinder")
}

// BoxScoreSummary fetches per-game detail: status, teams, attendance,
// lead changes and final line scores.
func (c *Client) BoxScoreSummary(ctx context.Context, gameID string) (*GameDetail, error) {
	params := url.Values{}
	params.Set("GameID", gameID)

	body, err := c.get(ctx, "boxscoresummaryv2", params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch box score summary for game %s: %w", gameID, err)
	}

	resp, err := parseResponse(body)
	if err != nil {
		return nil, collectionParseError("boxscoresummaryv2", err)
	}

	summary, err := resp.set("GameSummary")
	if err != nil {
		return nil, collectionParseError("boxscoresummaryv2", err)
	}
	rows := summary.rows()
	if len(rows) == 0 {
		return nil, collectionParseError("boxscoresummaryv2", fmt.Errorf("empty GameSummary for game %s", gameID))
	}

	head := rows[0]
	detail := &GameDetail{
		GameID:         gameID,
		GameStatusText: head.str("GAME_STATUS_TEXT"),
		HomeTeamID:     head.int("HOME_TEAM_ID"),
		VisitorTeamID:  head.int("VISITOR_TEAM_ID"),
	}

	if other, err := resp.set("OtherStats"); err == nil {
		if orows := other.rows(); len(orows) > 0 {
			if orows[0].has("LEAD_CHANGES") {
				lc := orows[0].int("LEAD_CHANGES")
				detail.LeadChanges = &lc
			}
			if orows[0].has("TIMES_TIED") {
				tt := orows[0].int("TIMES_TIED")
				detail.TimesTied = &tt
			}
		}
	}

	if info, err := resp.set("GameInfo"); err == nil {
		if irows := info.rows(); len(irows) > 0 {
			detail.Attendance = irows[0].int("ATTENDANCE")
		}
	}

	if lines, err := resp.set("LineScore"); err == nil {
		for _, lr := range lines.rows() {
			detail.LineScores = append(detail.LineScores, LineScore{
				TeamID:           lr.int("TEAM_ID"),
				TeamAbbreviation: lr.str("TEAM_ABBREVIATION"),
				Points:           lr.int("PTS"),
			})
		}
	}

	return detail, nil
}

// WinProbability fetches the play-by-play win probability feed, which
// carries the (seconds remaining, score margin) series the competitive
// duration calculation consumes.
func (c *Client) WinProbability(ctx context.Context, gameID string) ([]WinProbSample, error) {
	params := url.Values{}
	params.Set("GameID", gameID)
	params.Set("RunType", "each second")

	body, err := c.get(ctx, "winprobabilitypbp", params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch win probability for game %s: %w", gameID, err)
	}

	resp, err := parseResponse(body)
	if err != nil {
		return nil, collectionParseError("winprobabilitypbp", err)
	}

	set, err := resp.set("WinProbPBP")
	if err != nil {
		return nil, collectionParseError("winprobabilitypbp", err)
	}

	var samples []WinProbSample
	for _, r := range set.rows() {
		if !r.has("HOME_SCORE_MARGIN") || !r.has("SECONDS_REMAINING") {
			continue
		}
		samples = append(samples, WinProbSample{
			EventNum:         r.int("EVENT_NUM"),
			Period:           r.int("PERIOD"),
			SecondsRemaining: r.float("SECONDS_REMAINING"),
			HomeScoreMargin:  r.int("HOME_SCORE_MARGIN"),
		})
	}

	return samples, nil
}

// Standings fetches the league standings for a season ("2023-24").
func (c *Client) Standings(ctx context.Context, season string) ([]StandingRow, error) {
	params := url.Values{}
	params.Set("LeagueID", "00")
	params.Set("Season", season)
	params.Set("SeasonType", SeasonTypeRegular)

	body, err := c.get(ctx, "leaguestandingsv3", params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch standings for %s: %w", season, err)
	}

	resp, err := parseResponse(body)
	if err != nil {
		return nil, collectionParseError("leaguestandingsv3", err)
	}

	set, err := resp.set("Standings")
	if err != nil {
		return nil, collectionParseError("leaguestandingsv3", err)
	}

	var standings []StandingRow
	for _, r := range set.rows() {
		standings = append(standings, StandingRow{
			TeamID:         r.int("TeamID"),
			TeamName:       r.str("TeamName"),
			Conference:     r.str("Conference"),
			ConferenceRank: r.int("PlayoffRank"),
			Wins:           r.int("WINS"),
			Losses:         r.int("LOSSES"),
			WinPct:         r.float("WinPCT"),
		})
	}

	return standings, nil
}

func parseGameFinder(body []byte, endpoint string) ([]GameFinderRow, error) {
	resp, err := parseResponse(body)
	if err != nil {
		return nil, collectionParseError(endpoint, err)
	}

	set, err := resp.set("LeagueGameFinderResults")
	if err != nil {
		return nil, collectionParseError(endpoint, err)
	}

	var games []GameFinderRow
	for _, r := range set.rows() {
		games = append(games, GameFinderRow{
			SeasonID:         r.str("SEASON_ID"),
			GameID:           r.str("GAME_ID"),
			GameDate:         r.str("GAME_DATE"),
			TeamID:           r.int("TEAM_ID"),
			TeamAbbreviation: r.str("TEAM_ABBREVIATION"),
			Matchup:          r.str("MATCHUP"),
			WinLoss:          r.str("WL"),
			Points:           r.int("PTS"),
			PlusMinus:        r.float("PLUS_MINUS"),
		})
	}

	return games, nil
}

// collectionParseError reports a malformed upstream payload as a
// collection failure so callers apply the same skip semantics as for
// exhausted retries.
func collectionParseError(endpoint string, err error) error {
	return &CollectionError{Endpoint: endpoint, Attempts: 1, Err: err}
}

// toAPIDate converts YYYY-MM-DD to the MM/DD/YYYY form the API expects.
func toAPIDate(date string) (string, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", date, err)
	}
	return t.Format("01/02/2006"), nil
}
