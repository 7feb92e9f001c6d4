package collector

import (
	"context"
	"fmt"
	"strings"

	"nbapred/pipeline/internal/client"
	"nbapred/pipeline/internal/metrics"
	"nbapred/pipeline/internal/models"

	"github.com/rs/zerolog/log"
)

// Matchup separators used by the game finder. "LAL vs. BOS" is a Lakers
// home game; "LAL @ BOS" is a Lakers road game.
const (
	homeSeparator = " vs. "
	awaySeparator = " @ "
)

// StatsSource is the slice of the stats client that collection needs.
type StatsSource interface {
	FindGamesByDate(ctx context.Context, date string) ([]client.GameFinderRow, error)
	BoxScoreSummary(ctx context.Context, gameID string) (*client.GameDetail, error)
}

// Collector turns one calendar date into a batch of finished games.
// Events that are malformed or missing required detail are logged and
// excluded; only the date listing itself can fail the batch.
type Collector struct {
	source StatsSource
}

// New creates a collector over a stats source.
func New(source StatsSource) *Collector {
	return &Collector{source: source}
}

// Collect fetches all finished games for a date (YYYY-MM-DD). A date
// with no eligible games returns an empty slice, not an error.
func (c *Collector) Collect(ctx context.Context, date string) ([]models.Game, error) {
	rows, err := c.source.FindGamesByDate(ctx, date)
	if err != nil {
		return nil, err
	}

	// The finder reports each game once per participant. Group the two
	// perspectives back together, preserving upstream order.
	var order []string
	pairs := make(map[string][]client.GameFinderRow)
	for _, r := range rows {
		if _, seen := pairs[r.GameID]; !seen {
			order = append(order, r.GameID)
		}
		pairs[r.GameID] = append(pairs[r.GameID], r)
	}

	games := make([]models.Game, 0, len(order))
	for _, gameID := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pair := pairs[gameID]
		if !decided(pair) {
			log.Debug().
				Str("game_id", gameID).
				Str("date", date).
				Msg("Skipping game without a final result")
			continue
		}

		game, err := c.collectOne(ctx, pair)
		if err != nil {
			log.Warn().
				Err(err).
				Str("game_id", gameID).
				Str("date", date).
				Msg("Excluding game from batch")
			metrics.RecordEventSkip("collection")
			continue
		}

		games = append(games, *game)
	}

	log.Info().
		Str("date", date).
		Int("found", len(order)).
		Int("collected", len(games)).
		Msg("Collection finished")
	metrics.EventsCollected.Set(float64(len(games)))

	return games, nil
}

// collectOne builds a complete game record from the finder pair plus
// the box-score summary.
func (c *Collector) collectOne(ctx context.Context, pair []client.GameFinderRow) (*models.Game, error) {
	home, away, err := homeAwayRows(pair)
	if err != nil {
		return nil, err
	}

	detail, err := c.source.BoxScoreSummary(ctx, home.GameID)
	if err != nil {
		return nil, err
	}

	if detail.HomeTeamID != home.TeamID {
		return nil, fmt.Errorf("game %s: matchup names %s as home (team %d) but box score says %d",
			home.GameID, home.TeamAbbreviation, home.TeamID, detail.HomeTeamID)
	}
	if detail.LeadChanges == nil {
		return nil, fmt.Errorf("game %s: box score missing lead changes", home.GameID)
	}
	if detail.TimesTied == nil {
		return nil, fmt.Errorf("game %s: box score missing times tied", home.GameID)
	}

	game := &models.Game{
		GameID:               home.GameID,
		Date:                 home.GameDate,
		SeasonID:             home.SeasonID,
		HomeTeamID:           home.TeamID,
		AwayTeamID:           away.TeamID,
		HomeTeamAbbreviation: home.TeamAbbreviation,
		AwayTeamAbbreviation: away.TeamAbbreviation,
		HomeTeamScore:        home.Points,
		AwayTeamScore:        away.Points,
		LeadChanges:          *detail.LeadChanges,
		TimesTied:            *detail.TimesTied,
		GameStatus:           detail.GameStatusText,
		Attendance:           detail.Attendance,
	}

	if err := game.Validate(); err != nil {
		return nil, fmt.Errorf("game %s: %w", game.GameID, err)
	}

	return game, nil
}

// decided reports whether the finder already shows a result for the
// pair. Games still in progress carry no win/loss marker and are
// filtered before any detail fetch is spent on them.
func decided(pair []client.GameFinderRow) bool {
	for _, r := range pair {
		if r.WinLoss != "" {
			return true
		}
	}
	return false
}

// homeAwayRows resolves which perspective of a finder pair is the home
// team, using the matchup string of the first row and checking it
// against the second.
func homeAwayRows(pair []client.GameFinderRow) (home, away client.GameFinderRow, err error) {
	if len(pair) != 2 {
		return home, away, fmt.Errorf("expected both team perspectives, got %d row(s)", len(pair))
	}

	a, b := pair[0], pair[1]
	team, opponent, aHome, err := parseMatchup(a.Matchup)
	if err != nil {
		return home, away, fmt.Errorf("game %s: %w", a.GameID, err)
	}
	if team != a.TeamAbbreviation || opponent != b.TeamAbbreviation {
		return home, away, fmt.Errorf("game %s: matchup %q does not match pair %s/%s",
			a.GameID, a.Matchup, a.TeamAbbreviation, b.TeamAbbreviation)
	}

	if aHome {
		return a, b, nil
	}
	return b, a, nil
}

// parseMatchup splits a finder matchup into the row team, the opponent
// and whether the row team played at home.
func parseMatchup(matchup string) (team, opponent string, home bool, err error) {
	if i := strings.Index(matchup, homeSeparator); i >= 0 {
		return matchup[:i], matchup[i+len(homeSeparator):], true, nil
	}
	if i := strings.Index(matchup, awaySeparator); i >= 0 {
		return matchup[:i], matchup[i+len(awaySeparator):], false, nil
	}
	return "", "", false, fmt.Errorf("unrecognized matchup format %q", matchup)
}
