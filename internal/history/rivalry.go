package history

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"nbapred/pipeline/internal/cache"
	"nbapred/pipeline/internal/client"

	"github.com/rs/zerolog/log"
)

// Meeting weights. Playoff meetings say more about a rivalry than
// narrow regular-season games, so they carry the larger weight.
const (
	playoffWeight = 0.7
	narrowWeight  = 0.3
)

// HeadToHead looks up past meetings between two teams for one season
// type. The stats client implements it; tests substitute fixtures.
type HeadToHead interface {
	FindHeadToHead(ctx context.Context, teamID, vsTeamID int, dateFrom, dateTo, seasonType string) ([]client.GameFinderRow, error)
}

// RivalryConfig holds rivalry scoring parameters.
type RivalryConfig struct {
	WindowYears     int
	CloseGameMargin int
	Saturation      float64
	CacheTTL        time.Duration
}

// RivalryCalculator scores the historical rivalry between two teams
// on a saturating [0,1) scale. More qualifying history never lowers
// the score, and teams with no shared history score exactly 0.
type RivalryCalculator struct {
	source HeadToHead
	cache  cache.Cache
	cfg    RivalryConfig
}

// NewRivalryCalculator creates a rivalry calculator.
func NewRivalryCalculator(source HeadToHead, c cache.Cache, cfg RivalryConfig) *RivalryCalculator {
	if c == nil {
		c = cache.NewNoop()
	}
	return &RivalryCalculator{source: source, cache: c, cfg: cfg}
}

// Score computes the rivalry score for a pairing as of a date
// (YYYY-MM-DD). The history window is the WindowYears preceding the
// date, exclusive of the date itself, so a game never counts toward
// its own rivalry.
func (r *RivalryCalculator) Score(ctx context.Context, homeTeamID, awayTeamID int, asOf string) (float64, error) {
	asOfDate, err := time.Parse("2006-01-02", asOf)
	if err != nil {
		return 0, fmt.Errorf("invalid as-of date %q: %w", asOf, err)
	}

	dateTo := asOfDate.AddDate(0, 0, -1).Format("2006-01-02")
	dateFrom := asOfDate.AddDate(-r.cfg.WindowYears, 0, 0).Format("2006-01-02")

	playoffGames, err := r.meetings(ctx, homeTeamID, awayTeamID, dateFrom, dateTo, client.SeasonTypePlayoffs)
	if err != nil {
		return 0, err
	}

	regularGames, err := r.meetings(ctx, homeTeamID, awayTeamID, dateFrom, dateTo, client.SeasonTypeRegular)
	if err != nil {
		return 0, err
	}

	playoffMeetings := len(playoffGames)
	narrowMeetings := 0
	for _, g := range regularGames {
		// A zero plus-minus means the margin is missing (NBA games
		// cannot end tied); those rows never count as narrow.
		if m := math.Abs(g.PlusMinus); m > 0 && m <= float64(r.cfg.CloseGameMargin) {
			narrowMeetings++
		}
	}

	weighted := playoffWeight*float64(playoffMeetings) + narrowWeight*float64(narrowMeetings)
	score := 1 - math.Exp(-weighted/r.cfg.Saturation)

	log.Debug().
		Int("home_team_id", homeTeamID).
		Int("away_team_id", awayTeamID).
		Int("playoff_meetings", playoffMeetings).
		Int("narrow_meetings", narrowMeetings).
		Float64("score", score).
		Msg("Rivalry score computed")

	return score, nil
}

// meetings fetches head-to-head games through the cache. History up to
// a fixed end date is immutable, so cached entries stay valid for the
// full TTL.
func (r *RivalryCalculator) meetings(ctx context.Context, teamA, teamB int, dateFrom, dateTo, seasonType string) ([]client.GameFinderRow, error) {
	// The pairing is symmetric; key on the canonical order so both
	// home/away orientations share one entry.
	lo, hi := teamA, teamB
	if lo > hi {
		lo, hi = hi, lo
	}
	key := cache.Key("h2h", fmt.Sprintf("%d", lo), fmt.Sprintf("%d", hi), dateFrom, dateTo, seasonType)

	if raw, found := r.cache.Get(ctx, key); found {
		var games []client.GameFinderRow
		if err := json.Unmarshal(raw, &games); err == nil {
			return games, nil
		}
		log.Warn().Str("key", key).Msg("Discarding undecodable cache entry")
	}

	games, err := r.source.FindHeadToHead(ctx, teamA, teamB, dateFrom, dateTo, seasonType)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(games); err == nil {
		if err := r.cache.Set(ctx, key, raw, r.cfg.CacheTTL); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to cache head-to-head games")
		}
	}

	return games, nil
}
