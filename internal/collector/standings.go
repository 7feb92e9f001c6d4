package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nbapred/pipeline/internal/cache"
	"nbapred/pipeline/internal/client"
	"nbapred/pipeline/internal/models"

	"github.com/rs/zerolog/log"
)

// StandingsSource is the slice of the stats client that supplies
// standings snapshots.
type StandingsSource interface {
	Standings(ctx context.Context, season string) ([]client.StandingRow, error)
}

// StandingsProvider resolves the standings snapshot for the season a
// date falls in, caching rows per season so a run touches the
// standings endpoint at most once.
type StandingsProvider struct {
	source StandingsSource
	cache  cache.Cache
	ttl    time.Duration
}

// NewStandingsProvider creates a standings provider. A nil cache
// disables caching.
func NewStandingsProvider(source StandingsSource, store cache.Cache, ttl time.Duration) *StandingsProvider {
	if store == nil {
		store = cache.NewNoop()
	}
	return &StandingsProvider{source: source, cache: store, ttl: ttl}
}

// ForDate returns the standings for the season containing date.
func (p *StandingsProvider) ForDate(ctx context.Context, date string) (*models.Standings, error) {
	season, err := SeasonForDate(date)
	if err != nil {
		return nil, err
	}

	rows, err := p.rows(ctx, season)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no standings rows for season %s", season)
	}

	standings := models.NewStandings(season)
	for _, r := range rows {
		standings.Teams[r.TeamID] = &models.TeamStanding{
			TeamID:         r.TeamID,
			TeamName:       r.TeamName,
			Conference:     r.Conference,
			ConferenceRank: r.ConferenceRank,
			Wins:           r.Wins,
			Losses:         r.Losses,
			WinPct:         r.WinPct,
		}
	}

	return standings, nil
}

func (p *StandingsProvider) rows(ctx context.Context, season string) ([]client.StandingRow, error) {
	key := cache.Key("standings", season)

	if data, ok := p.cache.Get(ctx, key); ok {
		var rows []client.StandingRow
		if err := json.Unmarshal(data, &rows); err == nil {
			return rows, nil
		}
		log.Warn().Str("key", key).Msg("Discarding undecodable cached standings")
	}

	rows, err := p.source.Standings(ctx, season)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rows); err == nil {
		if err := p.cache.Set(ctx, key, data, p.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to cache standings")
		}
	}

	return rows, nil
}

// SeasonForDate maps a calendar date to the NBA season label that
// contains it. Seasons start in October: anything before that belongs
// to the season that started the previous year.
func SeasonForDate(date string) (string, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", date, err)
	}

	year := t.Year()
	if t.Month() < time.October {
		year--
	}
	return fmt.Sprintf("%d-%02d", year, (year+1)%100), nil
}
