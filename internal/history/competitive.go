package history

import (
	"context"
	"sort"

	"nbapred/pipeline/internal/client"

	"github.com/rs/zerolog/log"
)

// PlayByPlay provides the (seconds remaining, score margin) series for
// a game. The stats client implements it via the win probability feed.
type PlayByPlay interface {
	WinProbability(ctx context.Context, gameID string) ([]client.WinProbSample, error)
}

// CompetitiveCalculator measures how long a game stayed within a fixed
// score band. With no play-by-play data the answer is unknown and the
// calculator returns nil, never a zero duration.
type CompetitiveCalculator struct {
	source PlayByPlay
	margin float64
}

// NewCompetitiveCalculator creates a calculator with the given score
// band half-width in points.
func NewCompetitiveCalculator(source PlayByPlay, margin float64) *CompetitiveCalculator {
	return &CompetitiveCalculator{source: source, margin: margin}
}

// Duration returns the number of game seconds the score margin spent
// inside [-margin, +margin]. The margin between samples is modeled
// linearly, so a segment that enters or leaves the band contributes
// exactly the interpolated portion.
func (c *CompetitiveCalculator) Duration(ctx context.Context, gameID string) (*float64, error) {
	samples, err := c.source.WinProbability(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		log.Debug().Str("game_id", gameID).Msg("No play-by-play samples, competitive duration unknown")
		return nil, nil
	}

	seconds := CompetitiveSeconds(samples, c.margin)
	return &seconds, nil
}

// CompetitiveSeconds integrates the time the margin series spends
// inside the band. Pure function over the samples; exposed for tests
// and for checkpointed reprocessing.
func CompetitiveSeconds(samples []client.WinProbSample, margin float64) float64 {
	ordered := make([]client.WinProbSample, len(samples))
	copy(ordered, samples)

	// Game start first: seconds remaining descending.
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SecondsRemaining > ordered[j].SecondsRemaining
	})

	var total float64
	for i := 0; i < len(ordered)-1; i++ {
		t0 := ordered[i].SecondsRemaining
		t1 := ordered[i+1].SecondsRemaining
		dt := t0 - t1
		if dt <= 0 {
			continue
		}

		d0 := float64(ordered[i].HomeScoreMargin)
		d1 := float64(ordered[i+1].HomeScoreMargin)
		total += insideFraction(d0, d1, margin) * dt
	}

	return total
}

// insideFraction returns the fraction of a segment during which the
// linearly interpolated margin d(s) = d0 + (d1-d0)*s, s in [0,1],
// lies inside [-margin, +margin]. Handles segments that start or end
// outside the band and segments that pass straight through it.
func insideFraction(d0, d1, margin float64) float64 {
	if d0 == d1 {
		if d0 >= -margin && d0 <= margin {
			return 1
		}
		return 0
	}

	slope := d1 - d0
	sEnter := (-margin - d0) / slope
	sExit := (margin - d0) / slope
	if sEnter > sExit {
		sEnter, sExit = sExit, sEnter
	}

	lo := sEnter
	if lo < 0 {
		lo = 0
	}
	hi := sExit
	if hi > 1 {
		hi = 1
	}
	if hi <= lo {
		return 0
	}
	return hi - lo
}
