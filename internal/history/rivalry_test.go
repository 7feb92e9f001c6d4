package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"nbapred/pipeline/internal/cache"
	"nbapred/pipeline/internal/client"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHeadToHead struct {
	regular  []client.GameFinderRow
	playoffs []client.GameFinderRow
	err      error

	calls   int
	gotFrom string
	gotTo   string
}

func (f *fakeHeadToHead) FindHeadToHead(ctx context.Context, teamID, vsTeamID int, dateFrom, dateTo, seasonType string) ([]client.GameFinderRow, error) {
	f.calls++
	f.gotFrom = dateFrom
	f.gotTo = dateTo
	if f.err != nil {
		return nil, f.err
	}
	if seasonType == client.SeasonTypePlayoffs {
		return f.playoffs, nil
	}
	return f.regular, nil
}

func meetingRows(margins ...float64) []client.GameFinderRow {
	rows := make([]client.GameFinderRow, 0, len(margins))
	for i, m := range margins {
		rows = append(rows, client.GameFinderRow{
			GameID:    fmt.Sprintf("002%07d", i),
			PlusMinus: m,
		})
	}
	return rows
}

func rivalryConfig() RivalryConfig {
	return RivalryConfig{
		WindowYears:     5,
		CloseGameMargin: 10,
		Saturation:      3.0,
		CacheTTL:        time.Hour,
	}
}

func TestRivalryScoreZeroForNoHistory(t *testing.T) {
	calc := NewRivalryCalculator(&fakeHeadToHead{}, nil, rivalryConfig())

	score, err := calc.Score(context.Background(), 1610612747, 1610612738, "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score, "No shared history must score exactly zero")
}

func TestRivalryScoreBounds(t *testing.T) {
	// Pathologically heavy history still stays inside [0, 1)
	manyMargins := make([]float64, 50)
	for i := range manyMargins {
		manyMargins[i] = 2
	}
	src := &fakeHeadToHead{
		regular:  meetingRows(manyMargins...),
		playoffs: meetingRows(manyMargins...),
	}
	calc := NewRivalryCalculator(src, nil, rivalryConfig())

	score, err := calc.Score(context.Background(), 1, 2, "2024-03-15")
	require.NoError(t, err)
	assert.Greater(t, score, 0.0)
	assert.Less(t, score, 1.0)
}

func TestRivalryScoreWeightsAndValue(t *testing.T) {
	// 2 playoff meetings, 3 narrow of 5 regular meetings (margin <= 10)
	src := &fakeHeadToHead{
		regular:  meetingRows(4, -9, 10, 25, -18),
		playoffs: meetingRows(12, -3),
	}
	calc := NewRivalryCalculator(src, nil, rivalryConfig())

	score, err := calc.Score(context.Background(), 1, 2, "2024-03-15")
	require.NoError(t, err)

	weighted := 0.7*2 + 0.3*3
	assert.InDelta(t, 1-math.Exp(-weighted/3.0), score, 1e-9)
}

func TestRivalryScoreMonotone(t *testing.T) {
	ctx := context.Background()
	cfg := rivalryConfig()

	score := func(playoffs, narrow int) float64 {
		var pm, nm []float64
		for i := 0; i < playoffs; i++ {
			pm = append(pm, 3)
		}
		for i := 0; i < narrow; i++ {
			nm = append(nm, 3)
		}
		calc := NewRivalryCalculator(&fakeHeadToHead{
			regular:  meetingRows(nm...),
			playoffs: meetingRows(pm...),
		}, nil, cfg)
		s, err := calc.Score(ctx, 1, 2, "2024-03-15")
		require.NoError(t, err)
		return s
	}

	assert.Less(t, score(0, 1), score(0, 2), "More narrow meetings must not lower the score")
	assert.Less(t, score(0, 2), score(1, 2), "Added playoff meeting must raise the score")
	assert.Greater(t, score(1, 0), score(0, 1), "A playoff meeting outweighs a narrow regular meeting")
}

func TestRivalryScoreDeterministic(t *testing.T) {
	src := &fakeHeadToHead{regular: meetingRows(5, 8), playoffs: meetingRows(2)}
	calc := NewRivalryCalculator(src, nil, rivalryConfig())

	first, err := calc.Score(context.Background(), 1, 2, "2024-03-15")
	require.NoError(t, err)
	second, err := calc.Score(context.Background(), 1, 2, "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRivalryWindowExcludesEventDate(t *testing.T) {
	src := &fakeHeadToHead{}
	calc := NewRivalryCalculator(src, nil, rivalryConfig())

	_, err := calc.Score(context.Background(), 1, 2, "2024-03-15")
	require.NoError(t, err)

	assert.Equal(t, "2019-03-15", src.gotFrom, "Window should reach back WindowYears")
	assert.Equal(t, "2024-03-14", src.gotTo, "The event itself must not count toward its own rivalry")
}

func TestRivalryMissingMarginNotNarrow(t *testing.T) {
	// Zero plus-minus marks a missing margin, not a drawn game
	src := &fakeHeadToHead{regular: meetingRows(0, 0)}
	calc := NewRivalryCalculator(src, nil, rivalryConfig())

	score, err := calc.Score(context.Background(), 1, 2, "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestRivalryUsesCache(t *testing.T) {
	src := &fakeHeadToHead{regular: meetingRows(4), playoffs: meetingRows(2)}
	mem := cache.NewMemoryCache(time.Minute, time.Minute)
	calc := NewRivalryCalculator(src, mem, rivalryConfig())

	ctx := context.Background()
	first, err := calc.Score(ctx, 1, 2, "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "One fetch per season type")

	// Second scoring of the same pairing is served from cache,
	// including the swapped home/away orientation.
	second, err := calc.Score(ctx, 2, 1, "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls, "Cached pairing should not refetch")
	assert.Equal(t, first, second)
}

func TestRivalryPropagatesSourceError(t *testing.T) {
	src := &fakeHeadToHead{err: &client.CollectionError{Endpoint: "leaguegamefinder", Attempts: 4, Err: errors.New("exhausted")}}
	calc := NewRivalryCalculator(src, nil, rivalryConfig())

	_, err := calc.Score(context.Background(), 1, 2, "2024-03-15")
	require.Error(t, err)

	var collErr *client.CollectionError
	assert.ErrorAs(t, err, &collErr)
}

func TestRivalryRejectsBadDate(t *testing.T) {
	calc := NewRivalryCalculator(&fakeHeadToHead{}, nil, rivalryConfig())
	_, err := calc.Score(context.Background(), 1, 2, "15.03.2024")
	assert.Error(t, err)
}
