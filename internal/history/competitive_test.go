package history

import (
	"context"
	"errors"
	"testing"

	"nbapred/pipeline/internal/client"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayByPlay struct {
	samples []client.WinProbSample
	err     error
}

func (f *fakePlayByPlay) WinProbability(ctx context.Context, gameID string) ([]client.WinProbSample, error) {
	return f.samples, f.err
}

func sample(secondsRemaining float64, margin int) client.WinProbSample {
	return client.WinProbSample{SecondsRemaining: secondsRemaining, HomeScoreMargin: margin}
}

func TestCompetitiveDurationNilWithoutData(t *testing.T) {
	calc := NewCompetitiveCalculator(&fakePlayByPlay{}, 5)

	dur, err := calc.Duration(context.Background(), "0022300800")
	require.NoError(t, err)
	assert.Nil(t, dur, "Unknown duration must be nil, never zero")
}

func TestCompetitiveDurationAllInside(t *testing.T) {
	calc := NewCompetitiveCalculator(&fakePlayByPlay{samples: []client.WinProbSample{
		sample(2880, 0),
		sample(1440, 3),
		sample(0, -4),
	}}, 5)

	dur, err := calc.Duration(context.Background(), "0022300800")
	require.NoError(t, err)
	require.NotNil(t, dur)
	assert.InDelta(t, 2880.0, *dur, 1e-9, "Margin never left the band")
}

func TestCompetitiveDurationAllOutside(t *testing.T) {
	calc := NewCompetitiveCalculator(&fakePlayByPlay{samples: []client.WinProbSample{
		sample(2880, 12),
		sample(1440, 20),
		sample(0, 15),
	}}, 5)

	dur, err := calc.Duration(context.Background(), "0022300800")
	require.NoError(t, err)
	require.NotNil(t, dur)
	assert.Equal(t, 0.0, *dur, "A blowout with data known has duration zero, not nil")
}

func TestCompetitiveSecondsInterpolatesBoundaryCrossing(t *testing.T) {
	// Margin moves 0 -> 10 over a 10 second segment; it crosses the
	// +5 boundary halfway through.
	got := CompetitiveSeconds([]client.WinProbSample{
		sample(100, 0),
		sample(90, 10),
	}, 5)
	assert.InDelta(t, 5.0, got, 1e-9)
}

func TestCompetitiveSecondsPassThrough(t *testing.T) {
	// Margin swings -20 -> +20 across one segment: only the interior
	// quarter of the segment is inside the band.
	got := CompetitiveSeconds([]client.WinProbSample{
		sample(100, -20),
		sample(90, 20),
	}, 5)
	assert.InDelta(t, 2.5, got, 1e-9)
}

func TestCompetitiveSecondsBoundaryInclusive(t *testing.T) {
	got := CompetitiveSeconds([]client.WinProbSample{
		sample(100, 5),
		sample(90, 5),
	}, 5)
	assert.InDelta(t, 10.0, got, 1e-9, "A margin sitting exactly on the band edge counts")
}

func TestCompetitiveSecondsFractionalTotal(t *testing.T) {
	// 1800s flat inside, then a 95s segment leaving the band at its
	// midpoint margin: 1800 + 47.5
	got := CompetitiveSeconds([]client.WinProbSample{
		sample(2000, 0),
		sample(200, 0),
		sample(105, 10),
	}, 5)
	assert.InDelta(t, 1847.5, got, 1e-9)
}

func TestCompetitiveSecondsOrderIndependent(t *testing.T) {
	ordered := []client.WinProbSample{
		sample(2000, 0),
		sample(200, 0),
		sample(105, 10),
	}
	shuffled := []client.WinProbSample{
		sample(105, 10),
		sample(2000, 0),
		sample(200, 0),
	}
	assert.Equal(t, CompetitiveSeconds(ordered, 5), CompetitiveSeconds(shuffled, 5))
}

func TestCompetitiveSecondsDuplicateTimestamps(t *testing.T) {
	// Multiple events in the same second contribute no elapsed time
	got := CompetitiveSeconds([]client.WinProbSample{
		sample(100, 0),
		sample(100, 2),
		sample(90, 0),
	}, 5)
	assert.InDelta(t, 10.0, got, 1e-9)
}

func TestCompetitiveDurationPropagatesSourceError(t *testing.T) {
	calc := NewCompetitiveCalculator(&fakePlayByPlay{
		err: &client.CollectionError{Endpoint: "winprobabilitypbp", Attempts: 4, Err: errors.New("exhausted")},
	}, 5)

	_, err := calc.Duration(context.Background(), "0022300800")
	require.Error(t, err)

	var collErr *client.CollectionError
	assert.ErrorAs(t, err, &collErr)
}
