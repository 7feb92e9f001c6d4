package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nbapred/pipeline/internal/client"
	"nbapred/pipeline/internal/features"
	"nbapred/pipeline/internal/models"
	"nbapred/pipeline/internal/predictor"
	"nbapred/pipeline/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCollector struct {
	games []models.Game
	err   error
	calls int
}

func (f *fakeCollector) Collect(ctx context.Context, date string) ([]models.Game, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.games, nil
}

type fakeStandings struct {
	err   error
	calls int
}

func (f *fakeStandings) ForDate(ctx context.Context, date string) (*models.Standings, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	s := models.NewStandings("2023-24")
	s.Teams[1610612747] = &models.TeamStanding{TeamID: 1610612747, Conference: "West", ConferenceRank: 3}
	s.Teams[1610612738] = &models.TeamStanding{TeamID: 1610612738, Conference: "East", ConferenceRank: 1}
	return s, nil
}

type fakeFeatures struct {
	errs  map[string]error
	calls int
}

func (f *fakeFeatures) Extract(ctx context.Context, game *models.Game, standings *models.Standings) (models.FeatureVector, error) {
	f.calls++
	if err := f.errs[game.GameID]; err != nil {
		return models.FeatureVector{}, err
	}
	return sampleVector(), nil
}

type fakePredictor struct {
	err   error
	errs  map[string]error
	calls int
}

func (f *fakePredictor) Predict(event models.FeaturedEvent) (*models.Prediction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if err := f.errs[event.GameID]; err != nil {
		return nil, err
	}
	return &models.Prediction{
		GameID:         event.GameID,
		Rating:         65.5,
		Classification: models.ClassGood,
		Probabilities:  map[string]float64{models.ClassGood: 0.545833, models.ClassBad: 0.454167},
		Confidence:     0.545833,
		ConfidenceTier: models.TierLow,
		Features:       event.Features,
		Game:           event.Game,
		PredictedAt:    time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC),
		ModelVersion:   "1.3.0",
		FeatureVersion: "1.0",
	}, nil
}

type fakeStore struct {
	outcomes  map[string]repository.SaveOutcome
	errs      map[string]error
	saved     []string
	overwrite []bool
}

func (f *fakeStore) Save(ctx context.Context, pred *models.Prediction, overwrite bool) (repository.SaveOutcome, error) {
	f.saved = append(f.saved, pred.GameID)
	f.overwrite = append(f.overwrite, overwrite)
	if err := f.errs[pred.GameID]; err != nil {
		return "", err
	}
	if outcome, ok := f.outcomes[pred.GameID]; ok {
		return outcome, nil
	}
	return repository.SaveInserted, nil
}

func sampleGame(gameID string) models.Game {
	return models.Game{
		GameID:               gameID,
		Date:                 "2024-03-15",
		SeasonID:             "22023",
		HomeTeamID:           1610612747,
		AwayTeamID:           1610612738,
		HomeTeamAbbreviation: "LAL",
		AwayTeamAbbreviation: "BOS",
		HomeTeamScore:        112,
		AwayTeamScore:        105,
		LeadChanges:          8,
		TimesTied:            5,
		GameStatus:           models.StatusFinal,
		Attendance:           18997,
	}
}

func sampleVector() models.FeatureVector {
	return models.FeatureVector{
		DiffRanks:          3,
		InterConference:    true,
		ScoresDiff:         7,
		PositionScore:      1.533333,
		CompetitiveSeconds: 1847.5,
		LeadChanges:        8,
		RivalryScore:       0.42,
	}
}

func fullComponents() (Components, *fakeCollector, *fakeStandings, *fakeFeatures, *fakePredictor, *fakeStore) {
	collector := &fakeCollector{games: []models.Game{sampleGame("001")}}
	standings := &fakeStandings{}
	engineer := &fakeFeatures{}
	adapter := &fakePredictor{}
	store := &fakeStore{}
	c := Components{
		Collector: collector,
		Standings: standings,
		Features:  engineer,
		Predictor: adapter,
		Store:     store,
	}
	return c, collector, standings, engineer, adapter, store
}

func TestRunRejectsInvertedStepSequence(t *testing.T) {
	c, collector, standings, engineer, adapter, store := fullComponents()
	runner := NewRunner(c)

	_, err := runner.Run(context.Background(), RunOptions{
		Date:  "2024-03-15",
		From:  StepPrediction,
		Until: StepCollection,
	})
	require.Error(t, err)

	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)

	assert.Zero(t, collector.calls, "No step may run after a sequence rejection")
	assert.Zero(t, standings.calls)
	assert.Zero(t, engineer.calls)
	assert.Zero(t, adapter.calls)
	assert.Empty(t, store.saved)
}

func TestRunConfigurationRejections(t *testing.T) {
	tests := []struct {
		name string
		opts RunOptions
	}{
		{"late start without input", RunOptions{Date: "2024-03-15", From: StepFeatures}},
		{"early stop without output", RunOptions{Date: "2024-03-15", Until: StepFeatures}},
		{"input with collection start", RunOptions{Date: "2024-03-15", InputPath: "in.json"}},
		{"missing date", RunOptions{}},
		{"malformed date", RunOptions{Date: "03/15/2024"}},
		{"unknown step", RunOptions{Date: "2024-03-15", From: Step("shipping"), InputPath: "in.json"}},
	}

	c, _, _, _, _, _ := fullComponents()
	runner := NewRunner(c)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.Run(context.Background(), tt.opts)
			require.Error(t, err)

			var confErr *ConfigurationError
			assert.ErrorAs(t, err, &confErr)
		})
	}
}

func TestRunRequiresComponentsForSpan(t *testing.T) {
	runner := NewRunner(Components{Collector: &fakeCollector{}})

	_, err := runner.Run(context.Background(), RunOptions{Date: "2024-03-15"})
	require.Error(t, err)

	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Contains(t, confErr.Reason, "features step")
}

func TestRunFullPipeline(t *testing.T) {
	c, collector, _, _, _, store := fullComponents()
	collector.games = []models.Game{sampleGame("001"), sampleGame("002")}
	runner := NewRunner(c)

	summary, err := runner.Run(context.Background(), RunOptions{Date: "2024-03-15"})
	require.NoError(t, err)

	assert.Equal(t, "2024-03-15", summary.TargetDate)
	assert.Equal(t, 2, summary.Found)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Saved)
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, []string{"001", "002"}, store.saved)
	assert.Equal(t, []bool{false, false}, store.overwrite)
}

func TestRunForcePassesOverwrite(t *testing.T) {
	c, _, _, _, _, store := fullComponents()
	runner := NewRunner(c)

	_, err := runner.Run(context.Background(), RunOptions{Date: "2024-03-15", Force: true})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, store.overwrite)
}

func TestRunAccumulatesPerEventFailures(t *testing.T) {
	c, collector, _, engineer, _, store := fullComponents()
	collector.games = []models.Game{sampleGame("001"), sampleGame("002"), sampleGame("003")}
	engineer.errs = map[string]error{
		"002": &features.ValidationError{GameID: "002", Field: "competitive_seconds", Reason: "no play-by-play data"},
	}
	store.errs = map[string]error{
		"003": &repository.StorageError{GameID: "003", Err: errors.New("connection reset")},
	}
	runner := NewRunner(c)

	summary, err := runner.Run(context.Background(), RunOptions{Date: "2024-03-15"})
	require.NoError(t, err, "Per-event failures must not fail the run")

	assert.Equal(t, 3, summary.Found)
	assert.Equal(t, 1, summary.Saved)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Processed)
	assert.Len(t, summary.Errors, 2)
}

func TestRunCollectionErrorSkipsEventInFeatures(t *testing.T) {
	c, collector, _, engineer, _, _ := fullComponents()
	collector.games = []models.Game{sampleGame("001"), sampleGame("002")}
	engineer.errs = map[string]error{
		"001": &client.CollectionError{Endpoint: "winprobabilitypbp", Attempts: 4, Err: errors.New("status 503")},
	}
	runner := NewRunner(c)

	summary, err := runner.Run(context.Background(), RunOptions{Date: "2024-03-15"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Saved)
}

func TestRunModelLoadFailureIsFatal(t *testing.T) {
	c, _, _, _, adapter, store := fullComponents()
	adapter.err = &predictor.ModelLoadError{Path: "/models/v1.json", Err: errors.New("no such file")}
	runner := NewRunner(c)

	summary, err := runner.Run(context.Background(), RunOptions{Date: "2024-03-15"})
	require.Error(t, err)

	var loadErr *predictor.ModelLoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.NotNil(t, summary, "Summary is still reported for a failed run")
	assert.Empty(t, store.saved, "Nothing may be stored after a model load failure")
}

func TestRunStandingsFailureIsFatal(t *testing.T) {
	c, _, standings, _, _, _ := fullComponents()
	standings.err = &client.CollectionError{Endpoint: "leaguestandingsv3", Attempts: 4, Err: errors.New("status 500")}
	runner := NewRunner(c)

	_, err := runner.Run(context.Background(), RunOptions{Date: "2024-03-15"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve standings")
}

func TestRunCollectionFailureIsFatal(t *testing.T) {
	c, collector, _, _, _, _ := fullComponents()
	collector.err = &client.CollectionError{Endpoint: "leaguegamefinder", Attempts: 4, Err: errors.New("status 503")}
	runner := NewRunner(c)

	_, err := runner.Run(context.Background(), RunOptions{Date: "2024-03-15"})
	require.Error(t, err)

	var collErr *client.CollectionError
	assert.ErrorAs(t, err, &collErr)
}

func TestRunEmptyDateWritesEmptyCheckpoint(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.json")
	collector := &fakeCollector{games: []models.Game{}}
	runner := NewRunner(Components{Collector: collector})

	summary, err := runner.Run(context.Background(), RunOptions{
		Date:       "2024-07-04",
		Until:      StepCollection,
		OutputPath: out,
	})
	require.NoError(t, err, "A date with no games is a valid terminal outcome")
	assert.Zero(t, summary.Found)
	assert.Zero(t, summary.Processed)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))

	var meta Metadata
	require.NoError(t, json.Unmarshal(doc["metadata"], &meta))
	assert.Equal(t, CheckpointSchemaVersion, meta.SchemaVersion)
	assert.Equal(t, StepCollection, meta.Step)
	assert.Equal(t, "2024-07-04", meta.TargetDate)
	assert.Zero(t, meta.TotalItems)
	assert.Equal(t, summary.RunID, meta.RunID)

	require.Contains(t, doc, "games")
	assert.JSONEq(t, `[]`, string(doc["games"]), "Empty batch serializes as an empty array, not null")
}

func TestRunFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "games.json")
	out := filepath.Join(dir, "featured.json")

	meta := Metadata{Step: StepCollection, TargetDate: "2024-03-15", RunID: "earlier-run"}
	require.NoError(t, WriteGames(in, meta, []models.Game{sampleGame("001")}))

	c, collector, _, engineer, _, _ := fullComponents()
	runner := NewRunner(c)

	summary, err := runner.Run(context.Background(), RunOptions{
		From:       StepFeatures,
		Until:      StepFeatures,
		InputPath:  in,
		OutputPath: out,
	})
	require.NoError(t, err)

	assert.Zero(t, collector.calls, "Starting from features must not collect")
	assert.Equal(t, 1, engineer.calls)
	assert.Equal(t, 1, summary.Found)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, "2024-03-15", summary.TargetDate, "Target date is adopted from the checkpoint")

	events, outMeta, err := ReadFeatured(out)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "001", events[0].GameID)
	assert.Equal(t, sampleVector(), events[0].Features)
	assert.Equal(t, sampleGame("001"), events[0].Game)
	assert.Equal(t, in, outMeta.InputSource)
	assert.Equal(t, "2024-03-15", outMeta.TargetDate)
}

func TestRunUntilStorageWithOutputWritesPredictionCheckpoint(t *testing.T) {
	out := filepath.Join(t.TempDir(), "preds.json")
	c, _, _, _, _, _ := fullComponents()
	runner := NewRunner(c)

	_, err := runner.Run(context.Background(), RunOptions{Date: "2024-03-15", OutputPath: out})
	require.NoError(t, err)

	preds, meta, err := ReadPredictions(out)
	require.NoError(t, err)
	assert.Equal(t, StepPrediction, meta.Step)
	require.Len(t, preds, 1)
	assert.Equal(t, "001", preds[0].GameID)
}

func TestParseStep(t *testing.T) {
	for _, name := range []string{"collection", "features", "prediction", "storage"} {
		step, err := ParseStep(name)
		require.NoError(t, err)
		assert.Equal(t, Step(name), step)
	}

	_, err := ParseStep("shipping")
	assert.Error(t, err)
}
