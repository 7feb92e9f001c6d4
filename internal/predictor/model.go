package predictor

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"nbapred/pipeline/internal/features"
	"nbapred/pipeline/internal/models"

	"github.com/rs/zerolog/log"
)

// ModelLoadError is fatal: without a usable model artifact no
// prediction in the run can proceed.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model from %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// Model is the opaque scoring capability. The pipeline only ever calls
// Predict; the artifact format behind it is an implementation detail.
type Model interface {
	Predict(fv models.FeatureVector) (float64, error)
	Version() string
	FeatureVersion() string
}

// ModelSource supplies a loaded model on demand.
type ModelSource interface {
	Load() (Model, error)
}

// Loader reads the model artifact from disk lazily, at most once per
// process. Both the loaded model and a load failure are sticky.
type Loader struct {
	path  string
	once  sync.Once
	model Model
	err   error
}

// NewLoader creates a loader for the artifact at path. Nothing is
// read until the first Load call.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load returns the model, reading the artifact on first use.
func (l *Loader) Load() (Model, error) {
	l.once.Do(func() {
		l.model, l.err = loadArtifact(l.path)
		if l.err == nil {
			log.Info().
				Str("path", l.path).
				Str("model_version", l.model.Version()).
				Str("feature_version", l.model.FeatureVersion()).
				Msg("Model loaded")
		}
	})
	if l.err != nil {
		return nil, l.err
	}
	return l.model, nil
}

// artifact is the on-disk model format: a linear scorer keyed by
// feature name, with provenance versions.
type artifact struct {
	ModelVersion   string             `json:"model_version"`
	FeatureVersion string             `json:"feature_version"`
	Intercept      float64            `json:"intercept"`
	Coefficients   map[string]float64 `json:"coefficients"`
}

func loadArtifact(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}

	var art artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("corrupt artifact: %w", err)}
	}

	if art.ModelVersion == "" {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("artifact missing model_version")}
	}
	if len(art.Coefficients) == 0 {
		return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("artifact has no coefficients")}
	}
	if art.FeatureVersion != features.SchemaVersion {
		return nil, &ModelLoadError{
			Path: path,
			Err:  fmt.Errorf("artifact feature_version %q incompatible with schema %q", art.FeatureVersion, features.SchemaVersion),
		}
	}

	known := make(map[string]bool, len(models.FeatureNames()))
	for _, name := range models.FeatureNames() {
		known[name] = true
	}
	for name := range art.Coefficients {
		if !known[name] {
			return nil, &ModelLoadError{Path: path, Err: fmt.Errorf("artifact references unknown feature %q", name)}
		}
	}

	return &linearModel{art: art}, nil
}

// linearModel scores a feature vector as intercept + sum of weighted
// feature values.
type linearModel struct {
	art artifact
}

func (m *linearModel) Predict(fv models.FeatureVector) (float64, error) {
	values := fv.Values()

	score := m.art.Intercept
	for name, coef := range m.art.Coefficients {
		score += coef * values[name]
	}
	return score, nil
}

func (m *linearModel) Version() string {
	return m.art.ModelVersion
}

func (m *linearModel) FeatureVersion() string {
	return m.art.FeatureVersion
}
