package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"nbapred/pipeline/internal/models"
)

// CheckpointSchemaVersion is the envelope version this build writes
// and the only version it accepts. Checkpoints from a different
// version are rejected outright rather than risking silent field
// drift.
const CheckpointSchemaVersion = 1

// Metadata is the checkpoint envelope. It names the step that
// produced the payload so a later run can refuse input from the wrong
// stage of the pipeline.
type Metadata struct {
	SchemaVersion int       `json:"schema_version"`
	Step          Step      `json:"step"`
	Timestamp     time.Time `json:"timestamp"`
	TargetDate    string    `json:"target_date"`
	TotalItems    int       `json:"total_items"`
	InputSource   string    `json:"input_source,omitempty"`
	RunID         string    `json:"run_id"`
}

// rawCheckpoint defers payload decoding until the envelope has been
// checked, so a wrong-step file fails on metadata, not on a
// half-compatible payload.
type rawCheckpoint struct {
	Metadata    Metadata        `json:"metadata"`
	Games       json.RawMessage `json:"games"`
	Predictions json.RawMessage `json:"predictions"`
}

// WriteGames writes a collection checkpoint.
func WriteGames(path string, meta Metadata, games []models.Game) error {
	if games == nil {
		games = []models.Game{}
	}
	return writeCheckpoint(path, meta, "games", len(games), games)
}

// WriteFeatured writes a features checkpoint: the games payload with
// each item carrying its feature vector.
func WriteFeatured(path string, meta Metadata, events []models.FeaturedEvent) error {
	if events == nil {
		events = []models.FeaturedEvent{}
	}
	return writeCheckpoint(path, meta, "games", len(events), events)
}

// WritePredictions writes a prediction checkpoint.
func WritePredictions(path string, meta Metadata, preds []*models.Prediction) error {
	if preds == nil {
		preds = []*models.Prediction{}
	}
	return writeCheckpoint(path, meta, "predictions", len(preds), preds)
}

func writeCheckpoint(path string, meta Metadata, key string, count int, payload any) error {
	meta.SchemaVersion = CheckpointSchemaVersion
	meta.TotalItems = count
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}

	doc := map[string]any{
		"metadata": meta,
		key:        payload,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}

	return nil
}

// ReadGames loads a collection checkpoint.
func ReadGames(path string) ([]models.Game, Metadata, error) {
	cp, err := readCheckpoint(path, StepCollection)
	if err != nil {
		return nil, Metadata{}, err
	}

	var games []models.Game
	if err := decodePayload(path, "games", cp.Games, cp.Metadata.TotalItems, &games); err != nil {
		return nil, Metadata{}, err
	}
	return games, cp.Metadata, nil
}

// ReadFeatured loads a features checkpoint.
func ReadFeatured(path string) ([]models.FeaturedEvent, Metadata, error) {
	cp, err := readCheckpoint(path, StepFeatures)
	if err != nil {
		return nil, Metadata{}, err
	}

	var events []models.FeaturedEvent
	if err := decodePayload(path, "games", cp.Games, cp.Metadata.TotalItems, &events); err != nil {
		return nil, Metadata{}, err
	}
	return events, cp.Metadata, nil
}

// ReadPredictions loads a prediction checkpoint.
func ReadPredictions(path string) ([]*models.Prediction, Metadata, error) {
	cp, err := readCheckpoint(path, StepPrediction)
	if err != nil {
		return nil, Metadata{}, err
	}

	var preds []*models.Prediction
	if err := decodePayload(path, "predictions", cp.Predictions, cp.Metadata.TotalItems, &preds); err != nil {
		return nil, Metadata{}, err
	}
	return preds, cp.Metadata, nil
}

func readCheckpoint(path string, wantStep Step) (*rawCheckpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}

	var cp rawCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}

	if cp.Metadata.SchemaVersion != CheckpointSchemaVersion {
		return nil, fmt.Errorf("checkpoint %s has schema version %d, this build reads version %d",
			path, cp.Metadata.SchemaVersion, CheckpointSchemaVersion)
	}
	if cp.Metadata.Step != wantStep {
		return nil, fmt.Errorf("checkpoint %s was produced by step %q, want output of %q",
			path, cp.Metadata.Step, wantStep)
	}

	return &cp, nil
}

func decodePayload(path, key string, raw json.RawMessage, declared int, out any) error {
	if raw == nil {
		return fmt.Errorf("checkpoint %s has no %q payload", path, key)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %q payload of checkpoint %s: %w", key, path, err)
	}

	count := payloadLen(out)
	if count != declared {
		return fmt.Errorf("checkpoint %s declares %d items but carries %d", path, declared, count)
	}
	return nil
}

func payloadLen(out any) int {
	switch v := out.(type) {
	case *[]models.Game:
		return len(*v)
	case *[]models.FeaturedEvent:
		return len(*v)
	case *[]*models.Prediction:
		return len(*v)
	}
	return -1
}
