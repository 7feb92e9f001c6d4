package pipeline

import "fmt"

// Step is one stage of the pipeline. Steps run in a fixed order and
// every run executes a contiguous span of them.
type Step string

const (
	StepCollection Step = "collection"
	StepFeatures   Step = "features"
	StepPrediction Step = "prediction"
	StepStorage    Step = "storage"
)

var stepOrder = []Step{StepCollection, StepFeatures, StepPrediction, StepStorage}

// ParseStep validates a step name from the CLI.
func ParseStep(name string) (Step, error) {
	s := Step(name)
	if s.index() < 0 {
		return "", fmt.Errorf("unknown step %q (valid steps: collection, features, prediction, storage)", name)
	}
	return s, nil
}

func (s Step) index() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Span lists the steps a run from one bound through the other would
// execute, in order. Empty bounds default to collection and storage.
// Callers use it to decide which components a run actually needs.
func Span(from, until Step) ([]Step, error) {
	if from == "" {
		from = StepCollection
	}
	if until == "" {
		until = StepStorage
	}
	if from.index() < 0 {
		return nil, fmt.Errorf("unknown step %q", from)
	}
	if until.index() < 0 {
		return nil, fmt.Errorf("unknown step %q", until)
	}
	if from.index() > until.index() {
		return nil, fmt.Errorf("step %q cannot run after %q", from, until)
	}
	return span(from, until), nil
}

// span returns the steps from one step through another, inclusive.
// Both bounds must be valid and ordered.
func span(from, until Step) []Step {
	return stepOrder[from.index() : until.index()+1]
}
