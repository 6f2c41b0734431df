package classify

import "strings"

// SubmitResponse is the body of POST /classify. Exactly one of Predictions
// (synchronous path) or Key (job accepted) is expected.
type SubmitResponse struct {
	Message     string          `json:"message,omitempty"`
	Predictions []PredictionRow `json:"predictions,omitempty"`
	Key         string          `json:"key,omitempty"`
}

// StatusResponse is the body of GET /status/{key}. Batches is the cumulative
// history so far, not a delta.
type StatusResponse struct {
	Status      string      `json:"status"`
	Batches     []WireBatch `json:"batches"`
	FinalResult *WireFinal  `json:"final_result,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// WireBatch is a batch as the service reports it.
type WireBatch struct {
	HighestClass string             `json:"highest_class"`
	Means        map[string]float64 `json:"means"`
}

// WireFinal is the final verdict as the service reports it.
type WireFinal struct {
	FinalActivity string `json:"final_activity"`
}

// Decode turns a wire batch into a Batch at the given arrival position.
// When the service omits highest_class the dominant label is derived from means.
func (w WireBatch) Decode(labels LabelSet, index int) (Batch, error) {
	var (
		label Label
		err   error
	)
	if strings.TrimSpace(w.HighestClass) == "" {
		label, err = labels.Dominant(w.Means)
	} else {
		label, err = labels.Parse(w.HighestClass)
	}
	if err != nil {
		return Batch{}, err
	}

	measures := make(map[string]float64, len(w.Means))
	for k, v := range w.Means {
		measures[k] = v
	}
	return Batch{SequenceIndex: index, DominantLabel: label, Measures: measures}, nil
}

// Decode validates the final activity against the label set.
func (w WireFinal) Decode(labels LabelSet) (FinalResult, error) {
	label, err := labels.Parse(w.FinalActivity)
	if err != nil {
		return FinalResult{}, err
	}
	return FinalResult{FinalLabel: label}, nil
}
