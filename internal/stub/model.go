package stub

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/fpang/seetrue/internal/classify"
	"github.com/fpang/seetrue/internal/submit"
)

// Column names read from uploaded files.
const (
	colTimestamp = "Timestamp"
	colGazeX     = "Gazepoint X"
	colGazeY     = "Gazepoint Y"
	colEyeEvent  = "Eye event"
)

// walkingDistance is the gaze jump, in screen pixels, treated as full motion.
const walkingDistance = 120.0

var errNoSamples = errors.New("the uploaded CSV file is empty or invalid")

// sample is one usable row of an eye-tracking export.
type sample struct {
	timestamp float64
	x, y      float64
	event     string
}

// parseSamples reads the rows of an eye-tracking export. Rows with missing,
// non-numeric or non-finite gaze values are skipped.
func parseSamples(data []byte) ([]sample, error) {
	r := submit.NewCSVReader(data)
	header, err := r.Read()
	if err != nil {
		return nil, errNoSamples
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range []string{colTimestamp, colGazeX, colGazeY, colEyeEvent} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	var out []sample
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}
		s, ok := toSample(rec, idx)
		if ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, errNoSamples
	}
	return out, nil
}

func toSample(rec []string, idx map[string]int) (sample, bool) {
	field := func(col string) string {
		i := idx[col]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	ts, ok1 := parseFinite(field(colTimestamp))
	x, ok2 := parseFinite(field(colGazeX))
	y, ok3 := parseFinite(field(colGazeY))
	if !ok1 || !ok2 || !ok3 {
		return sample{}, false
	}
	event := field(colEyeEvent)
	if event == "" {
		event = "NA"
	}
	return sample{timestamp: ts, x: x, y: y, event: event}, true
}

// parseFinite parses a numeric cell. NaN and Inf are rejected along with
// non-numbers, since JSON cannot carry them.
func parseFinite(cell string) (float64, bool) {
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// score rates one sample against the default labels. Large gaze jumps look
// like walking, fixations like reading and saccades like playing.
func score(s sample, distance float64) map[string]float64 {
	motion := math.Min(distance/walkingDistance, 1)
	scores := map[string]float64{
		string(classify.LabelWalking): 0.1 + motion,
		string(classify.LabelReading): 0.1 + 0.3*(1-motion),
		string(classify.LabelPlaying): 0.1,
	}
	switch strings.ToLower(s.event) {
	case "fixation":
		scores[string(classify.LabelReading)] += 0.6
	case "saccade":
		scores[string(classify.LabelPlaying)] += 0.6
	}

	var total float64
	for _, v := range scores {
		total += v
	}
	for k, v := range scores {
		scores[k] = round(v / total)
	}
	return scores
}

func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// predict scores every sample in order.
func predict(samples []sample, labels classify.LabelSet) []classify.PredictionRow {
	names := labels.Names()
	rows := make([]classify.PredictionRow, 0, len(samples))
	for i, s := range samples {
		var dist float64
		row := classify.PredictionRow{LabelClasses: names}
		if i > 0 {
			prev := samples[i-1]
			dist = round(math.Hypot(s.x-prev.x, s.y-prev.y))
			d := dist
			row.DistanceToPrevious = &d
		}
		scores := score(s, dist)
		row.Predictions = make([]float64, len(names))
		for j, n := range names {
			row.Predictions[j] = scores[n]
		}
		rows = append(rows, row)
	}
	return rows
}

// batchMeans averages the scores of a run of prediction rows.
func batchMeans(rows []classify.PredictionRow) map[string]float64 {
	means := make(map[string]float64)
	if len(rows) == 0 {
		return means
	}
	for _, r := range rows {
		for j, n := range r.LabelClasses {
			means[n] += r.Predictions[j]
		}
	}
	for k, v := range means {
		means[k] = round(v / float64(len(rows)))
	}
	return means
}
