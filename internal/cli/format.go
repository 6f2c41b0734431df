package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fpang/seetrue/internal/classify"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// FormatMeasures renders scores as "walking=0.1200 reading=0.8000". Labels of
// the set come first in set order, any others follow alphabetically.
func FormatMeasures(measures map[string]float64, labels classify.LabelSet) string {
	var parts []string
	seen := make(map[string]bool, len(measures))
	for _, name := range labels.Names() {
		if v, ok := measures[name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%.4f", name, v))
			seen[name] = true
		}
	}
	var rest []string
	for name := range measures {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		parts = append(parts, fmt.Sprintf("%s=%.4f", name, measures[name]))
	}
	return strings.Join(parts, " ")
}

// FormatBatch renders one line of batch history.
func FormatBatch(b classify.Batch, labels classify.LabelSet) string {
	return fmt.Sprintf("  #%-3d %-8s %s", b.SequenceIndex, b.DominantLabel, FormatMeasures(b.Measures, labels))
}

// FormatPrediction renders one synchronous prediction row.
func FormatPrediction(i int, row classify.PredictionRow) string {
	scores := make([]string, 0, len(row.Predictions))
	for j, p := range row.Predictions {
		name := fmt.Sprintf("class%d", j)
		if j < len(row.LabelClasses) {
			name = row.LabelClasses[j]
		}
		scores = append(scores, fmt.Sprintf("%s=%.4f", name, p))
	}
	dist := "-"
	if row.DistanceToPrevious != nil {
		dist = fmt.Sprintf("%.2f", *row.DistanceToPrevious)
	}
	return fmt.Sprintf("  %4d  dist=%-8s %s", i, dist, strings.Join(scores, " "))
}
