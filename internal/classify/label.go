package classify

import (
	"fmt"
	"strings"
)

// Label is one activity class from a closed, agreed-upon set.
type Label string

const (
	LabelWalking Label = "walking"
	LabelReading Label = "reading"
	LabelPlaying Label = "playing"

	// LabelUnknown is the display sentinel used before any batch arrives.
	// It is never accepted from the service.
	LabelUnknown Label = "unknown"
)

func (l Label) String() string { return string(l) }

// DefaultLabels is the label set shared with the classification service.
var DefaultLabels = MustLabelSet(string(LabelWalking), string(LabelReading), string(LabelPlaying))

// LabelSet is a closed, ordered set of labels. Order matters only for
// breaking ties when a dominant label has to be derived from scores.
type LabelSet struct {
	labels []Label
	index  map[Label]int
}

// NewLabelSet builds a label set. Names are trimmed and lower-cased;
// empty names, duplicates and the "unknown" sentinel are rejected.
func NewLabelSet(names ...string) (LabelSet, error) {
	if len(names) == 0 {
		return LabelSet{}, fmt.Errorf("label set must not be empty")
	}
	s := LabelSet{
		labels: make([]Label, 0, len(names)),
		index:  make(map[Label]int, len(names)),
	}
	for _, n := range names {
		l := Label(strings.ToLower(strings.TrimSpace(n)))
		switch {
		case l == "":
			return LabelSet{}, fmt.Errorf("label set contains an empty name")
		case l == LabelUnknown:
			return LabelSet{}, fmt.Errorf("label %q is reserved", l)
		}
		if _, dup := s.index[l]; dup {
			return LabelSet{}, fmt.Errorf("duplicate label %q", l)
		}
		s.index[l] = len(s.labels)
		s.labels = append(s.labels, l)
	}
	return s, nil
}

// MustLabelSet is NewLabelSet that panics on error. Used for package-level defaults.
func MustLabelSet(names ...string) LabelSet {
	s, err := NewLabelSet(names...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of labels in the set.
func (s LabelSet) Len() int { return len(s.labels) }

// Labels returns a copy of the labels in set order.
func (s LabelSet) Labels() []Label {
	out := make([]Label, len(s.labels))
	copy(out, s.labels)
	return out
}

// Names returns the labels as plain strings in set order.
func (s LabelSet) Names() []string {
	out := make([]string, len(s.labels))
	for i, l := range s.labels {
		out[i] = string(l)
	}
	return out
}

// Contains reports whether l belongs to the set.
func (s LabelSet) Contains(l Label) bool {
	_, ok := s.index[l]
	return ok
}

// Parse maps a raw label reported by the service onto the set.
// Anything outside the set is an UnknownLabel error.
func (s LabelSet) Parse(raw string) (Label, error) {
	l := Label(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Contains(l) {
		return "", UnknownLabel(raw)
	}
	return l, nil
}

// Dominant returns the set label with the highest score in measures.
// Keys outside the set are ignored; ties go to the label listed first.
func (s LabelSet) Dominant(measures map[string]float64) (Label, error) {
	best := Label("")
	bestScore := 0.0
	for _, l := range s.labels {
		v, ok := measures[string(l)]
		if !ok {
			continue
		}
		if best == "" || v > bestScore {
			best, bestScore = l, v
		}
	}
	if best == "" {
		return "", Protocol("batch has no dominant label and no scores for any known label")
	}
	return best, nil
}
