package qalens

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// UnscoredReason explains why a cell produced no outcome.
type UnscoredReason string

const (
	ReasonEmpty        UnscoredReason = "empty"
	ReasonUnparseable  UnscoredReason = "unparseable"
	ReasonUnknownLabel UnscoredReason = "unknown_label"
)

// Classification is the outcome of one cell plus the reason when it is unscored.
type Classification struct {
	Outcome Outcome        `json:"outcome"`
	Reason  UnscoredReason `json:"reason,omitempty"`
}

func unscored(reason UnscoredReason) Classification {
	return Classification{Outcome: OutcomeUnscored, Reason: reason}
}

// Classify maps a raw cell to pass, minor, fail or unscored under q.
//
// Numeric values are compared against the thresholds without clamping, so values outside
// [MinValue, MaxValue] still classify. Categorical labels are tested against the fail,
// minor and pass sets in that order.
func Classify(v Value, q QualityTypeConfig) Classification {
	if v.IsEmpty() {
		return unscored(ReasonEmpty)
	}
	if q.IsNumeric {
		n, ok := numericValue(v)
		if !ok {
			return unscored(ReasonUnparseable)
		}
		return Classification{Outcome: classifyNumber(n, q)}
	}
	label := NormalizeLabel(v.String())
	if label == "" {
		return unscored(ReasonEmpty)
	}
	switch {
	case containsLabel(q.FailLabels, label):
		return Classification{Outcome: OutcomeFail}
	case containsLabel(q.MinorLabels, label):
		return Classification{Outcome: OutcomeMinor}
	case containsLabel(q.PassLabels, label):
		return Classification{Outcome: OutcomePass}
	}
	return unscored(ReasonUnknownLabel)
}

func classifyNumber(n float64, q QualityTypeConfig) Outcome {
	switch {
	case n < q.FailThreshold:
		return OutcomeFail
	case n < q.MinorThreshold:
		return OutcomeMinor
	default:
		return OutcomePass
	}
}

// numericValue reads a score. NaN and infinities are unparseable, as is anything
// strconv rejects. A single comma is a thousands separator when exactly three digits follow
// it, otherwise a decimal comma.
func numericValue(v Value) (float64, bool) {
	if v.Kind == KindNumber {
		return finite(v.Number)
	}
	s := strings.TrimSpace(NormalizeText(v.Text))
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if s == "" {
		return 0, false
	}
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		if thousandsComma.MatchString(s) {
			s = strings.Replace(s, ",", "", 1)
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return finite(n)
}

var thousandsComma = regexp.MustCompile(`^[+-]?[0-9]{1,3},[0-9]{3}$`)

func finite(n float64) (float64, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if NormalizeLabel(l) == label {
			return true
		}
	}
	return false
}

// ClassifyStats counts outcomes. Unscored cells are also split by reason so that data
// problems are never conflated with failed reviews.
type ClassifyStats struct {
	Total        int `json:"total"`
	Pass         int `json:"pass"`
	Minor        int `json:"minor"`
	Fail         int `json:"fail"`
	Unscored     int `json:"unscored"`
	Empty        int `json:"empty"`
	Unparseable  int `json:"unparseable"`
	UnknownLabel int `json:"unknownLabel"`
}

// Add records one classification.
func (s *ClassifyStats) Add(c Classification) {
	s.Total++
	switch c.Outcome {
	case OutcomePass:
		s.Pass++
	case OutcomeMinor:
		s.Minor++
	case OutcomeFail:
		s.Fail++
	default:
		s.Unscored++
		switch c.Reason {
		case ReasonEmpty:
			s.Empty++
		case ReasonUnparseable:
			s.Unparseable++
		case ReasonUnknownLabel:
			s.UnknownLabel++
		}
	}
}
