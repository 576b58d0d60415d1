package qalens

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// NormalizeStats describes what normalization made of a table.
type NormalizeStats struct {
	Rows          int           `json:"rows"`
	Scores        ClassifyStats `json:"scores"`
	BadTimestamps int           `json:"badTimestamps"`
	MissingExpert int           `json:"missingExpert"`
}

// NormalizeResult is the record set derived from one table.
type NormalizeResult struct {
	TableID   string             `json:"tableId"`
	TableName string             `json:"tableName"`
	Records   []NormalizedRecord `json:"records"`
	Stats     NormalizeStats     `json:"stats"`
	Gaps      []Role             `json:"gaps,omitempty"`
	Conflicts []LabelConflict    `json:"conflicts,omitempty"`
}

// Normalize resolves every row of t through mapping and classifies its score under q.
// It returns a *MappingGapError when a required role has no column.
func Normalize(t *RawTable, mapping ColumnMapping, q QualityTypeConfig) (NormalizeResult, error) {
	res := NormalizeResult{TableID: t.ID(), TableName: t.Name(), Gaps: mapping.Gaps()}
	if missing := mapping.MissingRequired(); len(missing) > 0 {
		return res, &MappingGapError{TableID: t.ID(), TableName: t.Name(), Missing: missing}
	}
	res.Conflicts = q.Conflicts()
	res.Records = make([]NormalizedRecord, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		rec := NormalizedRecord{
			TableID:   t.ID(),
			TableName: t.Name(),
			RowIndex:  i,
			ExpertID:  cellText(t, i, mapping.Column(RoleExpertID)),
			Reviewer:  cellText(t, i, mapping.Column(RoleReviewer)),
			Category:  cellText(t, i, mapping.Column(RoleCategory)),
			TaskID:    cellText(t, i, mapping.Column(RoleTaskID)),
		}
		score := t.Cell(i, mapping.Column(RoleScore))
		rec.RawScore = cleanCell(score.String())
		c := Classify(score, q)
		rec.Outcome, rec.Reason = c.Outcome, c.Reason
		res.Stats.Scores.Add(c)

		if col := mapping.Column(RoleTimestamp); col != "" {
			if raw := t.Cell(i, col); !raw.IsEmpty() {
				if ts, ok := ParseTimestamp(raw); ok {
					rec.Timestamp = &ts
				} else {
					res.Stats.BadTimestamps++
				}
			}
		}
		if rec.ExpertID == "" {
			res.Stats.MissingExpert++
		}
		res.Records = append(res.Records, rec)
	}
	res.Stats.Rows = len(res.Records)
	return res, nil
}

func cellText(t *RawTable, i int, col string) string {
	if col == "" {
		return ""
	}
	return NormalizeText(t.Cell(i, col).String())
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	"Jan 2, 2006",
}

// Spreadsheet serial dates count days from 1899-12-30.
var spreadsheetEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseTimestamp reads a timestamp cell. It understands common text layouts, Unix seconds
// and spreadsheet serial dates. Results are in UTC.
func ParseTimestamp(v Value) (time.Time, bool) {
	if v.Kind == KindNumber {
		return numericTimestamp(v.Number)
	}
	s := cleanCell(v.Text)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return numericTimestamp(n)
	}
	return time.Time{}, false
}

func numericTimestamp(n float64) (time.Time, bool) {
	switch {
	case n >= 20000 && n <= 80000:
		days, frac := math.Modf(n)
		ts := spreadsheetEpoch.AddDate(0, 0, int(days)).Add(time.Duration(frac * float64(24*time.Hour)))
		return ts.Round(time.Second), true
	case n >= 1e9 && n < 1e11:
		return time.Unix(int64(n), 0).UTC(), true
	case n >= 1e12 && n < 1e14:
		return time.UnixMilli(int64(n)).UTC(), true
	}
	return time.Time{}, false
}
