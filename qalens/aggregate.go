package qalens

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Granularity is the width of a trend bucket.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// TierMode selects how tier cutoffs are read.
type TierMode string

const (
	// TierFixed compares each expert's quality score with the cutoffs directly.
	TierFixed TierMode = "fixed"
	// TierPercentile compares each expert's percentile rank among eligible experts.
	TierPercentile TierMode = "percentile"
)

const (
	tierInsufficient = "insufficient-data"
	uncategorized    = "(uncategorized)"
	unknownExpert    = "(unknown)"
)

// Tier is a named band; an expert lands in the first tier whose cutoff it reaches.
type Tier struct {
	Name   string  `json:"name" yaml:"name"`
	Cutoff float64 `json:"cutoff" yaml:"cutoff"`
}

// Tiering configures tier assignment.
type Tiering struct {
	Mode       TierMode `json:"mode" yaml:"mode"`
	Tiers      []Tier   `json:"tiers" yaml:"tiers"`
	MinRecords int      `json:"minRecords" yaml:"min_records"`
}

// AggregateConfig configures the summary tables.
type AggregateConfig struct {
	Granularity Granularity `json:"granularity" yaml:"granularity"`
	Tiering     Tiering     `json:"tiering" yaml:"tiering"`
}

// DefaultAggregateConfig returns weekly trends with fixed tiers.
func DefaultAggregateConfig() AggregateConfig {
	var c AggregateConfig
	c.ApplyDefaults()
	return c
}

// ApplyDefaults populates zero values.
func (c *AggregateConfig) ApplyDefaults() {
	if c.Granularity == "" {
		c.Granularity = GranularityWeek
	}
	if c.Tiering.Mode == "" {
		c.Tiering.Mode = TierFixed
	}
	if len(c.Tiering.Tiers) == 0 {
		c.Tiering.Tiers = []Tier{
			{Name: "top", Cutoff: 0.9},
			{Name: "solid", Cutoff: 0.75},
			{Name: "watch", Cutoff: 0.5},
			{Name: "at-risk", Cutoff: 0},
		}
	}
	if c.Tiering.MinRecords <= 0 {
		c.Tiering.MinRecords = 1
	}
}

// Validate rejects unknown granularities and tier modes.
func (c AggregateConfig) Validate() error {
	switch c.Granularity {
	case GranularityDay, GranularityWeek, GranularityMonth:
	default:
		return fmt.Errorf("unknown granularity %q", c.Granularity)
	}
	switch c.Tiering.Mode {
	case TierFixed, TierPercentile:
	default:
		return fmt.Errorf("unknown tier mode %q", c.Tiering.Mode)
	}
	return nil
}

// Distribution counts outcomes and derives rates over scored items.
type Distribution struct {
	Total        int     `json:"total"`
	Pass         int     `json:"pass"`
	Minor        int     `json:"minor"`
	Fail         int     `json:"fail"`
	Unscored     int     `json:"unscored"`
	PassRate     float64 `json:"passRate"`
	QualityScore float64 `json:"qualityScore"`
}

// Scored returns how many items have a pass, minor or fail outcome.
func (d Distribution) Scored() int {
	return d.Pass + d.Minor + d.Fail
}

func (d *Distribution) add(o Outcome) {
	d.Total++
	switch o {
	case OutcomePass:
		d.Pass++
	case OutcomeMinor:
		d.Minor++
	case OutcomeFail:
		d.Fail++
	default:
		d.Unscored++
	}
}

func (d *Distribution) finish() {
	scored := d.Scored()
	if scored == 0 {
		return
	}
	d.PassRate = float64(d.Pass) / float64(scored)
	d.QualityScore = (float64(d.Pass) + 0.5*float64(d.Minor)) / float64(scored)
}

// ExpertSummary is the per-expert row of the summary tables.
type ExpertSummary struct {
	ExpertID string `json:"expertId"`
	Distribution
	ConsensusAccuracy *float64 `json:"consensusAccuracy"`
	Percentile        *float64 `json:"percentile,omitempty"`
	Tier              string   `json:"tier"`
}

// CategorySummary is the outcome distribution of one category.
type CategorySummary struct {
	Category string `json:"category"`
	Distribution
}

// TrendBucket is the outcome distribution of one time bucket.
type TrendBucket struct {
	Start time.Time `json:"start"`
	Distribution
}

// TrendSummary holds buckets in chronological order plus the count of undated records.
type TrendSummary struct {
	Granularity Granularity   `json:"granularity"`
	Buckets     []TrendBucket `json:"buckets"`
	Undated     int           `json:"undated"`
}

// Aggregates bundles every summary table.
type Aggregates struct {
	Overall    Distribution      `json:"overall"`
	Experts    []ExpertSummary   `json:"experts"`
	Categories []CategorySummary `json:"categories"`
	Trend      TrendSummary      `json:"trend"`
}

// Aggregate computes all summary tables. consensus may be nil.
func Aggregate(records []NormalizedRecord, consensus *ConsensusReport, cfg AggregateConfig) Aggregates {
	cfg.ApplyDefaults()
	var overall Distribution
	for _, rec := range records {
		overall.add(rec.Outcome)
	}
	overall.finish()
	return Aggregates{
		Overall:    overall,
		Experts:    SummarizeExperts(records, consensus, cfg),
		Categories: SummarizeCategories(records),
		Trend:      SummarizeTrend(records, cfg.Granularity),
	}
}

// SummarizeExperts returns one row per expert id, sorted by id. Ids that differ only in case
// or surrounding space are one expert, shown with the first spelling seen. Consensus accuracy
// comes from the report's per-expert table.
func SummarizeExperts(records []NormalizedRecord, consensus *ConsensusReport, cfg AggregateConfig) []ExpertSummary {
	cfg.ApplyDefaults()
	byExpert := make(map[string]*ExpertSummary)
	for _, rec := range records {
		id := strings.TrimSpace(rec.ExpertID)
		key := NormalizeKey(id)
		if key == "" {
			id, key = unknownExpert, unknownExpert
		}
		s, ok := byExpert[key]
		if !ok {
			s = &ExpertSummary{ExpertID: id}
			byExpert[key] = s
		}
		s.add(rec.Outcome)
	}
	out := make([]ExpertSummary, 0, len(byExpert))
	for _, s := range byExpert {
		s.finish()
		if consensus != nil {
			if ra, ok := consensus.Expert(s.ExpertID); ok && ra.Accuracy != nil {
				acc := *ra.Accuracy
				s.ConsensusAccuracy = &acc
			}
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpertID < out[j].ExpertID })
	assignTiers(out, cfg.Tiering)
	return out
}

func assignTiers(experts []ExpertSummary, tiering Tiering) {
	tiers := append([]Tier(nil), tiering.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Cutoff > tiers[j].Cutoff })

	var eligible []float64
	for _, e := range experts {
		if e.Scored() >= tiering.MinRecords {
			eligible = append(eligible, e.QualityScore)
		}
	}
	for i := range experts {
		e := &experts[i]
		if e.Scored() < tiering.MinRecords {
			e.Tier = tierInsufficient
			continue
		}
		metric := e.QualityScore
		if tiering.Mode == TierPercentile {
			p := percentileRank(eligible, e.QualityScore)
			e.Percentile = &p
			metric = p
		}
		e.Tier = tierFor(tiers, metric)
	}
}

// percentileRank is the share of other values strictly below v; the best value ranks 1.
func percentileRank(values []float64, v float64) float64 {
	if len(values) <= 1 {
		return 1
	}
	below := 0
	for _, x := range values {
		if x < v {
			below++
		}
	}
	return float64(below) / float64(len(values)-1)
}

func tierFor(tiers []Tier, metric float64) string {
	for _, t := range tiers {
		if metric >= t.Cutoff {
			return t.Name
		}
	}
	if len(tiers) > 0 {
		return tiers[len(tiers)-1].Name
	}
	return ""
}

// SummarizeCategories returns one row per category, sorted by name.
func SummarizeCategories(records []NormalizedRecord) []CategorySummary {
	byCategory := make(map[string]*CategorySummary)
	for _, rec := range records {
		name := rec.Category
		if name == "" {
			name = uncategorized
		}
		s, ok := byCategory[name]
		if !ok {
			s = &CategorySummary{Category: name}
			byCategory[name] = s
		}
		s.add(rec.Outcome)
	}
	out := make([]CategorySummary, 0, len(byCategory))
	for _, s := range byCategory {
		s.finish()
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// SummarizeTrend buckets records by truncated timestamp.
func SummarizeTrend(records []NormalizedRecord, g Granularity) TrendSummary {
	if g == "" {
		g = GranularityWeek
	}
	summary := TrendSummary{Granularity: g, Buckets: []TrendBucket{}}
	byStart := make(map[time.Time]*TrendBucket)
	for _, rec := range records {
		if rec.Timestamp == nil {
			summary.Undated++
			continue
		}
		start := TruncateTime(*rec.Timestamp, g)
		b, ok := byStart[start]
		if !ok {
			b = &TrendBucket{Start: start}
			byStart[start] = b
		}
		b.add(rec.Outcome)
	}
	for _, b := range byStart {
		b.finish()
		summary.Buckets = append(summary.Buckets, *b)
	}
	sort.Slice(summary.Buckets, func(i, j int) bool {
		return summary.Buckets[i].Start.Before(summary.Buckets[j].Start)
	})
	return summary
}

// TruncateTime returns the UTC start of the bucket containing t. Weeks start on Monday.
func TruncateTime(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case GranularityWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return day
	}
}
