package qalens

import (
	"sort"
	"strings"
)

// GroupStatus tells whether an agreement statistic exists for a task.
type GroupStatus string

const (
	StatusScored             GroupStatus = "scored"
	StatusSingleReviewer     GroupStatus = "single-reviewer"
	StatusInsufficientScores GroupStatus = "insufficient-scores"
)

// ConsensusOptions selects who counts as the rater of a record.
type ConsensusOptions struct {
	// RaterRole forces the rater to RoleReviewer or RoleExpertID. Empty means the
	// reviewer when present, else the expert id.
	RaterRole Role `json:"raterRole,omitempty" yaml:"rater_role,omitempty"`
}

// ConsensusVote is one record's participation in a task group.
type ConsensusVote struct {
	Rater      string     `json:"rater"`
	ExpertID   string     `json:"expertId,omitempty"`
	Outcome    Outcome    `json:"outcome"`
	Outlier    bool       `json:"outlier"`
	Provenance Provenance `json:"provenance"`
}

// ConsensusGroup holds every record judged on one task.
type ConsensusGroup struct {
	TaskID    string          `json:"taskId"`
	Status    GroupStatus     `json:"status"`
	Votes     []ConsensusVote `json:"votes"`
	Scored    int             `json:"scored"`
	Modal     Outcome         `json:"modal,omitempty"`
	Agreement *float64        `json:"agreement"`
}

// RaterAgreement aggregates one rater (or one expert) across the tasks they took part in.
// Outliers counts scored tasks where at least one of their votes disagreed with the modal
// outcome, so OutlierRate never exceeds 1.
type RaterAgreement struct {
	Rater       string   `json:"rater"`
	Tasks       int      `json:"tasks"`
	ScoredTasks int      `json:"scoredTasks"`
	Outliers    int      `json:"outliers"`
	Accuracy    *float64 `json:"accuracy"`
	OutlierRate float64  `json:"outlierRate"`
}

// ConsensusReport is the result of AnalyzeConsensus.
type ConsensusReport struct {
	Groups         []ConsensusGroup `json:"groups"`
	Raters         []RaterAgreement `json:"raters"`
	Experts        []RaterAgreement `json:"experts"`
	ScoredGroups   int              `json:"scoredGroups"`
	SingleReviewer int              `json:"singleReviewer"`
	Insufficient   int              `json:"insufficient"`
	MissingTaskID  int              `json:"missingTaskId"`
}

// Rater returns the agreement entry for rater, if any.
func (r ConsensusReport) Rater(rater string) (RaterAgreement, bool) {
	i := sort.Search(len(r.Raters), func(i int) bool { return r.Raters[i].Rater >= rater })
	if i < len(r.Raters) && r.Raters[i].Rater == rater {
		return r.Raters[i], true
	}
	return RaterAgreement{}, false
}

// Expert returns the agreement entry of the expert whose records were judged, matching ids
// the way join keys match.
func (r ConsensusReport) Expert(expertID string) (RaterAgreement, bool) {
	key := NormalizeKey(expertID)
	if key == "" {
		return RaterAgreement{}, false
	}
	for _, e := range r.Experts {
		if NormalizeKey(e.Rater) == key {
			return e, true
		}
	}
	return RaterAgreement{}, false
}

// AnalyzeConsensus groups records by task id and measures agreement within each group.
// Groups appear in the order their task id is first seen.
func AnalyzeConsensus(records []NormalizedRecord, opts ConsensusOptions) ConsensusReport {
	var report ConsensusReport
	order := make([]string, 0)
	groups := make(map[string]*ConsensusGroup)
	for _, rec := range records {
		key := NormalizeKey(rec.TaskID)
		if key == "" {
			report.MissingTaskID++
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &ConsensusGroup{TaskID: rec.TaskID}
			groups[key] = g
			order = append(order, key)
		}
		g.Votes = append(g.Votes, ConsensusVote{
			Rater:      raterOf(rec, opts.RaterRole),
			ExpertID:   rec.ExpertID,
			Outcome:    rec.Outcome,
			Provenance: rec.Provenance(),
		})
	}

	raters := newAgreementTallies()
	experts := newAgreementTallies()
	report.Groups = make([]ConsensusGroup, 0, len(order))
	for _, key := range order {
		g := groups[key]
		scoreGroup(g)
		switch g.Status {
		case StatusScored:
			report.ScoredGroups++
		case StatusSingleReviewer:
			report.SingleReviewer++
		case StatusInsufficientScores:
			report.Insufficient++
		}
		raters.addGroup(g, func(v ConsensusVote) (string, string) { return v.Rater, v.Rater })
		experts.addGroup(g, func(v ConsensusVote) (string, string) { return NormalizeKey(v.ExpertID), strings.TrimSpace(v.ExpertID) })
		report.Groups = append(report.Groups, *g)
	}
	report.Raters = raters.list()
	report.Experts = experts.list()
	return report
}

type agreementTally struct {
	name                    string
	tasks, scored, outliers int
	sum                     float64
}

// agreementTallies accumulates per-participant agreement. Each participant is counted
// once per group, however many records they have in it.
type agreementTallies map[string]*agreementTally

func newAgreementTallies() agreementTallies {
	return make(agreementTallies)
}

func (a agreementTallies) addGroup(g *ConsensusGroup, who func(ConsensusVote) (key, name string)) {
	type presence struct{ scored, outlier bool }
	seen := make(map[string]*presence)
	var keys []string
	for _, v := range g.Votes {
		key, name := who(v)
		if key == "" {
			continue
		}
		p, ok := seen[key]
		if !ok {
			p = &presence{}
			seen[key] = p
			keys = append(keys, key)
			if _, known := a[key]; !known {
				a[key] = &agreementTally{name: name}
			}
		}
		p.scored = p.scored || v.Outcome.Scored()
		p.outlier = p.outlier || v.Outlier
	}
	for _, key := range keys {
		t, p := a[key], seen[key]
		t.tasks++
		if g.Agreement == nil || !p.scored {
			continue
		}
		t.scored++
		t.sum += *g.Agreement
		if p.outlier {
			t.outliers++
		}
	}
}

func (a agreementTallies) list() []RaterAgreement {
	out := make([]RaterAgreement, 0, len(a))
	for _, t := range a {
		ra := RaterAgreement{Rater: t.name, Tasks: t.tasks, ScoredTasks: t.scored, Outliers: t.outliers}
		if t.scored > 0 {
			acc := t.sum / float64(t.scored)
			ra.Accuracy = &acc
			ra.OutlierRate = float64(t.outliers) / float64(t.scored)
		}
		out = append(out, ra)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rater < out[j].Rater })
	return out
}

// scoreGroup sets status, modal outcome, agreement and outlier flags. A group with a single
// record never gets an agreement value.
func scoreGroup(g *ConsensusGroup) {
	counts := make(map[Outcome]int)
	for _, v := range g.Votes {
		if v.Outcome.Scored() {
			counts[v.Outcome]++
			g.Scored++
		}
	}
	switch {
	case len(g.Votes) == 1:
		g.Status = StatusSingleReviewer
		return
	case g.Scored < 2:
		g.Status = StatusInsufficientScores
		return
	}
	g.Status = StatusScored
	g.Modal = modalOutcome(counts)
	agreement := float64(counts[g.Modal]) / float64(g.Scored)
	g.Agreement = &agreement
	for i := range g.Votes {
		v := &g.Votes[i]
		v.Outlier = v.Outcome.Scored() && v.Outcome != g.Modal
	}
}

// modalOutcome picks the most frequent outcome; ties go to the most severe.
func modalOutcome(counts map[Outcome]int) Outcome {
	best := OutcomeUnscored
	for _, o := range []Outcome{OutcomeFail, OutcomeMinor, OutcomePass} {
		if counts[o] > counts[best] {
			best = o
		}
	}
	return best
}

func raterOf(rec NormalizedRecord, role Role) string {
	switch role {
	case RoleReviewer:
		return rec.Reviewer
	case RoleExpertID:
		return rec.ExpertID
	}
	if rec.Reviewer != "" {
		return rec.Reviewer
	}
	return rec.ExpertID
}
