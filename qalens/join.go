package qalens

import (
	"errors"
	"fmt"
)

const defaultMaxMatchesPerKey = 20

// JoinInput is one normalized table taking part in a join. The first input is the base.
type JoinInput struct {
	TableID   string
	TableName string
	Records   []NormalizedRecord
}

// JoinOptions bounds the join.
type JoinOptions struct {
	// MaxMatchesPerKey caps how many rows of one table may expand a single base row.
	MaxMatchesPerKey int
}

// UnmatchedRow is a row that found no partner. Against names the table it failed to match.
type UnmatchedRow struct {
	Provenance
	Key     string `json:"key"`
	Against string `json:"against"`
}

// ExpansionCap records a key whose matches were truncated, with the rows that were cut.
type ExpansionCap struct {
	Table   string `json:"table"`
	Key     string `json:"key"`
	Matches int          `json:"matches"`
	Kept    int          `json:"kept"`
	Dropped []Provenance `json:"dropped"`
}

// JoinedDataset is the left-join of several tables on one role.
type JoinedDataset struct {
	Role           Role               `json:"role"`
	Tables         []string           `json:"tables"`
	Records        []NormalizedRecord `json:"records"`
	BaseRows       int                `json:"baseRows"`
	Expansions     int                `json:"expansions"`
	UnmatchedBase  []UnmatchedRow     `json:"unmatchedBase"`
	UnmatchedRight []UnmatchedRow     `json:"unmatchedRight"`
	Capped         []ExpansionCap     `json:"capped,omitempty"`
	Warnings       []Warning          `json:"warnings,omitempty"`
}

// Join left-joins every input onto the first one by the value of role.
//
// Output order follows the base rows; each base row is followed by its expansions in the
// source order of the matched rows. Matched fields are added under "<table>.<role>" keys
// and only fill roles the base row leaves empty. Rows that find no partner are reported,
// never dropped.
func Join(inputs []JoinInput, role Role, opts JoinOptions) (JoinedDataset, error) {
	if len(inputs) < 2 {
		return JoinedDataset{}, errors.New("join needs at least two tables")
	}
	if !role.Valid() {
		return JoinedDataset{}, fmt.Errorf("%w %q", ErrUnknownRole, role)
	}
	maxMatches := opts.MaxMatchesPerKey
	if maxMatches <= 0 {
		maxMatches = defaultMaxMatchesPerKey
	}

	base := inputs[0]
	ds := JoinedDataset{
		Role:           role,
		BaseRows:       len(base.Records),
		UnmatchedBase:  []UnmatchedRow{},
		UnmatchedRight: []UnmatchedRow{},
	}
	out := make([]NormalizedRecord, len(base.Records))
	for i, rec := range base.Records {
		out[i] = rec.clone()
	}
	ds.Tables = append(ds.Tables, base.TableName)

	for _, in := range inputs[1:] {
		ds.Tables = append(ds.Tables, in.TableName)
		idx := NewKeyIndex(in.Records, role)
		matchedRight := make([]bool, len(in.Records))
		reportedBase := make(map[int]struct{})
		cappedKeys := make(map[string]struct{})
		matchedRows := 0

		next := make([]NormalizedRecord, 0, len(out))
		for _, row := range out {
			key := row.RoleValue(role)
			positions := idx.Lookup(key)
			if len(positions) == 0 {
				next = append(next, row)
				if _, seen := reportedBase[row.RowIndex]; !seen {
					reportedBase[row.RowIndex] = struct{}{}
					ds.UnmatchedBase = append(ds.UnmatchedBase, UnmatchedRow{
						Provenance: row.Provenance(),
						Key:        key,
						Against:    in.TableName,
					})
				}
				continue
			}
			matchedRows++
			for _, p := range positions {
				matchedRight[p] = true
			}
			kept := positions
			if len(kept) > maxMatches {
				kept = kept[:maxMatches]
				normKey := NormalizeKey(key)
				if _, seen := cappedKeys[normKey]; !seen {
					cappedKeys[normKey] = struct{}{}
					dropped := make([]Provenance, 0, len(positions)-maxMatches)
					for _, p := range positions[maxMatches:] {
						dropped = append(dropped, in.Records[p].Provenance())
					}
					ds.Capped = append(ds.Capped, ExpansionCap{
						Table: in.TableName, Key: key, Matches: len(positions), Kept: maxMatches, Dropped: dropped,
					})
					ds.Warnings = append(ds.Warnings, Warning{
						Kind:  WarnExpansionCapped,
						Table: in.TableName,
						Message: fmt.Sprintf("key %q matched %d rows, kept the first %d; check the join key",
							key, len(positions), maxMatches),
					})
				}
			}
			for _, p := range kept {
				next = append(next, mergeRecord(row, in.Records[p], in.TableName))
			}
		}

		for i, matched := range matchedRight {
			if matched {
				continue
			}
			rec := in.Records[i]
			ds.UnmatchedRight = append(ds.UnmatchedRight, UnmatchedRow{
				Provenance: rec.Provenance(),
				Key:        rec.RoleValue(role),
				Against:    base.TableName,
			})
		}
		if matchedRows == 0 {
			ds.Warnings = append(ds.Warnings, Warning{
				Kind:  WarnJoinKeyMismatch,
				Table: in.TableName,
				Message: fmt.Sprintf("no %s values of %s matched %s; the key column or its format is likely wrong",
					role, in.TableName, base.TableName),
			})
		}
		out = next
	}

	ds.Records = out
	ds.Expansions = len(out) - ds.BaseRows
	return ds, nil
}

// mergeRecord adds match to row without overwriting any role row already holds.
func mergeRecord(row, match NormalizedRecord, table string) NormalizedRecord {
	out := row.clone()
	if out.ExpertID == "" {
		out.ExpertID = match.ExpertID
	}
	if out.Reviewer == "" {
		out.Reviewer = match.Reviewer
	}
	if out.Category == "" {
		out.Category = match.Category
	}
	if out.TaskID == "" {
		out.TaskID = match.TaskID
	}
	if out.Timestamp == nil && match.Timestamp != nil {
		ts := *match.Timestamp
		out.Timestamp = &ts
	}
	if out.Extra == nil {
		out.Extra = make(map[string]string)
	}
	for _, role := range AllRoles() {
		if v := match.RoleValue(role); v != "" {
			out.Extra[table+"."+string(role)] = v
		}
	}
	if match.RawScore != "" {
		out.Extra[table+".outcome"] = string(match.Outcome)
	}
	for k, v := range match.Extra {
		if _, exists := out.Extra[k]; !exists {
			out.Extra[k] = v
		}
	}
	out.Matched = append(out.Matched, match.Provenance())
	out.Matched = append(out.Matched, match.Matched...)
	return out
}
