package qalens

import "strings"

const (
	confidenceExact     = 1.0
	confidenceSubstring = 0.6
)

type headerMatch struct {
	index      int
	confidence float64
}

// DetectColumns proposes a column for every role of pt. Exact matches are resolved for all
// roles before any substring match, and a header is never claimed twice. Roles without a
// match stay unmapped for manual resolution.
func DetectColumns(headers []string, pt ProjectTypeConfig) ColumnMapping {
	normalized := normalizeAll(headers, NormalizeHeader)
	claimed := make([]bool, len(headers))
	found := make(map[Role]headerMatch)

	for _, role := range AllRoles() {
		if idx := findColumn(normalized, claimed, pt.Aliases[role], equalMatch); idx >= 0 {
			claimed[idx] = true
			found[role] = headerMatch{index: idx, confidence: confidenceExact}
		}
	}
	for _, role := range AllRoles() {
		if _, ok := found[role]; ok {
			continue
		}
		if idx := findColumn(normalized, claimed, pt.Aliases[role], strings.Contains); idx >= 0 {
			claimed[idx] = true
			found[role] = headerMatch{index: idx, confidence: confidenceSubstring}
		}
	}

	mapping := ColumnMapping{
		ProjectType: pt.ID,
		Entries:     make(map[Role]MappingEntry, len(AllRoles())),
	}
	for _, role := range AllRoles() {
		m, ok := found[role]
		if !ok {
			mapping.Entries[role] = MappingEntry{}
			continue
		}
		mapping.Entries[role] = MappingEntry{
			Column:     headers[m.index],
			Confidence: m.confidence,
			Origin:     OriginDetected,
		}
	}
	return mapping
}

func equalMatch(header, alias string) bool {
	return header == alias
}

// findColumn scans aliases in priority order and, for each, headers in table order.
func findColumn(headers []string, claimed []bool, aliases []string, match func(header, alias string) bool) int {
	for _, alias := range aliases {
		cand := NormalizeHeader(alias)
		if cand == "" {
			continue
		}
		for i, col := range headers {
			if claimed[i] || col == "" {
				continue
			}
			if match(col, cand) {
				return i
			}
		}
	}
	return -1
}
