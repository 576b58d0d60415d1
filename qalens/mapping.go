package qalens

import (
	"fmt"
	"strconv"
	"strings"
)

// Origin records who set a mapping entry.
type Origin string

const (
	OriginDetected  Origin = "detected"
	OriginManual    Origin = "manual"
	OriginAssistant Origin = "assistant"
)

// MappingEntry is the column chosen for a role. An empty Column means unmapped.
type MappingEntry struct {
	Column     string  `json:"column"`
	Confidence float64 `json:"confidence"`
	Origin     Origin  `json:"origin,omitempty"`
}

// Mapped reports whether the entry points at a column.
func (e MappingEntry) Mapped() bool {
	return e.Column != ""
}

// ColumnMapping binds semantic roles to the columns of one table.
type ColumnMapping struct {
	TableID     string                `json:"tableId"`
	ProjectType string                `json:"projectType"`
	Entries     map[Role]MappingEntry `json:"entries"`
	Version     int                   `json:"version"`
}

// Column returns the column mapped to role, or "" when unmapped.
func (m ColumnMapping) Column(role Role) string {
	return m.Entries[role].Column
}

// Gaps returns every role without a column, in detection order.
func (m ColumnMapping) Gaps() []Role {
	var out []Role
	for _, role := range AllRoles() {
		if !m.Entries[role].Mapped() {
			out = append(out, role)
		}
	}
	return out
}

// MissingRequired returns the required roles without a column.
func (m ColumnMapping) MissingRequired() []Role {
	var out []Role
	for _, role := range RequiredRoles() {
		if !m.Entries[role].Mapped() {
			out = append(out, role)
		}
	}
	return out
}

// Clone returns a deep copy.
func (m ColumnMapping) Clone() ColumnMapping {
	out := m
	out.Entries = make(map[Role]MappingEntry, len(m.Entries))
	for role, entry := range m.Entries {
		out.Entries[role] = entry
	}
	return out
}

// MappingEdit changes one role. Manual edits and assistant suggestions use the same type.
// Column may be a header name or a 1-based "#N" index; an empty Column unmaps the role.
type MappingEdit struct {
	Role   Role   `json:"role"`
	Column string `json:"column"`
	Origin Origin `json:"origin,omitempty"`
}

// ApplyEdit validates edit against headers and returns the updated mapping with its version bumped.
func (m ColumnMapping) ApplyEdit(headers []string, edit MappingEdit) (ColumnMapping, error) {
	if !edit.Role.Valid() {
		return m, fmt.Errorf("%w %q", ErrUnknownRole, edit.Role)
	}
	origin := edit.Origin
	switch origin {
	case "":
		origin = OriginManual
	case OriginManual, OriginAssistant:
	default:
		return m, fmt.Errorf("mapping edit origin %q is not allowed", origin)
	}
	out := m.Clone()
	if out.Entries == nil {
		out.Entries = make(map[Role]MappingEntry)
	}
	if strings.TrimSpace(edit.Column) == "" {
		out.Entries[edit.Role] = MappingEntry{Origin: origin}
		out.Version++
		return out, nil
	}
	column, err := matchExplicitColumn(headers, edit.Column)
	if err != nil {
		return m, err
	}
	out.Entries[edit.Role] = MappingEntry{Column: column, Confidence: 1, Origin: origin}
	out.Version++
	return out, nil
}

func matchExplicitColumn(headers []string, explicit string) (string, error) {
	trimmed := strings.TrimSpace(explicit)
	for _, col := range headers {
		if col == trimmed {
			return col, nil
		}
	}
	for _, col := range headers {
		if strings.EqualFold(col, trimmed) {
			return col, nil
		}
	}
	if strings.HasPrefix(trimmed, "#") {
		idx, err := parseColumnIndex(trimmed)
		if err != nil {
			return "", err
		}
		if idx >= len(headers) {
			return "", fmt.Errorf("%w: index %s is out of range", ErrUnknownColumn, trimmed)
		}
		return headers[idx], nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownColumn, explicit)
}

func parseColumnIndex(token string) (int, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(token, "#"))
	idx, err := strconv.Atoi(trimmed)
	if err != nil || trimmed == "" {
		return -1, fmt.Errorf("invalid column index %q", token)
	}
	if idx <= 0 {
		return -1, fmt.Errorf("column indices are 1-based: %q", token)
	}
	return idx - 1, nil
}
