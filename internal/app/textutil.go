package app

import (
	"fmt"
	"strings"

	"yashubustudio/qalens/qalens"
)

// MappingOverride pins a role to a column. An empty Table applies it to every table that
// has the column.
type MappingOverride struct {
	Table  string
	Role   qalens.Role
	Column string
}

// ParseMappingOverride reads "[table:]role=column". Role names match case-insensitively.
func ParseMappingOverride(s string) (MappingOverride, error) {
	left, column, ok := strings.Cut(s, "=")
	if !ok {
		return MappingOverride{}, fmt.Errorf("mapping override %q: want [table:]role=column", s)
	}
	var o MappingOverride
	roleName := strings.TrimSpace(left)
	if i := strings.LastIndex(roleName, ":"); i >= 0 {
		o.Table = strings.TrimSpace(roleName[:i])
		roleName = strings.TrimSpace(roleName[i+1:])
	}
	role, err := parseRole(roleName)
	if err != nil {
		return MappingOverride{}, fmt.Errorf("mapping override %q: %w", s, err)
	}
	o.Role = role
	o.Column = strings.TrimSpace(column)
	return o, nil
}

// ParseMappingOverrides parses every flag value, stopping at the first bad one.
func ParseMappingOverrides(values []string) ([]MappingOverride, error) {
	out := make([]MappingOverride, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		o, err := ParseMappingOverride(v)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func parseRole(name string) (qalens.Role, error) {
	folded := strings.ReplaceAll(strings.ReplaceAll(name, "_", ""), "-", "")
	for _, role := range qalens.AllRoles() {
		if strings.EqualFold(folded, string(role)) {
			return role, nil
		}
	}
	return "", fmt.Errorf("%w %q", qalens.ErrUnknownRole, name)
}

func (o MappingOverride) appliesTo(table string) bool {
	return o.Table == "" || strings.EqualFold(o.Table, table)
}
