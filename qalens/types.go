package qalens

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Role is a semantic field meaning independent of the column name used by an export.
type Role string

const (
	RoleExpertID  Role = "expertId"
	RoleScore     Role = "score"
	RoleReviewer  Role = "reviewer"
	RoleCategory  Role = "category"
	RoleTimestamp Role = "timestamp"
	RoleTaskID    Role = "taskId"
)

// AllRoles returns every semantic role in detection order.
func AllRoles() []Role {
	return []Role{RoleExpertID, RoleScore, RoleReviewer, RoleCategory, RoleTimestamp, RoleTaskID}
}

// RequiredRoles lists the roles a table must map before it can be normalized.
func RequiredRoles() []Role {
	return []Role{RoleExpertID, RoleScore}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range AllRoles() {
		if r == known {
			return true
		}
	}
	return false
}

// Outcome is the classified quality result for a single reviewed item.
type Outcome string

const (
	OutcomePass     Outcome = "pass"
	OutcomeMinor    Outcome = "minor"
	OutcomeFail     Outcome = "fail"
	OutcomeUnscored Outcome = "unscored"
)

// Severity ranks outcomes so that ties resolve toward flagging risk.
func (o Outcome) Severity() int {
	switch o {
	case OutcomeFail:
		return 3
	case OutcomeMinor:
		return 2
	case OutcomePass:
		return 1
	default:
		return 0
	}
}

// Scored reports whether the outcome is one of pass, minor or fail.
func (o Outcome) Scored() bool {
	return o.Severity() > 0
}

// ValueKind tags the dynamic type of a raw cell.
type ValueKind int

const (
	KindEmpty ValueKind = iota
	KindString
	KindNumber
)

// Value is a raw cell: empty, a string, or a number.
type Value struct {
	Kind   ValueKind
	Text   string
	Number float64
}

// StringValue wraps s; blank strings become empty values.
func StringValue(s string) Value {
	if cleanCell(s) == "" {
		return Value{}
	}
	return Value{Kind: KindString, Text: s}
}

// NumberValue wraps a numeric cell.
func NumberValue(f float64) Value {
	return Value{Kind: KindNumber, Number: f}
}

// IsEmpty reports whether the cell holds nothing.
func (v Value) IsEmpty() bool {
	return v.Kind == KindEmpty
}

// String renders the cell as text.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	default:
		return ""
	}
}

// MarshalJSON encodes empty cells as null, numbers as numbers and strings as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Text)
	case KindNumber:
		return json.Marshal(v.Number)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, a JSON number or a JSON string.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("cell value must be null, number or string: %w", err)
	}
	*v = NumberValue(f)
	return nil
}

// Provenance points back at the source row of a record without owning it.
type Provenance struct {
	TableID   string `json:"tableId"`
	TableName string `json:"tableName"`
	RowIndex  int    `json:"rowIndex"`
}

// NormalizedRecord holds the resolved role values of one source row.
type NormalizedRecord struct {
	TableID   string            `json:"tableId"`
	TableName string            `json:"tableName"`
	RowIndex  int               `json:"rowIndex"`
	ExpertID  string            `json:"expertId"`
	Reviewer  string            `json:"reviewer,omitempty"`
	Category  string            `json:"category,omitempty"`
	TaskID    string            `json:"taskId,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	RawScore  string            `json:"rawScore"`
	Outcome   Outcome           `json:"outcome"`
	Reason    UnscoredReason    `json:"reason,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
	Matched   []Provenance      `json:"matched,omitempty"`
}

// Provenance returns the origin of the record.
func (r NormalizedRecord) Provenance() Provenance {
	return Provenance{TableID: r.TableID, TableName: r.TableName, RowIndex: r.RowIndex}
}

// RoleValue returns the string value held for role.
func (r NormalizedRecord) RoleValue(role Role) string {
	switch role {
	case RoleExpertID:
		return r.ExpertID
	case RoleScore:
		return r.RawScore
	case RoleReviewer:
		return r.Reviewer
	case RoleCategory:
		return r.Category
	case RoleTaskID:
		return r.TaskID
	case RoleTimestamp:
		if r.Timestamp != nil {
			return r.Timestamp.Format(time.RFC3339)
		}
	}
	return ""
}

func (r NormalizedRecord) clone() NormalizedRecord {
	out := r
	if r.Timestamp != nil {
		ts := *r.Timestamp
		out.Timestamp = &ts
	}
	if r.Extra != nil {
		out.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = v
		}
	}
	if r.Matched != nil {
		out.Matched = append([]Provenance(nil), r.Matched...)
	}
	return out
}
