package qalens

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownProjectType = errors.New("unknown project type")
	ErrUnknownQualityType = errors.New("unknown quality type")
	ErrUnknownTable       = errors.New("unknown table")
	ErrUnknownRole        = errors.New("unknown role")
	ErrUnknownColumn      = errors.New("unknown column")
	ErrUnsupportedFormat  = errors.New("unsupported file format")
	ErrNoUsableTables     = errors.New("no table is ready for analysis")
)

// MappingGapError reports required roles without a column. It only blocks the table it names.
type MappingGapError struct {
	TableID   string
	TableName string
	Missing   []Role
}

func (e *MappingGapError) Error() string {
	names := make([]string, len(e.Missing))
	for i, r := range e.Missing {
		names[i] = string(r)
	}
	return fmt.Sprintf("table %s needs manual mapping for %s", e.TableName, strings.Join(names, ", "))
}

// WarningKind classifies recoverable conditions surfaced to the caller.
type WarningKind string

const (
	WarnMappingGap            WarningKind = "mapping_gap"
	WarnJoinKeyMismatch       WarningKind = "join_key_mismatch"
	WarnExpansionCapped       WarningKind = "expansion_capped"
	WarnConfigurationConflict WarningKind = "configuration_conflict"
)

// Warning is a recoverable condition with enough context to explain a result.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Table   string      `json:"table,omitempty"`
	Message string      `json:"message"`
}
