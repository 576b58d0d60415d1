package app

import "yashubustudio/qalens/qalens"

type errorResponse struct {
	Error   string        `json:"error"`
	Missing []qalens.Role `json:"missing,omitempty"`
}

type catalogResponse struct {
	ProjectTypes []qalens.ProjectTypeConfig `json:"projectTypes"`
	QualityTypes []qalens.QualityTypeConfig `json:"qualityTypes"`
}

type tableResponse struct {
	Table   qalens.TableInfo     `json:"table"`
	Mapping qalens.ColumnMapping `json:"mapping"`
}

type sampleResponse struct {
	Headers []string                  `json:"headers"`
	Rows    []map[string]qalens.Value `json:"rows"`
}

// qualityRequest selects a catalog quality type by id or supplies a custom one.
type qualityRequest struct {
	ID       string                    `json:"id,omitempty"`
	Override *qalens.QualityTypeConfig `json:"override,omitempty"`
}

type projectRequest struct {
	ID string `json:"id"`
}

type combineRequest struct {
	Mode             qalens.CombineMode `json:"mode"`
	Role             qalens.Role        `json:"role"`
	MaxMatchesPerKey int                `json:"maxMatchesPerKey,omitempty"`
}
