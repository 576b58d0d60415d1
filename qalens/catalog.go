package qalens

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ProjectTypeConfig maps each semantic role to candidate column aliases in priority order.
type ProjectTypeConfig struct {
	ID      string            `json:"id" yaml:"id"`
	Name    string            `json:"name" yaml:"name"`
	Aliases map[Role][]string `json:"aliases" yaml:"aliases"`
}

// Roles returns the roles this project type declares, in detection order.
func (p ProjectTypeConfig) Roles() []Role {
	out := make([]Role, 0, len(p.Aliases))
	for _, role := range AllRoles() {
		if len(p.Aliases[role]) > 0 {
			out = append(out, role)
		}
	}
	return out
}

func (p ProjectTypeConfig) clone() ProjectTypeConfig {
	out := ProjectTypeConfig{ID: p.ID, Name: p.Name, Aliases: make(map[Role][]string, len(p.Aliases))}
	for role, aliases := range p.Aliases {
		out.Aliases[role] = cloneStrings(aliases)
	}
	return out
}

// QualityTypeConfig describes one scoring convention. Numeric configs use thresholds;
// categorical configs use label sets matched case-insensitively.
type QualityTypeConfig struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	IsNumeric      bool     `json:"isNumeric" yaml:"is_numeric"`
	MinValue       float64  `json:"minValue,omitempty" yaml:"min_value,omitempty"`
	MaxValue       float64  `json:"maxValue,omitempty" yaml:"max_value,omitempty"`
	FailThreshold  float64  `json:"failThreshold,omitempty" yaml:"fail_threshold,omitempty"`
	MinorThreshold float64  `json:"minorThreshold,omitempty" yaml:"minor_threshold,omitempty"`
	PassLabels     []string `json:"passLabels,omitempty" yaml:"pass_labels,omitempty"`
	MinorLabels    []string `json:"minorLabels,omitempty" yaml:"minor_labels,omitempty"`
	FailLabels     []string `json:"failLabels,omitempty" yaml:"fail_labels,omitempty"`
}

// Validate checks that the configuration can classify anything at all.
func (q QualityTypeConfig) Validate() error {
	if q.ID == "" {
		return errors.New("quality type id is required")
	}
	if q.IsNumeric {
		if q.FailThreshold > q.MinorThreshold {
			return fmt.Errorf("quality type %s: fail threshold %.4g exceeds minor threshold %.4g",
				q.ID, q.FailThreshold, q.MinorThreshold)
		}
		if q.MaxValue != 0 && q.MinValue > q.MaxValue {
			return fmt.Errorf("quality type %s: min value exceeds max value", q.ID)
		}
		return nil
	}
	if len(q.PassLabels)+len(q.MinorLabels)+len(q.FailLabels) == 0 {
		return fmt.Errorf("quality type %s: categorical config needs at least one label", q.ID)
	}
	return nil
}

// LabelConflict is a label listed in more than one outcome set.
type LabelConflict struct {
	Label      string    `json:"label"`
	Sets       []Outcome `json:"sets"`
	ResolvedTo Outcome   `json:"resolvedTo"`
}

// Conflicts lists labels that appear in several outcome sets. They resolve to the most
// severe set; callers log them rather than fail.
func (q QualityTypeConfig) Conflicts() []LabelConflict {
	if q.IsNumeric {
		return nil
	}
	sets := make(map[string][]Outcome)
	var order []string
	add := func(labels []string, outcome Outcome) {
		for _, label := range labels {
			key := NormalizeLabel(label)
			if key == "" {
				continue
			}
			existing, seen := sets[key]
			if !seen {
				order = append(order, key)
			}
			if len(existing) > 0 && existing[len(existing)-1] == outcome {
				continue
			}
			sets[key] = append(existing, outcome)
		}
	}
	add(q.FailLabels, OutcomeFail)
	add(q.MinorLabels, OutcomeMinor)
	add(q.PassLabels, OutcomePass)
	var out []LabelConflict
	for _, key := range order {
		if len(sets[key]) < 2 {
			continue
		}
		out = append(out, LabelConflict{Label: key, Sets: sets[key], ResolvedTo: sets[key][0]})
	}
	return out
}

func (q QualityTypeConfig) clone() QualityTypeConfig {
	out := q
	out.PassLabels = cloneStrings(q.PassLabels)
	out.MinorLabels = cloneStrings(q.MinorLabels)
	out.FailLabels = cloneStrings(q.FailLabels)
	return out
}

// Catalog is an immutable registry of project and quality vocabularies.
type Catalog struct {
	projects  map[string]ProjectTypeConfig
	qualities map[string]QualityTypeConfig
}

// NewCatalog builds a catalog from the given vocabularies. Later entries with the same id win.
func NewCatalog(projects []ProjectTypeConfig, qualities []QualityTypeConfig) (*Catalog, error) {
	c := &Catalog{
		projects:  make(map[string]ProjectTypeConfig, len(projects)),
		qualities: make(map[string]QualityTypeConfig, len(qualities)),
	}
	for _, p := range projects {
		if p.ID == "" {
			return nil, errors.New("project type id is required")
		}
		for role := range p.Aliases {
			if !role.Valid() {
				return nil, fmt.Errorf("project type %s: %w %q", p.ID, ErrUnknownRole, role)
			}
		}
		c.projects[p.ID] = p.clone()
	}
	for _, q := range qualities {
		if err := q.Validate(); err != nil {
			return nil, err
		}
		c.qualities[q.ID] = q.clone()
	}
	return c, nil
}

// DefaultCatalog returns the built-in vocabularies.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultProjectTypes(), defaultQualityTypes())
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// ProjectType looks up a project type by id.
func (c *Catalog) ProjectType(id string) (ProjectTypeConfig, error) {
	p, ok := c.projects[id]
	if !ok {
		return ProjectTypeConfig{}, fmt.Errorf("%w: %q", ErrUnknownProjectType, id)
	}
	return p.clone(), nil
}

// QualityType looks up a quality type by id.
func (c *Catalog) QualityType(id string) (QualityTypeConfig, error) {
	q, ok := c.qualities[id]
	if !ok {
		return QualityTypeConfig{}, fmt.Errorf("%w: %q", ErrUnknownQualityType, id)
	}
	return q.clone(), nil
}

// ProjectTypes returns all project types sorted by id.
func (c *Catalog) ProjectTypes() []ProjectTypeConfig {
	out := make([]ProjectTypeConfig, 0, len(c.projects))
	for _, p := range c.projects {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// QualityTypes returns all quality types sorted by id.
func (c *Catalog) QualityTypes() []QualityTypeConfig {
	out := make([]QualityTypeConfig, 0, len(c.qualities))
	for _, q := range c.qualities {
		out = append(out, q.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CatalogFile is the YAML layout for custom vocabularies.
type CatalogFile struct {
	ProjectTypes []ProjectTypeConfig `yaml:"project_types"`
	QualityTypes []QualityTypeConfig `yaml:"quality_types"`
}

// DefaultCatalogFile returns the built-in vocabularies in file layout, as a starting
// point for a custom catalog.
func DefaultCatalogFile() CatalogFile {
	return CatalogFile{ProjectTypes: defaultProjectTypes(), QualityTypes: defaultQualityTypes()}
}

// LoadCatalogFile merges custom vocabularies from a YAML file over the built-ins.
// An empty path yields the default catalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", filepath.Base(path), err)
	}
	projects := append(defaultProjectTypes(), file.ProjectTypes...)
	qualities := append(defaultQualityTypes(), file.QualityTypes...)
	c, err := NewCatalog(projects, qualities)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", filepath.Base(path), err)
	}
	return c, nil
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
