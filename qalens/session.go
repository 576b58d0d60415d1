package qalens

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Session is the single analysis pipeline of one user session. It owns the uploaded tables
// and their mappings, and derives every downstream result on demand. Results are memoized
// by the versions of everything upstream of them, so an edit only recomputes the stages
// below it and a stale result can never be returned.
//
// All methods serialize on one lock. Returned results are shared with the cache and must
// be treated as read-only.
type Session struct {
	mu      sync.Mutex
	catalog *Catalog
	logger  *zap.Logger

	cfg     Config
	project ProjectTypeConfig
	quality QualityTypeConfig

	qualityVersion   int
	joinVersion      int
	consensusVersion int
	aggregateVersion int

	tables   []*RawTable
	mappings map[string]ColumnMapping
	cache    *memo
}

// NewSession constructs a session. A nil catalog means the built-in one; a nil logger
// discards log output.
func NewSession(catalog *Catalog, cfg Config, logger *zap.Logger) (*Session, error) {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	project, err := catalog.ProjectType(cfg.ProjectType)
	if err != nil {
		return nil, err
	}
	quality, err := resolveQuality(catalog, cfg)
	if err != nil {
		return nil, err
	}
	s := &Session{
		catalog:  catalog,
		logger:   logger,
		cfg:      cfg,
		project:  project,
		quality:  quality,
		mappings: make(map[string]ColumnMapping),
		cache:    newMemo(),
	}
	s.logConflicts(quality)
	return s, nil
}

func resolveQuality(catalog *Catalog, cfg Config) (QualityTypeConfig, error) {
	if cfg.QualityOverride != nil {
		q := cfg.QualityOverride.clone()
		if err := q.Validate(); err != nil {
			return QualityTypeConfig{}, err
		}
		return q, nil
	}
	return catalog.QualityType(cfg.QualityType)
}

// Catalog returns the vocabularies the session resolves ids against.
func (s *Session) Catalog() *Catalog {
	return s.catalog
}

// Config returns a copy of the current configuration.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configLocked()
}

// configLocked copies the config so callers never share the override or tier slices.
func (s *Session) configLocked() Config {
	cfg := s.cfg
	if cfg.QualityOverride != nil {
		q := cfg.QualityOverride.clone()
		cfg.QualityOverride = &q
	}
	cfg.Aggregate.Tiering.Tiers = append([]Tier(nil), cfg.Aggregate.Tiering.Tiers...)
	return cfg
}

// QualityType returns the active quality configuration.
func (s *Session) QualityType() QualityTypeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality.clone()
}

// ProjectType returns the active project type.
func (s *Session) ProjectType() ProjectTypeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project.clone()
}

// AddTable registers a parsed table and detects its mapping. A table with the same name as
// an existing one replaces it, which is how a re-upload discards the old data.
func (s *Session) AddTable(t *RawTable) ColumnMapping {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapping := DetectColumns(t.Headers(), s.project)
	mapping.TableID = t.ID()
	mapping.Version = 1

	replaced := false
	for i, existing := range s.tables {
		if existing.Name() == t.Name() {
			delete(s.mappings, existing.ID())
			s.tables[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		s.tables = append(s.tables, t)
	}
	s.mappings[t.ID()] = mapping

	s.logger.Info("table added",
		zap.String("table", t.Name()),
		zap.String("id", t.ID()),
		zap.Int("rows", t.Len()),
		zap.Bool("replaced", replaced))
	s.logGaps(t, mapping)
	return mapping.Clone()
}

// RemoveTable drops a table and its mapping.
func (s *Session) RemoveTable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tables {
		if t.ID() == id {
			s.tables = append(s.tables[:i], s.tables[i+1:]...)
			delete(s.mappings, id)
			s.logger.Info("table removed", zap.String("table", t.Name()))
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownTable, id)
}

// Tables lists the uploaded tables in upload order.
func (s *Session) Tables() []TableInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TableInfo, len(s.tables))
	for i, t := range s.tables {
		out[i] = t.Info()
	}
	return out
}

// Table returns the uploaded table with id.
func (s *Session) Table(id string) (*RawTable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tableLocked(id)
}

func (s *Session) tableLocked(id string) (*RawTable, error) {
	for _, t := range s.tables {
		if t.ID() == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTable, id)
}

// SampleRows returns up to n rows of a table, for a configuration assistant.
func (s *Session) SampleRows(id string, n int) ([]map[string]Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableLocked(id)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > t.Len() {
		n = t.Len()
	}
	out := make([]map[string]Value, n)
	for i := 0; i < n; i++ {
		out[i] = t.Row(i)
	}
	return out, nil
}

// Mapping returns the current mapping of a table.
func (s *Session) Mapping(id string) (ColumnMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[id]
	if !ok {
		return ColumnMapping{}, fmt.Errorf("%w: %s", ErrUnknownTable, id)
	}
	return m.Clone(), nil
}

// ApplyMappingEdit changes one role of a table's mapping. User edits and assistant
// suggestions both come through here.
func (s *Session) ApplyMappingEdit(id string, edit MappingEdit) (ColumnMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableLocked(id)
	if err != nil {
		return ColumnMapping{}, err
	}
	updated, err := s.mappings[id].ApplyEdit(t.Headers(), edit)
	if err != nil {
		return ColumnMapping{}, err
	}
	s.mappings[id] = updated
	s.logger.Info("mapping edited",
		zap.String("table", t.Name()),
		zap.String("role", string(edit.Role)),
		zap.String("column", updated.Column(edit.Role)),
		zap.String("origin", string(updated.Entries[edit.Role].Origin)),
		zap.Int("version", updated.Version))
	return updated.Clone(), nil
}

// Redetect discards edits to a table's mapping and runs detection again.
func (s *Session) Redetect(id string) (ColumnMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableLocked(id)
	if err != nil {
		return ColumnMapping{}, err
	}
	return s.redetectLocked(t).Clone(), nil
}

func (s *Session) redetectLocked(t *RawTable) ColumnMapping {
	mapping := DetectColumns(t.Headers(), s.project)
	mapping.TableID = t.ID()
	mapping.Version = s.mappings[t.ID()].Version + 1
	s.mappings[t.ID()] = mapping
	s.logGaps(t, mapping)
	return mapping
}

// SetProjectType switches vocabularies and re-detects every table's mapping.
func (s *Session) SetProjectType(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, err := s.catalog.ProjectType(id)
	if err != nil {
		return err
	}
	s.project = project
	s.cfg.ProjectType = id
	for _, t := range s.tables {
		s.redetectLocked(t)
	}
	s.logger.Info("project type changed", zap.String("projectType", id))
	return nil
}

// SetQualityType switches to a catalog quality type and drops any override.
func (s *Session) SetQualityType(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.catalog.QualityType(id)
	if err != nil {
		return err
	}
	s.cfg.QualityType = id
	s.cfg.QualityOverride = nil
	s.setQualityLocked(q)
	return nil
}

// SetQualityOverride replaces the quality configuration with custom thresholds or labels.
func (s *Session) SetQualityOverride(q QualityTypeConfig) error {
	if err := q.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	override := q.clone()
	s.cfg.QualityOverride = &override
	s.setQualityLocked(q.clone())
	return nil
}

func (s *Session) setQualityLocked(q QualityTypeConfig) {
	s.quality = q
	s.qualityVersion++
	s.logger.Info("quality type changed", zap.String("qualityType", q.ID), zap.Int("version", s.qualityVersion))
	s.logConflicts(q)
}

// SetCombine sets how several tables are combined and, for joins, on which role.
func (s *Session) SetCombine(mode CombineMode, role Role) error {
	if mode != CombineJoin && mode != CombineAppend {
		return fmt.Errorf("unknown combine mode %q", mode)
	}
	if !role.Valid() {
		return fmt.Errorf("%w %q", ErrUnknownRole, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Combine = mode
	s.cfg.JoinRole = role
	s.joinVersion++
	return nil
}

// SetMaxMatchesPerKey changes the join expansion cap.
func (s *Session) SetMaxMatchesPerKey(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		n = defaultMaxMatchesPerKey
	}
	s.cfg.MaxMatchesPerKey = n
	s.joinVersion++
}

// SetConsensusOptions changes how raters are identified.
func (s *Session) SetConsensusOptions(opts ConsensusOptions) error {
	cfg := s.Config()
	cfg.Consensus = opts
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Consensus = opts
	s.consensusVersion++
	return nil
}

// SetAggregateConfig changes trend granularity and tiering.
func (s *Session) SetAggregateConfig(cfg AggregateConfig) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Aggregate = cfg
	s.aggregateVersion++
	return nil
}

// Normalized returns the normalized records of one table, or a *MappingGapError.
func (s *Session) Normalized(id string) (NormalizeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.tableLocked(id)
	if err != nil {
		return NormalizeResult{}, err
	}
	return s.normalizedLocked(t)
}

func (s *Session) normalizedKey(t *RawTable) string {
	return memoKey("normalized", t.ID(), s.mappings[t.ID()].Version, s.qualityVersion)
}

func (s *Session) normalizedLocked(t *RawTable) (NormalizeResult, error) {
	key := s.normalizedKey(t)
	if v, ok := s.cache.get(key); ok {
		return v.(NormalizeResult), nil
	}
	res, err := Normalize(t, s.mappings[t.ID()], s.quality)
	if err != nil {
		return res, err
	}
	s.logger.Debug("table normalized",
		zap.String("table", t.Name()),
		zap.Int("records", len(res.Records)),
		zap.Int("unscored", res.Stats.Scores.Unscored),
		zap.Int("badTimestamps", res.Stats.BadTimestamps))
	s.cache.put(key, res)
	return res, nil
}

// AnalysisSet is the combined record set that consensus and aggregation run on.
type AnalysisSet struct {
	Tables   []string           `json:"tables"`
	Records  []NormalizedRecord `json:"records"`
	Joined   *JoinedDataset     `json:"joined,omitempty"`
	Warnings []Warning          `json:"warnings"`
}

func (s *Session) datasetKey() string {
	parts := []any{s.qualityVersion, s.joinVersion, s.cfg.Combine, s.cfg.JoinRole, s.cfg.MaxMatchesPerKey}
	for _, t := range s.tables {
		parts = append(parts, t.ID(), s.mappings[t.ID()].Version)
	}
	return memoKey("dataset", parts...)
}

// Dataset combines every table that normalizes. Tables with mapping gaps are left out and
// reported as warnings; if no table is usable an error wrapping ErrNoUsableTables is returned.
func (s *Session) Dataset() (AnalysisSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.datasetLocked()
}

func (s *Session) datasetLocked() (AnalysisSet, error) {
	key := s.datasetKey()
	if v, ok := s.cache.get(key); ok {
		return v.(AnalysisSet), nil
	}
	set := AnalysisSet{Warnings: []Warning{}}
	for _, c := range s.quality.Conflicts() {
		set.Warnings = append(set.Warnings, conflictWarning(s.quality, c))
	}
	var inputs []JoinInput
	for _, t := range s.tables {
		res, err := s.normalizedLocked(t)
		var gap *MappingGapError
		if errors.As(err, &gap) {
			set.Warnings = append(set.Warnings, Warning{Kind: WarnMappingGap, Table: t.Name(), Message: gap.Error()})
			continue
		}
		if err != nil {
			return AnalysisSet{}, err
		}
		inputs = append(inputs, JoinInput{TableID: t.ID(), TableName: t.Name(), Records: res.Records})
		set.Tables = append(set.Tables, t.Name())
	}

	switch {
	case len(inputs) == 0:
		return AnalysisSet{}, fmt.Errorf("%w: %d table(s) uploaded, none fully mapped", ErrNoUsableTables, len(s.tables))
	case len(inputs) == 1:
		set.Records = inputs[0].Records
	case s.cfg.Combine == CombineAppend:
		for _, in := range inputs {
			set.Records = append(set.Records, in.Records...)
		}
	default:
		joined, err := Join(inputs, s.cfg.JoinRole, JoinOptions{MaxMatchesPerKey: s.cfg.MaxMatchesPerKey})
		if err != nil {
			return AnalysisSet{}, err
		}
		for _, w := range joined.Warnings {
			s.logger.Warn("join warning",
				zap.String("kind", string(w.Kind)),
				zap.String("table", w.Table),
				zap.String("message", w.Message))
		}
		set.Joined = &joined
		set.Records = joined.Records
		set.Warnings = append(set.Warnings, joined.Warnings...)
	}
	s.cache.put(key, set)
	return set, nil
}

// Joined returns the join report of the current dataset. It wraps ErrNoUsableTables when
// fewer than two tables are usable or the session appends instead of joining.
func (s *Session) Joined() (JoinedDataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.datasetLocked()
	if err != nil {
		return JoinedDataset{}, err
	}
	if set.Joined == nil {
		return JoinedDataset{}, fmt.Errorf("%w: a join needs two or more mapped tables and combine mode %q",
			ErrNoUsableTables, CombineJoin)
	}
	return *set.Joined, nil
}

// Consensus analyzes agreement over the current dataset.
func (s *Session) Consensus() (ConsensusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consensusLocked()
}

func (s *Session) consensusLocked() (ConsensusReport, error) {
	key := memoKey("consensus", s.datasetKey(), s.consensusVersion, s.cfg.Consensus.RaterRole)
	if v, ok := s.cache.get(key); ok {
		return v.(ConsensusReport), nil
	}
	set, err := s.datasetLocked()
	if err != nil {
		return ConsensusReport{}, err
	}
	report := AnalyzeConsensus(set.Records, s.cfg.Consensus)
	s.logger.Debug("consensus computed",
		zap.Int("groups", len(report.Groups)),
		zap.Int("singleReviewer", report.SingleReviewer),
		zap.Int("missingTaskId", report.MissingTaskID))
	s.cache.put(key, report)
	return report, nil
}

// Aggregates returns the summary tables of the current dataset.
func (s *Session) Aggregates() (Aggregates, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregatesLocked()
}

func (s *Session) aggregatesLocked() (Aggregates, error) {
	key := memoKey("aggregates", s.datasetKey(), s.consensusVersion, s.aggregateVersion)
	if v, ok := s.cache.get(key); ok {
		return v.(Aggregates), nil
	}
	set, err := s.datasetLocked()
	if err != nil {
		return Aggregates{}, err
	}
	consensus, err := s.consensusLocked()
	if err != nil {
		return Aggregates{}, err
	}
	agg := Aggregate(set.Records, &consensus, s.cfg.Aggregate)
	s.cache.put(key, agg)
	return agg, nil
}

// TableSnapshot is the per-table part of a Snapshot.
type TableSnapshot struct {
	TableInfo
	Mapping ColumnMapping   `json:"mapping"`
	Stats   *NormalizeStats `json:"stats,omitempty"`
	Gaps    []Role          `json:"gaps,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Snapshot is the serializable state of a session for dashboards, export writers and
// configuration assistants.
type Snapshot struct {
	Config      Config             `json:"config"`
	ProjectType ProjectTypeConfig  `json:"projectType"`
	QualityType QualityTypeConfig  `json:"qualityType"`
	Tables      []TableSnapshot    `json:"tables"`
	Records     []NormalizedRecord `json:"records"`
	Joined      *JoinedDataset     `json:"joined,omitempty"`
	Consensus   *ConsensusReport   `json:"consensus,omitempty"`
	Aggregates  *Aggregates        `json:"aggregates,omitempty"`
	Warnings    []Warning          `json:"warnings"`
	Error       string             `json:"error,omitempty"`
}

// Snapshot computes every stage and returns the results. A session with no usable table
// still yields a snapshot; Error explains why the analysis is empty.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Config:      s.configLocked(),
		ProjectType: s.project.clone(),
		QualityType: s.quality.clone(),
		Tables:      make([]TableSnapshot, 0, len(s.tables)),
		Records:     []NormalizedRecord{},
		Warnings:    []Warning{},
	}
	for _, t := range s.tables {
		ts := TableSnapshot{TableInfo: t.Info(), Mapping: s.mappings[t.ID()].Clone(), Gaps: s.mappings[t.ID()].Gaps()}
		res, err := s.normalizedLocked(t)
		if err != nil {
			ts.Error = err.Error()
		} else {
			stats := res.Stats
			ts.Stats = &stats
		}
		snap.Tables = append(snap.Tables, ts)
	}
	set, err := s.datasetLocked()
	if err != nil {
		snap.Error = err.Error()
		return snap
	}
	snap.Records = set.Records
	snap.Joined = set.Joined
	snap.Warnings = append(snap.Warnings, set.Warnings...)
	if consensus, err := s.consensusLocked(); err == nil {
		snap.Consensus = &consensus
	}
	if agg, err := s.aggregatesLocked(); err == nil {
		snap.Aggregates = &agg
	}
	return snap
}

func (s *Session) logGaps(t *RawTable, m ColumnMapping) {
	missing := m.MissingRequired()
	if len(missing) == 0 {
		return
	}
	names := make([]string, len(missing))
	for i, r := range missing {
		names[i] = string(r)
	}
	s.logger.Warn("table needs manual mapping",
		zap.String("table", t.Name()),
		zap.Strings("roles", names))
}

func (s *Session) logConflicts(q QualityTypeConfig) {
	for _, c := range q.Conflicts() {
		s.logger.Warn("label appears in several outcome sets",
			zap.String("qualityType", q.ID),
			zap.String("label", c.Label),
			zap.String("resolvedTo", string(c.ResolvedTo)))
	}
}

func conflictWarning(q QualityTypeConfig, c LabelConflict) Warning {
	return Warning{
		Kind:    WarnConfigurationConflict,
		Message: fmt.Sprintf("label %q of %s is in several outcome sets; treated as %s", c.Label, q.ID, c.ResolvedTo),
	}
}
