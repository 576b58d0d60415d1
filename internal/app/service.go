package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"yashubustudio/qalens/qalens"
)

// Service ties file loading, mapping overrides and the analysis session together.
type Service struct {
	mu        sync.Mutex
	cfg       qalens.Config
	session   *qalens.Session
	logger    *zap.Logger
	overrides []MappingOverride
	files     map[string]string
}

// NewService loads the catalog named by cfg and starts an empty session.
func NewService(cfg qalens.Config, overrides []MappingOverride, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	catalog, err := qalens.LoadCatalogFile(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	session, err := qalens.NewSession(catalog, cfg, logger.Named("session"))
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:       cfg,
		session:   session,
		logger:    logger,
		overrides: append([]MappingOverride(nil), overrides...),
		files:     make(map[string]string),
	}, nil
}

// Session returns the analysis session.
func (s *Service) Session() *qalens.Session {
	return s.session
}

// LoadPaths parses every file concurrently and adds the tables in argument order.
func (s *Service) LoadPaths(ctx context.Context, paths []string) ([]qalens.TableInfo, error) {
	tables, err := qalens.LoadFiles(ctx, paths, s.cfg.Load)
	if err != nil {
		return nil, err
	}
	out := make([]qalens.TableInfo, 0, len(tables))
	for i, t := range tables {
		s.addTable(paths[i], t)
		out = append(out, t.Info())
	}
	return out, nil
}

// Upload parses an uploaded body and adds it as a table. An empty format is inferred
// from name.
func (s *Service) Upload(ctx context.Context, name string, format qalens.Format, r io.Reader) (qalens.TableInfo, qalens.ColumnMapping, error) {
	if format == "" {
		f, err := qalens.FormatFromPath(name)
		if err != nil {
			return qalens.TableInfo{}, qalens.ColumnMapping{}, err
		}
		format = f
	}
	t, err := qalens.LoadReader(ctx, name, r, format, s.cfg.Load)
	if err != nil {
		return qalens.TableInfo{}, qalens.ColumnMapping{}, err
	}
	mapping := s.addTable("", t)
	return t.Info(), mapping, nil
}

// Reload re-reads a file that changed on disk. The new table replaces the old one.
func (s *Service) Reload(ctx context.Context, path string) error {
	t, err := qalens.LoadFile(ctx, path, s.cfg.Load)
	if err != nil {
		return err
	}
	s.addTable(path, t)
	s.logger.Info("file reloaded", zap.String("path", path), zap.Int("rows", t.Len()))
	return nil
}

// Forget removes the table loaded from a file that disappeared.
func (s *Service) Forget(path string) error {
	key := fileKey(path)
	s.mu.Lock()
	id, ok := s.files[key]
	delete(s.files, key)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	err := s.session.RemoveTable(id)
	if errors.Is(err, qalens.ErrUnknownTable) {
		return nil
	}
	return err
}

func (s *Service) addTable(path string, t *qalens.RawTable) qalens.ColumnMapping {
	mapping := s.session.AddTable(t)
	if path != "" {
		s.mu.Lock()
		s.files[fileKey(path)] = t.ID()
		s.mu.Unlock()
	}
	return s.applyOverrides(t, mapping)
}

// applyOverrides pins user supplied columns. A table-scoped override that names a missing
// column is logged at warn level; a global one is only skipped.
func (s *Service) applyOverrides(t *qalens.RawTable, mapping qalens.ColumnMapping) qalens.ColumnMapping {
	s.mu.Lock()
	overrides := append([]MappingOverride(nil), s.overrides...)
	s.mu.Unlock()
	for _, o := range overrides {
		if !o.appliesTo(t.Name()) {
			continue
		}
		updated, err := s.session.ApplyMappingEdit(t.ID(), qalens.MappingEdit{Role: o.Role, Column: o.Column, Origin: qalens.OriginManual})
		if err != nil {
			if o.Table != "" {
				s.logger.Warn("mapping override not applied",
					zap.String("table", t.Name()),
					zap.String("role", string(o.Role)),
					zap.Error(err))
			} else {
				s.logger.Debug("global mapping override skipped",
					zap.String("table", t.Name()),
					zap.String("role", string(o.Role)),
					zap.Error(err))
			}
			continue
		}
		mapping = updated
	}
	return mapping
}

// Files lists the watched file paths currently backing a table.
func (s *Service) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for path := range s.files {
		out = append(out, path)
	}
	return out
}

// SaveConfig persists the session's current settings.
func (s *Service) SaveConfig(path string) error {
	if err := qalens.SaveConfig(path, s.session.Config()); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func fileKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(path)
}
