package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yashubustudio/qalens/qalens"
)

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseMappingOverride(t *testing.T) {
	tests := []struct {
		in   string
		want MappingOverride
	}{
		{"expertId=person", MappingOverride{Role: qalens.RoleExpertID, Column: "person"}},
		{"expert_id = Person Name", MappingOverride{Role: qalens.RoleExpertID, Column: "Person Name"}},
		{"roster.csv:taskid=#2", MappingOverride{Table: "roster.csv", Role: qalens.RoleTaskID, Column: "#2"}},
		{"score=", MappingOverride{Role: qalens.RoleScore}},
	}
	for _, tt := range tests {
		got, err := ParseMappingOverride(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseMappingOverride("expertId")
	assert.Error(t, err)
	_, err = ParseMappingOverride("colour=x")
	assert.ErrorIs(t, err, qalens.ErrUnknownRole)

	all, err := ParseMappingOverrides([]string{"", "score=grade"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestServiceLoadPathsAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.csv", "person,score\nE1,4\n")
	b := writeTemp(t, dir, "b.csv", "person,grade_value\nE1,2\n")

	overrides := []MappingOverride{
		{Role: qalens.RoleExpertID, Column: "person"},
		{Table: "b.csv", Role: qalens.RoleScore, Column: "grade_value"},
		{Table: "b.csv", Role: qalens.RoleCategory, Column: "missing"},
	}
	svc, err := NewService(qalens.Config{}, overrides, zap.NewNop())
	require.NoError(t, err)

	infos, err := svc.LoadPaths(context.Background(), []string{a, b})
	require.NoError(t, err)
	require.Len(t, infos, 2)

	mb, err := svc.Session().Mapping(infos[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "person", mb.Column(qalens.RoleExpertID))
	assert.Equal(t, "grade_value", mb.Column(qalens.RoleScore))
	assert.Empty(t, mb.Column(qalens.RoleCategory))

	set, err := svc.Session().Dataset()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv", "b.csv"}, set.Tables)
	assert.Len(t, svc.Files(), 2)
}

func TestServiceReloadAndForget(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "scores.csv", "expert_id,score\nE1,4\n")
	svc, err := NewService(qalens.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	_, err = svc.LoadPaths(context.Background(), []string{path})
	require.NoError(t, err)

	writeTemp(t, dir, "scores.csv", "expert_id,score\nE1,4\nE2,1\n")
	require.NoError(t, svc.Reload(context.Background(), path))
	tables := svc.Session().Tables()
	require.Len(t, tables, 1)
	assert.Equal(t, 2, tables[0].Rows)

	require.NoError(t, svc.Forget(path))
	assert.Empty(t, svc.Session().Tables())
	assert.NoError(t, svc.Forget(path), "forgetting twice is harmless")
}

func TestServiceUsesCatalogFile(t *testing.T) {
	dir := t.TempDir()
	catalog := writeTemp(t, dir, "catalog.yaml", `
project_types:
  - id: robotics
    aliases:
      expertId: [operator]
      score: [episode_grade]
`)
	svc, err := NewService(qalens.Config{CatalogPath: catalog, ProjectType: "robotics"}, nil, zap.NewNop())
	require.NoError(t, err)
	_, mapping, err := svc.Upload(context.Background(), "ep.csv", "", strings.NewReader("operator,episode_grade\nO1,5\n"))
	require.NoError(t, err)
	assert.Empty(t, mapping.MissingRequired())

	_, err = NewService(qalens.Config{CatalogPath: filepath.Join(dir, "none.yaml")}, nil, nil)
	assert.Error(t, err)
}

func TestEnsureConfigFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "conf", "qalens.yaml")
	wrote, err := EnsureConfigFile(cfgPath)
	require.NoError(t, err)
	assert.True(t, wrote)
	wrote, err = EnsureConfigFile(cfgPath)
	require.NoError(t, err)
	assert.False(t, wrote, "existing files are left alone")

	cfg, err := qalens.LoadConfig(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "generic", cfg.ProjectType)

	catPath := filepath.Join(dir, "catalog.yaml")
	_, err = EnsureCatalogFile(catPath)
	require.NoError(t, err)
	c, err := qalens.LoadCatalogFile(catPath)
	require.NoError(t, err)
	assert.Equal(t, len(qalens.DefaultCatalog().ProjectTypes()), len(c.ProjectTypes()))

	_, err = EnsureConfigFile("  ")
	assert.Error(t, err)
}
