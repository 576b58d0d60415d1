package qalens

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "generic", cfg.ProjectType)
	assert.Equal(t, "numeric_1_5", cfg.QualityType)
	assert.Equal(t, CombineJoin, cfg.Combine)
	assert.Equal(t, RoleExpertID, cfg.JoinRole)
	assert.Equal(t, defaultMaxMatchesPerKey, cfg.MaxMatchesPerKey)
	assert.Equal(t, GranularityWeek, cfg.Aggregate.Granularity)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromYAML(t *testing.T) {
	chdirForTest(t, t.TempDir())
	path := writeFile(t, ".", "qalens.yaml", `
project_type: video_generation
quality_type: severity_labels
combine: append
join_role: taskId
max_matches_per_key: 5
consensus:
  rater_role: reviewer
aggregate:
  granularity: month
  tiering:
    mode: percentile
    min_records: 3
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "video_generation", cfg.ProjectType)
	assert.Equal(t, "severity_labels", cfg.QualityType)
	assert.Equal(t, CombineAppend, cfg.Combine)
	assert.Equal(t, RoleTaskID, cfg.JoinRole)
	assert.Equal(t, 5, cfg.MaxMatchesPerKey)
	assert.Equal(t, RoleReviewer, cfg.Consensus.RaterRole)
	assert.Equal(t, GranularityMonth, cfg.Aggregate.Granularity)
	assert.Equal(t, TierPercentile, cfg.Aggregate.Tiering.Mode)
	assert.Equal(t, 3, cfg.Aggregate.Tiering.MinRecords)
	assert.Len(t, cfg.Aggregate.Tiering.Tiers, 4)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	chdirForTest(t, t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	chdirForTest(t, t.TempDir())
	path := writeFile(t, ".", "bad.yaml", "combine: zip\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"QALENS_PROJECT_TYPE": " code_review ",
		"QALENS_JOIN_ROLE":    "taskId",
		"QALENS_GRANULARITY":  "DAY",
		"QALENS_MAX_MATCHES":  "7",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	var cfg Config
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "code_review", cfg.ProjectType)
	assert.Equal(t, RoleTaskID, cfg.JoinRole)
	assert.Equal(t, GranularityDay, cfg.Aggregate.Granularity)
	assert.Equal(t, 7, cfg.MaxMatchesPerKey)

	env["QALENS_MAX_MATCHES"] = "lots"
	assert.Error(t, cfg.ApplyEnv(lookup))
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	chdirForTest(t, t.TempDir())
	t.Setenv("QALENS_QUALITY_TYPE", "")
	require.NoError(t, os.Unsetenv("QALENS_QUALITY_TYPE"))
	writeFile(t, ".", ".env", "QALENS_QUALITY_TYPE=pass_fail\n")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "pass_fail", cfg.QualityType)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	chdirForTest(t, t.TempDir())
	path := filepath.Join("nested", "qalens.yaml")
	cfg := DefaultConfig()
	cfg.ProjectType = "llm_preference"
	cfg.QualityOverride = &QualityTypeConfig{ID: "custom", FailLabels: []string{"bad"}}
	require.NoError(t, SaveConfig(path, cfg))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestCatalogDefaults(t *testing.T) {
	c := DefaultCatalog()
	ids := func(n int, get func(int) string) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = get(i)
		}
		return out
	}
	projects := c.ProjectTypes()
	assert.Contains(t, ids(len(projects), func(i int) string { return projects[i].ID }), "video_generation")
	qualities := c.QualityTypes()
	assert.Contains(t, ids(len(qualities), func(i int) string { return qualities[i].ID }), "severity_labels")

	_, err := c.ProjectType("nope")
	assert.ErrorIs(t, err, ErrUnknownProjectType)
	_, err = c.QualityType("nope")
	assert.ErrorIs(t, err, ErrUnknownQualityType)

	for _, q := range qualities {
		assert.Empty(t, q.Conflicts(), q.ID)
	}
}

func TestCatalogLookupsAreCopies(t *testing.T) {
	c := DefaultCatalog()
	q, err := c.QualityType("pass_fail")
	require.NoError(t, err)
	q.PassLabels[0] = "tampered"
	again, err := c.QualityType("pass_fail")
	require.NoError(t, err)
	assert.Equal(t, "pass", again.PassLabels[0])
}

func TestLoadCatalogFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "catalog.yaml", `
project_types:
  - id: robotics
    name: Robotics Teleop
    aliases:
      expertId: [operator_id]
      score: [episode_grade]
quality_types:
  - id: numeric_1_5
    name: Stricter 1-5
    is_numeric: true
    fail_threshold: 3
    minor_threshold: 4
`)
	c, err := LoadCatalogFile(path)
	require.NoError(t, err)

	robotics, err := c.ProjectType("robotics")
	require.NoError(t, err)
	m := DetectColumns([]string{"Operator ID", "Episode Grade"}, robotics)
	assert.Empty(t, m.MissingRequired())

	q, err := c.QualityType("numeric_1_5")
	require.NoError(t, err)
	assert.Equal(t, 3.0, q.FailThreshold)
	_, err = c.ProjectType("video_generation")
	assert.NoError(t, err, "built-ins stay available")

	bad := writeFile(t, t.TempDir(), "bad.yaml", "project_types:\n  - id: x\n    aliases:\n      colour: [c]\n")
	_, err = LoadCatalogFile(bad)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

// chdirForTest mirrors testing.T.Chdir (Go 1.24+) for older toolchains:
// it changes the working directory and restores it when the test ends.
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
