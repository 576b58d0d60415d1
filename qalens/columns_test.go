package qalens

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustProject(t *testing.T, id string) ProjectTypeConfig {
	t.Helper()
	pt, err := DefaultCatalog().ProjectType(id)
	require.NoError(t, err)
	return pt
}

func TestDetectColumnsVideoExport(t *testing.T) {
	headers := []string{"srt_id", "score", "auditor", "error_category", "timestamp"}
	got := DetectColumns(headers, mustProject(t, "video_generation"))

	want := map[Role]MappingEntry{
		RoleExpertID:  {Column: "srt_id", Confidence: 1, Origin: OriginDetected},
		RoleScore:     {Column: "score", Confidence: 1, Origin: OriginDetected},
		RoleReviewer:  {Column: "auditor", Confidence: 1, Origin: OriginDetected},
		RoleCategory:  {Column: "error_category", Confidence: 1, Origin: OriginDetected},
		RoleTimestamp: {Column: "timestamp", Confidence: 1, Origin: OriginDetected},
		RoleTaskID:    {},
	}
	if diff := cmp.Diff(want, got.Entries); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []Role{RoleTaskID}, got.Gaps())
	assert.Empty(t, got.MissingRequired())
	assert.Equal(t, "video_generation", got.ProjectType)
}

func TestDetectColumnsIsDeterministic(t *testing.T) {
	headers := []string{"Task ID", "Annotator", "QA Score", "Reviewer", "Created At", "Notes"}
	pt := mustProject(t, "generic")
	first := DetectColumns(headers, pt)
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(first, DetectColumns(headers, pt)); diff != "" {
			t.Fatalf("run %d differs:\n%s", i, diff)
		}
	}
}

func TestDetectColumnsHeaderVariants(t *testing.T) {
	pt := mustProject(t, "generic")
	got := DetectColumns([]string{"  EXPERT-ID ", "Quality  Score"}, pt)
	assert.Equal(t, "  EXPERT-ID ", got.Column(RoleExpertID))
	assert.Equal(t, 1.0, got.Entries[RoleExpertID].Confidence)
	assert.Equal(t, "Quality  Score", got.Column(RoleScore))
}

func TestDetectColumnsSubstringFallback(t *testing.T) {
	pt := mustProject(t, "generic")
	got := DetectColumns([]string{"final expert name", "overall rating (1-5)"}, pt)

	assert.Equal(t, "final expert name", got.Column(RoleExpertID))
	assert.Equal(t, confidenceSubstring, got.Entries[RoleExpertID].Confidence)
	assert.Equal(t, "overall rating (1-5)", got.Column(RoleScore))
	assert.Equal(t, confidenceSubstring, got.Entries[RoleScore].Confidence)
}

func TestDetectColumnsExactBeatsEarlierSubstring(t *testing.T) {
	pt := mustProject(t, "generic")
	// "reviewer score" would satisfy score by substring, but the exact "score" column wins
	// and the reviewer role keeps its own exact match.
	got := DetectColumns([]string{"reviewer score", "score", "reviewer", "expert_id"}, pt)
	assert.Equal(t, "score", got.Column(RoleScore))
	assert.Equal(t, "reviewer", got.Column(RoleReviewer))
	assert.Equal(t, "expert_id", got.Column(RoleExpertID))
}

func TestDetectColumnsNeverClaimsTwice(t *testing.T) {
	pt := mustProject(t, "generic")
	got := DetectColumns([]string{"expert score"}, pt)

	claimed := 0
	for _, role := range AllRoles() {
		if got.Entries[role].Mapped() {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed)
}

func TestDetectColumnsReportsGaps(t *testing.T) {
	got := DetectColumns([]string{"foo", "bar"}, mustProject(t, "generic"))
	assert.Equal(t, AllRoles(), got.Gaps())
	assert.Equal(t, RequiredRoles(), got.MissingRequired())
}

func TestApplyEdit(t *testing.T) {
	headers := []string{"who", "grade", "when"}
	base := DetectColumns(headers, mustProject(t, "generic"))
	base.Version = 1

	t.Run("by name", func(t *testing.T) {
		got, err := base.ApplyEdit(headers, MappingEdit{Role: RoleExpertID, Column: "WHO"})
		require.NoError(t, err)
		assert.Equal(t, "who", got.Column(RoleExpertID))
		assert.Equal(t, OriginManual, got.Entries[RoleExpertID].Origin)
		assert.Equal(t, 2, got.Version)
		assert.Equal(t, 1, base.Version, "receiver must not change")
	})

	t.Run("by index from assistant", func(t *testing.T) {
		got, err := base.ApplyEdit(headers, MappingEdit{Role: RoleTimestamp, Column: "#3", Origin: OriginAssistant})
		require.NoError(t, err)
		assert.Equal(t, "when", got.Column(RoleTimestamp))
		assert.Equal(t, OriginAssistant, got.Entries[RoleTimestamp].Origin)
	})

	t.Run("unmap", func(t *testing.T) {
		got, err := base.ApplyEdit(headers, MappingEdit{Role: RoleScore})
		require.NoError(t, err)
		assert.False(t, got.Entries[RoleScore].Mapped())
		assert.Contains(t, got.MissingRequired(), RoleScore)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := base.ApplyEdit(headers, MappingEdit{Role: "nope", Column: "who"})
		assert.ErrorIs(t, err, ErrUnknownRole)
		_, err = base.ApplyEdit(headers, MappingEdit{Role: RoleScore, Column: "missing"})
		assert.ErrorIs(t, err, ErrUnknownColumn)
		_, err = base.ApplyEdit(headers, MappingEdit{Role: RoleScore, Column: "#9"})
		assert.ErrorIs(t, err, ErrUnknownColumn)
		_, err = base.ApplyEdit(headers, MappingEdit{Role: RoleScore, Column: "#0"})
		assert.Error(t, err)
		_, err = base.ApplyEdit(headers, MappingEdit{Role: RoleScore, Column: "who", Origin: OriginDetected})
		assert.Error(t, err)
	})
}
