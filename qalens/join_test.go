package qalens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(table string, row int, expert string, outcome Outcome) NormalizedRecord {
	return NormalizedRecord{TableID: table + "-id", TableName: table, RowIndex: row, ExpertID: expert, Outcome: outcome, RawScore: "x"}
}

func TestJoinExpandsAndReports(t *testing.T) {
	base := JoinInput{TableName: "scores", Records: []NormalizedRecord{
		rec("scores", 0, "E1", OutcomePass),
		rec("scores", 1, "E2", OutcomeFail),
		rec("scores", 2, "E9", OutcomeMinor),
	}}
	right := JoinInput{TableName: "roster", Records: []NormalizedRecord{
		{TableName: "roster", RowIndex: 0, ExpertID: "e1", Category: "blur"},
		{TableName: "roster", RowIndex: 1, ExpertID: "E1 ", Category: "motion"},
		{TableName: "roster", RowIndex: 2, ExpertID: "E2", Category: "audio"},
		{TableName: "roster", RowIndex: 3, ExpertID: "E7", Category: "other"},
	}}

	ds, err := Join([]JoinInput{base, right}, RoleExpertID, JoinOptions{})
	require.NoError(t, err)

	require.Len(t, ds.Records, 4)
	assert.Equal(t, 3, ds.BaseRows)
	assert.Equal(t, 1, ds.Expansions)
	assert.Equal(t, len(ds.Records), ds.BaseRows+ds.Expansions)
	assert.Equal(t, []string{"scores", "roster"}, ds.Tables)

	assert.Equal(t, "blur", ds.Records[0].Category)
	assert.Equal(t, "motion", ds.Records[1].Category)
	assert.Equal(t, 0, ds.Records[1].RowIndex, "expansions keep base provenance")
	assert.Equal(t, "audio", ds.Records[2].Category)
	assert.Equal(t, OutcomeFail, ds.Records[2].Outcome)
	assert.Equal(t, "E9", ds.Records[3].ExpertID)
	assert.Empty(t, ds.Records[3].Matched)

	assert.Equal(t, "blur", ds.Records[0].Extra["roster.category"])
	require.Len(t, ds.Records[0].Matched, 1)
	assert.Equal(t, Provenance{TableName: "roster", RowIndex: 0}, ds.Records[0].Matched[0])

	require.Len(t, ds.UnmatchedBase, 1)
	assert.Equal(t, "E9", ds.UnmatchedBase[0].Key)
	assert.Equal(t, 2, ds.UnmatchedBase[0].RowIndex)
	assert.Equal(t, "roster", ds.UnmatchedBase[0].Against)

	require.Len(t, ds.UnmatchedRight, 1)
	assert.Equal(t, "E7", ds.UnmatchedRight[0].Key)
	assert.Empty(t, ds.Warnings)
}

func TestJoinDuplicateKeysDoubleRows(t *testing.T) {
	base := JoinInput{TableName: "a", Records: []NormalizedRecord{rec("a", 0, "E1", OutcomePass), rec("a", 1, "E1", OutcomeFail)}}
	right := JoinInput{TableName: "b", Records: []NormalizedRecord{rec("b", 0, "E1", OutcomePass), rec("b", 1, "E1", OutcomeMinor)}}

	ds, err := Join([]JoinInput{base, right}, RoleExpertID, JoinOptions{})
	require.NoError(t, err)
	assert.Len(t, ds.Records, 4)
	assert.Equal(t, 2, ds.Expansions)
	assert.Equal(t, "minor", ds.Records[1].Extra["b.outcome"])
}

func TestJoinBaseRolesWin(t *testing.T) {
	base := JoinInput{TableName: "a", Records: []NormalizedRecord{{TableName: "a", ExpertID: "E1", Category: "mine", Outcome: OutcomePass}}}
	right := JoinInput{TableName: "b", Records: []NormalizedRecord{{TableName: "b", ExpertID: "E1", Category: "theirs", TaskID: "T1", Outcome: OutcomeFail}}}

	ds, err := Join([]JoinInput{base, right}, RoleExpertID, JoinOptions{})
	require.NoError(t, err)
	require.Len(t, ds.Records, 1)
	got := ds.Records[0]
	assert.Equal(t, "mine", got.Category)
	assert.Equal(t, "T1", got.TaskID)
	assert.Equal(t, OutcomePass, got.Outcome)
	assert.Equal(t, "theirs", got.Extra["b.category"])
}

func TestJoinKeyMismatchWarns(t *testing.T) {
	base := JoinInput{TableName: "a", Records: []NormalizedRecord{rec("a", 0, "E1", OutcomePass)}}
	right := JoinInput{TableName: "b", Records: []NormalizedRecord{rec("b", 0, "1001", OutcomePass)}}

	ds, err := Join([]JoinInput{base, right}, RoleExpertID, JoinOptions{})
	require.NoError(t, err)
	require.Len(t, ds.Warnings, 1)
	assert.Equal(t, WarnJoinKeyMismatch, ds.Warnings[0].Kind)
	assert.Equal(t, "b", ds.Warnings[0].Table)
	assert.Len(t, ds.Records, 1, "unmatched base rows are kept")
}

func TestJoinCapsExpansion(t *testing.T) {
	base := JoinInput{TableName: "a", Records: []NormalizedRecord{rec("a", 0, "E1", OutcomePass), rec("a", 1, "E1", OutcomePass)}}
	var many []NormalizedRecord
	for i := 0; i < 5; i++ {
		many = append(many, rec("b", i, "E1", OutcomePass))
	}
	right := JoinInput{TableName: "b", Records: many}

	ds, err := Join([]JoinInput{base, right}, RoleExpertID, JoinOptions{MaxMatchesPerKey: 3})
	require.NoError(t, err)
	assert.Len(t, ds.Records, 6)
	require.Len(t, ds.Capped, 1, "one cap entry per key")
	assert.Equal(t, ExpansionCap{Table: "b", Key: "E1", Matches: 5, Kept: 3, Dropped: []Provenance{
		{TableID: "b-id", TableName: "b", RowIndex: 3},
		{TableID: "b-id", TableName: "b", RowIndex: 4},
	}}, ds.Capped[0])
	require.Len(t, ds.Warnings, 1)
	assert.Equal(t, WarnExpansionCapped, ds.Warnings[0].Kind)
	assert.Empty(t, ds.UnmatchedRight, "rows beyond the cap still matched")
}

func TestJoinChainsTables(t *testing.T) {
	a := JoinInput{TableName: "a", Records: []NormalizedRecord{rec("a", 0, "E1", OutcomePass), rec("a", 1, "E2", OutcomePass)}}
	b := JoinInput{TableName: "b", Records: []NormalizedRecord{{TableName: "b", ExpertID: "E1", Reviewer: "R1"}, {TableName: "b", ExpertID: "E1", Reviewer: "R2"}}}
	c := JoinInput{TableName: "c", Records: []NormalizedRecord{{TableName: "c", ExpertID: "E2", Category: "blur"}}}

	ds, err := Join([]JoinInput{a, b, c}, RoleExpertID, JoinOptions{})
	require.NoError(t, err)
	require.Len(t, ds.Records, 3)
	assert.Equal(t, "R1", ds.Records[0].Reviewer)
	assert.Equal(t, "R2", ds.Records[1].Reviewer)
	assert.Equal(t, "blur", ds.Records[2].Category)

	// Each base row is reported once per table it misses.
	require.Len(t, ds.UnmatchedBase, 2)
	assert.Equal(t, UnmatchedRow{Provenance: Provenance{TableID: "a-id", TableName: "a", RowIndex: 1}, Key: "E2", Against: "b"}, ds.UnmatchedBase[0])
	assert.Equal(t, UnmatchedRow{Provenance: Provenance{TableID: "a-id", TableName: "a", RowIndex: 0}, Key: "E1", Against: "c"}, ds.UnmatchedBase[1])
}

func TestJoinDoesNotMutateInputs(t *testing.T) {
	base := JoinInput{TableName: "a", Records: []NormalizedRecord{rec("a", 0, "E1", OutcomePass)}}
	right := JoinInput{TableName: "b", Records: []NormalizedRecord{{TableName: "b", ExpertID: "E1", Category: "blur"}}}
	_, err := Join([]JoinInput{base, right}, RoleExpertID, JoinOptions{})
	require.NoError(t, err)
	assert.Empty(t, base.Records[0].Category)
	assert.Nil(t, base.Records[0].Extra)
}

func TestJoinRejectsBadInput(t *testing.T) {
	_, err := Join([]JoinInput{{TableName: "only"}}, RoleExpertID, JoinOptions{})
	assert.Error(t, err)
	_, err = Join([]JoinInput{{TableName: "a"}, {TableName: "b"}}, Role("email"), JoinOptions{})
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestKeyIndex(t *testing.T) {
	idx := NewKeyIndex([]NormalizedRecord{
		{ExpertID: "A"}, {ExpertID: ""}, {ExpertID: " a"}, {ExpertID: "B"},
	}, RoleExpertID)
	assert.Equal(t, []int{0, 2}, idx.Lookup("a"))
	assert.Nil(t, idx.Lookup(""))
	assert.Equal(t, 3, idx.Size())
	assert.Equal(t, 2, idx.Keys())
}
