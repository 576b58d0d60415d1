package qalens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"Expert_ID":     "expert id",
		"  expert--id ": "expert id",
		"\ufeffTask ID": "task id",
		"\uff31\uff21\u3000\uff33\uff43\uff4f\uff52\uff45": "qa score",
		"": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeHeader(in), in)
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeText(" a\tb\x00  c\n"))
	assert.Equal(t, "major", NormalizeLabel("  MAJOR "))
	assert.Equal(t, "e1", NormalizeKey("\ufeffE1 "))
}

func TestMemoKey(t *testing.T) {
	a := memoKey("stage", "t1", 1)
	assert.Equal(t, a, memoKey("stage", "t1", 1))
	assert.NotEqual(t, a, memoKey("stage", "t1", 2))
	assert.Contains(t, a, "stage:")

	m := newMemo()
	for i := 0; i < memoLimit+3; i++ {
		m.put(memoKey("k", i), i)
	}
	assert.LessOrEqual(t, m.size(), memoLimit)
	v, ok := m.get(memoKey("k", memoLimit+2))
	assert.True(t, ok)
	assert.Equal(t, memoLimit+2, v)
}
