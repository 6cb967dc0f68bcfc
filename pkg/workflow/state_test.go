package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMergeWriteOnce(t *testing.T) {
	s := NewState().Merge(NewDelta().Set("intent", "recommend"))

	// A later Set on an already-set field is ignored.
	s = s.Merge(NewDelta().Set("intent", "reject"))
	assert.Equal(t, "recommend", s.String("intent"))
}

func TestStateMergeOverwrite(t *testing.T) {
	s := NewState().Merge(NewDelta().Set("rounds", 1))

	s = s.Merge(NewDelta().Overwrite("rounds", 2))
	assert.Equal(t, 2, s.Int("rounds"))
}

func TestStateMergeDoesNotMutateReceiver(t *testing.T) {
	s1 := NewState().Merge(NewDelta().Set("a", "x"))
	s2 := s1.Merge(NewDelta().Set("b", "y"))

	assert.False(t, s1.Has("b"))
	assert.True(t, s2.Has("a"))
	assert.True(t, s2.Has("b"))
}

func TestStateAccessors(t *testing.T) {
	s := NewState().Merge(NewDelta().
		Set("name", "jarijaba").
		Set("count", 3).
		Set("ratio", 1.5))

	assert.Equal(t, "jarijaba", s.String("name"))
	assert.Equal(t, 3, s.Int("count"))
	assert.Equal(t, 1, s.Int("ratio"))
	assert.Equal(t, "", s.String("missing"))
	assert.Equal(t, 0, s.Int("missing"))

	v, ok := s.Get("name")
	require.True(t, ok)
	assert.Equal(t, "jarijaba", v)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStateFieldsSorted(t *testing.T) {
	s := NewState().Merge(NewDelta().
		Set("zebra", 1).
		Set("alpha", 2).
		Set("mid", 3))

	assert.Equal(t, []Field{"alpha", "mid", "zebra"}, s.Fields())
}

func TestStateHashStable(t *testing.T) {
	s1 := NewState().Merge(NewDelta().Set("a", "x").Set("b", 2))
	s2 := NewState().Merge(NewDelta().Set("b", 2).Set("a", "x"))

	// Identical contents hash identically regardless of insertion order.
	assert.Equal(t, s1.Hash(), s2.Hash())
	assert.True(t, s1.Equal(s2))

	s3 := s1.Merge(NewDelta().Set("c", true))
	assert.NotEqual(t, s1.Hash(), s3.Hash())
	assert.False(t, s1.Equal(s3))
}

func TestStateMarshalJSON(t *testing.T) {
	s := NewState().Merge(NewDelta().Set("query", "강남 맛집"))

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"강남 맛집"}`, string(data))
}

func TestDeltaEmpty(t *testing.T) {
	assert.True(t, NewDelta().Empty())
	assert.False(t, NewDelta().Set("a", 1).Empty())
}
