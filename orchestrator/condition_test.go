package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateConditionComparisons(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{"5 > 3", true},
		{"5 < 3", false},
		{"'done' == 'done'", true},
		{"'done' == 'pending'", false},
		{"true AND false", false},
		{"true OR false", true},
		{"NOT false", true},
		{"(5 > 3) AND ('x' == 'x')", true},
		{"(5 > 3) AND NOT ('x' == 'x')", false},
		{"3 >= 3", true},
		{"3 <= 2", false},
	}
	for _, tc := range cases {
		got, err := EvaluateCondition(tc.expr)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvaluateConditionTruthyBareValue(t *testing.T) {
	got, err := EvaluateCondition("true")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvaluateCondition("false")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEvaluateConditionRejectsGarbage(t *testing.T) {
	_, err := EvaluateCondition("5 > 3 ) extra")
	assert.Error(t, err)
}
